package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionMode controls whether segment executors call real providers or
// compute deterministic outcomes locally.
type ExecutionMode string

const (
	ModeSimulation ExecutionMode = "simulation"
	ModeReal       ExecutionMode = "real"
)

// Weights is the (alpha, beta, gamma) objective triple for the selector.
// Alpha weighs cost, beta latency, gamma reliability.
type Weights struct {
	Alpha float64 `yaml:"alpha" json:"alpha"`
	Beta  float64 `yaml:"beta" json:"beta"`
	Gamma float64 `yaml:"gamma" json:"gamma"`
}

// Validate requires non-negative components summing to 1
func (w Weights) Validate() error {
	if w.Alpha < 0 || w.Beta < 0 || w.Gamma < 0 {
		return fmt.Errorf("objective weights must be non-negative")
	}
	sum := w.Alpha + w.Beta + w.Gamma
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("objective weights sum to %.3f, expected 1.000", sum)
	}
	return nil
}

// RerouteThresholds gate the between-segment reroute check
type RerouteThresholds struct {
	CostPercentDrop float64 `yaml:"cost_percent_drop"`
	ETAPercentDrop  float64 `yaml:"eta_percent_drop"`
	ReliabilityRise float64 `yaml:"reliability_rise"`
}

// RefreshPeriods holds the per-cadence-class refresh periods in seconds
type RefreshPeriods struct {
	FastSeconds     int `yaml:"fast_seconds"`
	SlowSeconds     int `yaml:"slow_seconds"`
	SnapshotSeconds int `yaml:"snapshot_seconds"`
}

// RoutingConfig parameterizes the graph builder, enumerator and selector
type RoutingConfig struct {
	MaxHops          int            `yaml:"max_hops"`
	TopK             int            `yaml:"top_k"`
	ReliabilityFloor float64        `yaml:"reliability_floor"`
	Weights          Weights        `yaml:"objective_weights"`
	ClassCaps        map[string]int `yaml:"class_caps"` // per-path maxima, e.g. bridge: 1
	// AllowIdentityRoute makes source == target (same network) return a
	// zero-segment route instead of NoRouteFound.
	AllowIdentityRoute bool `yaml:"allow_identity_route"`
}

// ExecutionConfig parameterizes the orchestrator and segment executors
type ExecutionConfig struct {
	Mode              ExecutionMode      `yaml:"execution_mode"`
	HistoryCap        int                `yaml:"execution_history_cap"`
	Reroute           RerouteThresholds  `yaml:"reroute_thresholds"`
	RerouteEnabled    bool               `yaml:"reroute_enabled"`
	PollInterval      time.Duration      `yaml:"poll_interval"`
	MaxPolls          int                `yaml:"max_polls"`
	SegmentTimeout    time.Duration      `yaml:"segment_timeout"`
	PerClassAmountCap map[string]float64 `yaml:"per_class_amount_cap"`
}

// TransportConfig parameterizes the outbound HTTP transport
type TransportConfig struct {
	Timeout             time.Duration            `yaml:"timeout"`
	RequestsPerSecond   float64                  `yaml:"requests_per_second"`
	Burst               int                      `yaml:"burst"`
	PerProviderTimeouts map[string]time.Duration `yaml:"per_provider_timeouts"`
}

// StorageConfig selects cache and durable store backends
type StorageConfig struct {
	RedisAddr   string `yaml:"redis_addr"`   // empty: in-memory cache
	PostgresDSN string `yaml:"postgres_dsn"` // empty: in-memory store
}

// Config is the full engine configuration
type Config struct {
	Routing        RoutingConfig   `yaml:"routing"`
	Execution      ExecutionConfig `yaml:"execution"`
	Transport      TransportConfig `yaml:"transport"`
	Storage        StorageConfig   `yaml:"storage"`
	Refresh        RefreshPeriods  `yaml:"refresh_periods"`
	RegulatoryPath string          `yaml:"regulatory_path"`
	// CredentialsDir reads provider credentials from mounted files instead
	// of environment variables when set.
	CredentialsDir string `yaml:"credentials_dir"`
	MonitorAddr    string `yaml:"monitor_addr"`
	LogLevel       string `yaml:"log_level"`
	// Targets is the configured asset universe adapters quote over
	Targets []string `yaml:"targets"`
}

// Default returns the configuration used when no file is supplied
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and applies defaults for absent fields
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Routing.Weights.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Routing.MaxHops < 0 {
		return cfg, fmt.Errorf("max_hops must be >= 0")
	}
	if cfg.Routing.ReliabilityFloor < 0 || cfg.Routing.ReliabilityFloor > 1 {
		return cfg, fmt.Errorf("reliability_floor must be in [0,1]")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Routing.MaxHops == 0 {
		c.Routing.MaxHops = 5
	}
	if c.Routing.TopK == 0 {
		c.Routing.TopK = 5
	}
	if c.Routing.ReliabilityFloor == 0 {
		c.Routing.ReliabilityFloor = 0.5
	}
	if c.Routing.Weights == (Weights{}) {
		c.Routing.Weights = Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}
	}
	if c.Routing.ClassCaps == nil {
		c.Routing.ClassCaps = map[string]int{"bridge": 1}
	}
	if c.Execution.Mode == "" {
		c.Execution.Mode = ModeSimulation
	}
	if c.Execution.HistoryCap == 0 {
		c.Execution.HistoryCap = 1000
	}
	if c.Execution.Reroute == (RerouteThresholds{}) {
		c.Execution.Reroute = RerouteThresholds{CostPercentDrop: 5, ETAPercentDrop: 20, ReliabilityRise: 0.1}
	}
	if c.Execution.PollInterval == 0 {
		c.Execution.PollInterval = 5 * time.Second
	}
	if c.Execution.MaxPolls == 0 {
		c.Execution.MaxPolls = 30
	}
	if c.Execution.SegmentTimeout == 0 {
		c.Execution.SegmentTimeout = 5 * time.Minute
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 10 * time.Second
	}
	if c.Transport.RequestsPerSecond == 0 {
		c.Transport.RequestsPerSecond = 5
	}
	if c.Transport.Burst == 0 {
		c.Transport.Burst = 10
	}
	if c.Refresh.FastSeconds == 0 {
		c.Refresh.FastSeconds = 2
	}
	if c.Refresh.SlowSeconds == 0 {
		c.Refresh.SlowSeconds = 30
	}
	if c.Refresh.SnapshotSeconds == 0 {
		c.Refresh.SnapshotSeconds = 60
	}
	if c.MonitorAddr == "" {
		c.MonitorAddr = ":8090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Targets) == 0 {
		c.Targets = []string{"USD", "EUR", "GBP", "INR", "USDC", "BTC"}
	}
}
