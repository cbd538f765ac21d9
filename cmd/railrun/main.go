package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/railrun/railrun/internal/adapters"
	"github.com/railrun/railrun/internal/aggregator"
	"github.com/railrun/railrun/internal/cache"
	"github.com/railrun/railrun/internal/clock"
	"github.com/railrun/railrun/internal/config"
	"github.com/railrun/railrun/internal/engine"
	"github.com/railrun/railrun/internal/execution"
	"github.com/railrun/railrun/internal/model"
	"github.com/railrun/railrun/internal/regulatory"
	"github.com/railrun/railrun/internal/routing"
	"github.com/railrun/railrun/internal/secrets"
	"github.com/railrun/railrun/internal/store"
	"github.com/railrun/railrun/internal/telemetry"
	"github.com/railrun/railrun/internal/transport"
)

const (
	appName = "RailRun"
	version = "v1.0.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "railrun",
		Short:   "Cross-border multi-rail payment routing and execution engine",
		Version: version,
		Long: `RailRun finds and executes the cheapest, fastest, most reliable path to
move value between assets across FX desks, crypto venues, bridges,
on/off-ramps, and bank rails.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh scheduler and monitor server",
		Long:  "Starts the per-class refresh loops, snapshot persistence, websocket stream, and the /health + /metrics HTTP server. Runs until interrupted.",
		RunE:  runServe,
	}
	serveCmd.Flags().Bool("stream", false, "Also run the Kraken websocket ticker stream")

	edgesCmd := &cobra.Command{
		Use:   "edges",
		Short: "Fetch and print the current edge set",
		RunE:  runEdges,
	}
	edgesCmd.Flags().String("from", "", "Filter by source asset")
	edgesCmd.Flags().String("to", "", "Filter by target asset")
	edgesCmd.Flags().String("provider", "", "Filter by provider")
	edgesCmd.Flags().String("class", "", "Filter by segment class")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Solve for the best conversion routes",
		RunE:  runOptimize,
	}
	optimizeCmd.Flags().String("from", "", "Source asset (required)")
	optimizeCmd.Flags().String("to", "", "Target asset (required)")
	optimizeCmd.Flags().Float64("amount", 0, "Source notional amount (required)")
	optimizeCmd.Flags().Int("k", 0, "Number of ranked candidates to return")
	optimizeCmd.Flags().Int("max-hops", 0, "Override the configured hop limit")
	_ = optimizeCmd.MarkFlagRequired("from")
	_ = optimizeCmd.MarkFlagRequired("to")
	_ = optimizeCmd.MarkFlagRequired("amount")

	executeCmd := &cobra.Command{
		Use:   "execute",
		Short: "Optimize and execute a conversion end to end",
		Long:  "Solves for the best route and drives it through the orchestrator. Simulation mode by default; real mode calls providers.",
		RunE:  runExecute,
	}
	executeCmd.Flags().String("from", "", "Source asset (required)")
	executeCmd.Flags().String("to", "", "Target asset (required)")
	executeCmd.Flags().Float64("amount", 0, "Source notional amount (required)")
	_ = executeCmd.MarkFlagRequired("from")
	_ = executeCmd.MarkFlagRequired("to")
	_ = executeCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(serveCmd, edgesCmd, optimizeCmd, executeCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// system is everything the commands need, wired once
type system struct {
	cfg      config.Config
	engine   *engine.Engine
	agg      *aggregator.Aggregator
	registry *adapters.Registry
	clock    clock.Clock
}

func build() (*system, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyLogLevel(cfg.LogLevel)

	clk := clock.Real{}
	var creds secrets.Credentials = secrets.NewEnvCredentials("RAILRUN")
	if cfg.CredentialsDir != "" {
		creds = secrets.NewFileCredentials(cfg.CredentialsDir)
	}
	deps := adapters.Deps{
		Transport: transport.NewHTTP(transport.Options{
			Timeout:             cfg.Transport.Timeout,
			RequestsPerSecond:   cfg.Transport.RequestsPerSecond,
			Burst:               cfg.Transport.Burst,
			PerProviderTimeouts: cfg.Transport.PerProviderTimeouts,
		}),
		Credentials: creds,
		Clock:       clk,
	}

	hot := cache.NewAuto(cfg.Storage.RedisAddr)
	durable, err := buildStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	reg, err := regulatory.Load(cfg.RegulatoryPath)
	if err != nil {
		return nil, err
	}

	registry := adapters.NewRegistry()
	for _, a := range []adapters.Adapter{
		adapters.NewKraken(cfg.Targets),
		adapters.NewGasOracle(cfg.Targets),
		adapters.NewHopBridge(cfg.Targets),
		adapters.NewFrankfurter(cfg.Targets),
		adapters.NewRamp(cfg.Targets),
		adapters.NewSwiftline(cfg.Targets),
	} {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}

	agg := aggregator.New(registry, deps, hot, durable, cfg.Refresh)

	solver := routing.NewBeamSolver(cfg.Routing,
		routing.ReliabilityFloor(cfg.Routing.ReliabilityFloor),
		routing.Regulatory(reg),
	)
	rerouter := &execution.Rerouter{Solver: solver, Edges: agg, Thresholds: cfg.Execution.Reroute}

	clients := map[string]adapters.ExecutionClient{
		"kraken":      adapters.NewKraken(cfg.Targets),
		"hopbridge":   adapters.NewHopBridge(cfg.Targets),
		"rampnetwork": adapters.NewRamp(cfg.Targets),
		"swiftline":   adapters.NewSwiftline(cfg.Targets),
	}
	dispatcher := execution.NewDispatcher(cfg.Execution, deps, clients, clk)
	orch := execution.NewOrchestrator(dispatcher, durable, clk, rerouter, cfg.Execution)

	return &system{
		cfg:      cfg,
		engine:   engine.New(cfg, agg, orch, reg),
		agg:      agg,
		registry: registry,
		clock:    clk,
	}, nil
}

func buildStore(cfg config.StorageConfig) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		return store.NewMemory(), nil
	}
	return store.NewPostgres(cfg.PostgresDSN, 5*time.Second)
}

func applyLogLevel(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	sys, err := build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := telemetry.NewServer(sys.cfg.MonitorAddr, func() interface{} {
		return sys.agg.Health()
	})
	go func() {
		if err := monitor.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Monitor server failed")
		}
	}()

	if withStream, _ := cmd.Flags().GetBool("stream"); withStream {
		stream := adapters.NewKrakenStream([]string{"XBT/USD", "ETH/USD"}, sys.agg, sys.clock)
		go stream.Run(ctx)
	}

	log.Info().Str("monitor", sys.cfg.MonitorAddr).Msg("RailRun scheduler starting")
	if err := sys.agg.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// primeTicks runs one synchronous refresh per cadence class so one-shot
// commands have edges to work with.
func primeTicks(ctx context.Context, sys *system) {
	sys.agg.Tick(ctx, model.CadenceFast, time.Duration(sys.cfg.Refresh.FastSeconds)*time.Second)
	sys.agg.Tick(ctx, model.CadenceSlow, time.Duration(sys.cfg.Refresh.SlowSeconds)*time.Second)
}

func runEdges(cmd *cobra.Command, args []string) error {
	sys, err := build()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	primeTicks(ctx, sys)

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	provider, _ := cmd.Flags().GetString("provider")
	class, _ := cmd.Flags().GetString("class")

	edges, err := sys.engine.GetEdges(ctx, engine.EdgeFilter{
		FromAsset: from,
		ToAsset:   to,
		Provider:  provider,
		Class:     model.SegmentClass(class),
	})
	if err != nil {
		return err
	}
	return printJSON(edges)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	sys, err := build()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	primeTicks(ctx, sys)

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	amount, _ := cmd.Flags().GetFloat64("amount")
	k, _ := cmd.Flags().GetInt("k")
	maxHops, _ := cmd.Flags().GetInt("max-hops")

	req := engine.OptimizeRequest{FromAsset: from, ToAsset: to, Amount: amount, K: k}
	if maxHops > 0 {
		req.MaxHops = &maxHops
	}

	result, err := sys.engine.OptimizeRoute(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runExecute(cmd *cobra.Command, args []string) error {
	sys, err := build()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	primeTicks(ctx, sys)

	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	amount, _ := cmd.Flags().GetFloat64("amount")

	result, err := sys.engine.OptimizeRoute(ctx, engine.OptimizeRequest{
		FromAsset: from, ToAsset: to, Amount: amount,
	})
	if err != nil {
		return err
	}

	rec, err := sys.engine.ExecuteRoute(ctx, engine.ExecuteRequest{
		Route:  result.Best.Route,
		Amount: amount,
	})
	if err != nil {
		return err
	}

	// one-shot invocation: follow the execution to a terminal state
	for !rec.State.Terminal() {
		time.Sleep(200 * time.Millisecond)
		rec, err = sys.engine.GetExecutionStatus(rec.ExecutionID)
		if err != nil {
			return err
		}
	}

	log.Info().Str("execution_id", rec.ExecutionID).Str("state", string(rec.State)).
		Float64("final_amount", rec.FinalAmount).Msg("Execution finished")
	return printJSON(rec)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
