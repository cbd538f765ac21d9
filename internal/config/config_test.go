package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5, cfg.Routing.MaxHops)
	assert.Equal(t, 5, cfg.Routing.TopK)
	assert.Equal(t, 0.5, cfg.Routing.ReliabilityFloor)
	assert.Equal(t, Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}, cfg.Routing.Weights)
	assert.Equal(t, 1, cfg.Routing.ClassCaps["bridge"])
	assert.Equal(t, ModeSimulation, cfg.Execution.Mode)
	assert.Equal(t, 1000, cfg.Execution.HistoryCap)
	assert.Equal(t, 5*time.Second, cfg.Execution.PollInterval)
	assert.Equal(t, 30, cfg.Execution.MaxPolls)
	assert.Equal(t, 2, cfg.Refresh.FastSeconds)
	assert.Equal(t, 30, cfg.Refresh.SlowSeconds)
	assert.Equal(t, 60, cfg.Refresh.SnapshotSeconds)
	assert.NoError(t, cfg.Routing.Weights.Validate())
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "railrun.yaml")
	content := `
routing:
  max_hops: 3
  objective_weights:
    alpha: 0.7
    beta: 0.2
    gamma: 0.1
execution:
  execution_mode: real
storage:
  redis_addr: "localhost:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Routing.MaxHops)
	assert.Equal(t, Weights{Alpha: 0.7, Beta: 0.2, Gamma: 0.1}, cfg.Routing.Weights)
	assert.Equal(t, ModeReal, cfg.Execution.Mode)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	// absent fields keep their defaults
	assert.Equal(t, 5, cfg.Routing.TopK)
	assert.Equal(t, 0.5, cfg.Routing.ReliabilityFloor)
}

func TestLoad_BadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "railrun.yaml")
	content := `
routing:
  objective_weights:
    alpha: 0.9
    beta: 0.9
    gamma: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, Weights{Alpha: 0.5, Beta: 0.3, Gamma: 0.2}.Validate())
	assert.NoError(t, Weights{Alpha: 1, Beta: 0, Gamma: 0}.Validate())
	assert.Error(t, Weights{Alpha: 0.5, Beta: 0.5, Gamma: 0.5}.Validate())
	assert.Error(t, Weights{Alpha: -0.2, Beta: 0.7, Gamma: 0.5}.Validate())
}
