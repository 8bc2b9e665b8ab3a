package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "draas.yaml")
	content := `
scheduler:
  base_url: http://scheduler.internal:5000
  headers:
    ngrok-skip-browser-warning: "true"
web3:
  chain_config: chains.yaml
  contract_address: "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "http://scheduler.internal:5000", cfg.Scheduler.BaseURL)
	require.Equal(t, "true", cfg.Scheduler.Headers["ngrok-skip-browser-warning"])
	require.Equal(t, 15*time.Second, cfg.Scheduler.Timeout())
	require.Equal(t, 5*time.Second, cfg.Poll.Interval())
	require.Equal(t, 5*time.Minute, cfg.Web3.PaymentTimeout())
	require.Equal(t, filepath.Join(dir, "chains.yaml"), cfg.Web3.ChainConfig)
	require.Equal(t, "memory", cfg.Journal.Driver)
	require.Equal(t, "none", cfg.Events.Driver)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("DRAAS_POLL_INTERVAL_SECONDS", "2")
	t.Setenv("DRAAS_SCHEDULER_BASE_URL", "http://override:5000")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Poll.Interval())
	require.Equal(t, "http://override:5000", cfg.Scheduler.BaseURL)
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(".")
	cfg.Journal.Driver = "mysql"
	require.Error(t, cfg.Validate())

	cfg.Journal.Driver = "memory"
	cfg.Events.Driver = "rabbitmq"
	require.Error(t, cfg.Validate())

	cfg.Events.Driver = "kafka"
	require.Error(t, cfg.Validate())
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "draas.yaml"))
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.Journal.Driver)
	require.Equal(t, "none", cfg.Events.Driver)
	require.Equal(t, 5*time.Second, cfg.Poll.Interval())
	require.True(t, filepath.IsAbs(cfg.Web3.ChainConfig) || filepath.Base(cfg.Web3.ChainConfig) == "chains.yaml")
	require.Equal(t, "true", cfg.Scheduler.Headers["bypass-tunnel-reminder"])
}
