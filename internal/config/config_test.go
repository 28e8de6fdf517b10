package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "monitor"
log_level = "debug"

[postgres]
host = "db.internal"
password = "hunter2"

[monitor]
interval = "30s"
epsilon = 0.001

[[monitor.watch]]
wallet = "0x1111111111111111111111111111111111111111"
protocol = "aave-v3"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port) // default survives
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval.Duration)
	assert.InDelta(t, 0.001, cfg.Monitor.Epsilon, 1e-12)
	require.Len(t, cfg.Monitor.Watch, 1)
	assert.Equal(t, "aave-v3", cfg.Monitor.Watch[0].Protocol)
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, `
[postgres]
host = "from-file"
`)
	t.Setenv("LIQWATCH_POSTGRES_HOST", "from-env")
	t.Setenv("LIQWATCH_MONITOR_INTERVAL", "15s")
	t.Setenv("LIQWATCH_NOTIFY_EMAIL_TO", "a@example.com, b@example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Postgres.Host)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval.Duration)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notify.EmailTo)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "juggle"
	cfg.Monitor.Interval = duration{0}
	cfg.Monitor.Watch = []WatchConfig{{Wallet: "nope", Protocol: "maker"}}
	cfg.Notify.TelegramToken = "token-without-chat"
	cfg.Chain.Feeds = map[string]string{"ETH": "not-an-address"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "interval must be positive")
	assert.Contains(t, err.Error(), "not a hex address")
	assert.Contains(t, err.Error(), "unknown protocol")
	assert.Contains(t, err.Error(), "telegram_token and telegram_chat_id")
}

func TestValidateRequiresAnAdapterInMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Aave.Enabled = false
	cfg.Compound.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one protocol adapter")
}
