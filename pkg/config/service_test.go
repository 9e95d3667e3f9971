package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/pathing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRelayConfig_WritesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(pathing.EnvConfigDir, filepath.Join(dir, "nested"))

	require.NoError(t, LoadRelayConfig())
	assert.Equal(t, DefaultRelayConfig(), ActiveRelayConfig)

	_, err := os.Stat(filepath.Join(dir, "nested", "relay.toml"))
	require.NoError(t, err)

	// Second load reads the file back.
	ActiveRelayConfig = nil
	require.NoError(t, LoadRelayConfig())
	assert.Equal(t, DefaultRelayConfig(), ActiveRelayConfig)
}

func TestLoadRelayConfigFrom_TomlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial_device = "/dev/ttyAMA0"
listen_port = 8023
idle_timeout_ms = 60000
`), 0644))

	cfg, err := LoadRelayConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.SerialDevice)
	assert.Equal(t, 8023, cfg.ListenPort)
	assert.Equal(t, time.Minute, cfg.IdleTimeout())
	assert.Equal(t, uint(115200), cfg.Baudrate)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval())
}

func TestLoadRelayConfig_PrefersYaml(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(pathing.EnvConfigDir, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay.yaml"), []byte("baudrate: 9600\nlog_level: debug\n"), 0644))

	require.NoError(t, LoadRelayConfig())
	assert.Equal(t, uint(9600), ActiveRelayConfig.Baudrate)
	assert.Equal(t, "debug", ActiveRelayConfig.LogLevel)

	_, err := os.Stat(filepath.Join(dir, "relay.toml"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RelayConfig)
	}{
		{"no device", func(c *RelayConfig) { c.SerialDevice = "" }},
		{"tiny telegram", func(c *RelayConfig) { c.MaxTelegramSize = 4 }},
		{"zero poll", func(c *RelayConfig) { c.PollIntervalMs = 0 }},
		{"zero lock", func(c *RelayConfig) { c.LockTimeoutMs = 0 }},
		{"negative idle", func(c *RelayConfig) { c.IdleTimeoutMs = -1 }},
		{"bad port", func(c *RelayConfig) { c.ListenPort = 70000 }},
		{"negative keepalive", func(c *RelayConfig) { c.KeepAliveCount = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRelayConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	assert.NoError(t, DefaultRelayConfig().Validate())
}

func TestLoadRelayConfigFrom_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_port = 0\n"), 0644))
	_, err := LoadRelayConfigFrom(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, os.WriteFile(path, []byte("listen_port = \"nope\n"), 0644))
	_, err = LoadRelayConfigFrom(path)
	assert.Error(t, err)
}

func TestRelayServerConfig(t *testing.T) {
	cfg := DefaultRelayConfig()
	sc := cfg.RelayServerConfig()
	assert.Equal(t, "0.0.0.0:2323", sc.Address)
	assert.True(t, sc.KeepAlive.Enable)
	assert.Equal(t, 5*time.Second, sc.KeepAlive.Idle)
	assert.Equal(t, 3, sc.KeepAlive.Count)
	assert.Equal(t, cfg.MaxTelegramSize, sc.Session.BufferSize)
	assert.Zero(t, sc.Session.IdleTimeout)
}
