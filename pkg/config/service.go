package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/smart_meter_relay/pkg/pathing"
	"github.com/NotCoffee418/smart_meter_relay/pkg/relay"
	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"gopkg.in/yaml.v3"
)

var ActiveRelayConfig *RelayConfig

var ErrInvalidConfig = errors.New("invalid relay config")

func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		SerialDevice:         "/dev/ttyUSB0",
		Baudrate:             115200,
		SerialBufferSize:     2048,
		ReadTimeoutMs:        100,
		MaxTelegramSize:      telegram.DefaultMaxSize,
		PollIntervalMs:       20,
		LockTimeoutMs:        1000,
		IdleTimeoutMs:        0,
		ListenAddress:        "0.0.0.0",
		ListenPort:           2323,
		KeepAliveIdleSec:     5,
		KeepAliveIntervalSec: 5,
		KeepAliveCount:       3,
		HTTPListenAddress:    "0.0.0.0:9039",
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// LoadRelayConfig loads relay.yaml or relay.toml from the config dir.
// A default relay.toml is written when neither exists.
func LoadRelayConfig() error {
	for _, ext := range []string{".yaml", ".yml"} {
		path := pathing.GetRelayConfigPath(ext)
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadRelayConfigFrom(path)
			if err != nil {
				return err
			}
			ActiveRelayConfig = cfg
			return nil
		}
	}

	configPath := pathing.GetRelayConfigPath(".toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := pathing.EnsureConfigDir(); err != nil {
			return err
		}
		cfg := DefaultRelayConfig()
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		ActiveRelayConfig = cfg
		return nil
	}

	cfg, err := LoadRelayConfigFrom(configPath)
	if err != nil {
		return err
	}
	ActiveRelayConfig = cfg
	return nil
}

// LoadRelayConfigFrom decodes path over the defaults, picking the decoder
// by extension.
func LoadRelayConfigFrom(path string) (*RelayConfig, error) {
	cfg := DefaultRelayConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RelayConfig) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}
	check(c.SerialDevice != "", "serial_device is required")
	check(c.Baudrate > 0, "baudrate must be positive")
	check(c.SerialBufferSize > 0, "serial_buffer_size must be positive")
	check(c.ReadTimeoutMs > 0, "read_timeout_ms must be positive")
	check(c.MaxTelegramSize >= telegram.MinSize, "max_telegram_size must be at least %d", telegram.MinSize)
	check(c.PollIntervalMs > 0, "poll_interval_ms must be positive")
	check(c.LockTimeoutMs > 0, "lock_timeout_ms must be positive")
	check(c.IdleTimeoutMs >= 0, "idle_timeout_ms must not be negative")
	check(c.ListenPort > 0 && c.ListenPort < 65536, "listen_port %d out of range", c.ListenPort)
	check(c.KeepAliveIdleSec >= 0 && c.KeepAliveIntervalSec >= 0 && c.KeepAliveCount >= 0,
		"keepalive values must not be negative")
	return errors.Join(errs...)
}

func (c *RelayConfig) RelayAddress() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(c.ListenPort))
}

// RelayServerConfig maps the file settings onto the relay server.
func (c *RelayConfig) RelayServerConfig() relay.ServerConfig {
	return relay.ServerConfig{
		Address: c.RelayAddress(),
		KeepAlive: net.KeepAliveConfig{
			Enable:   c.KeepAliveIdleSec > 0,
			Idle:     time.Duration(c.KeepAliveIdleSec) * time.Second,
			Interval: time.Duration(c.KeepAliveIntervalSec) * time.Second,
			Count:    c.KeepAliveCount,
		},
		Session: c.SessionConfig(),
	}
}

func (c *RelayConfig) SessionConfig() relay.SessionConfig {
	return relay.SessionConfig{
		PollInterval: c.PollInterval(),
		IdleTimeout:  c.IdleTimeout(),
		BufferSize:   c.MaxTelegramSize,
	}
}
