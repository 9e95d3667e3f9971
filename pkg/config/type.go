package config

import "time"

type RelayConfig struct {
	SerialDevice     string `toml:"serial_device" yaml:"serial_device"`
	Baudrate         uint   `toml:"baudrate" yaml:"baudrate"`
	SerialBufferSize int    `toml:"serial_buffer_size" yaml:"serial_buffer_size"`
	// Serial reads return empty after this long without input.
	ReadTimeoutMs    int    `toml:"read_timeout_ms" yaml:"read_timeout_ms"`

	MaxTelegramSize int `toml:"max_telegram_size" yaml:"max_telegram_size"`
	PollIntervalMs  int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	LockTimeoutMs   int `toml:"lock_timeout_ms" yaml:"lock_timeout_ms"`
	// 0 keeps idle relay sessions open until a write fails.
	IdleTimeoutMs   int `toml:"idle_timeout_ms" yaml:"idle_timeout_ms"`

	ListenAddress        string `toml:"listen_address" yaml:"listen_address"`
	ListenPort           int    `toml:"listen_port" yaml:"listen_port"`
	KeepAliveIdleSec     int    `toml:"keepalive_idle_sec" yaml:"keepalive_idle_sec"`
	KeepAliveIntervalSec int    `toml:"keepalive_interval_sec" yaml:"keepalive_interval_sec"`
	KeepAliveCount       int    `toml:"keepalive_count" yaml:"keepalive_count"`

	// Empty disables the status API.
	HTTPListenAddress string `toml:"http_listen_address" yaml:"http_listen_address"`

	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"`
}

func (c *RelayConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func (c *RelayConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *RelayConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

func (c *RelayConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}
