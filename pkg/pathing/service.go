package pathing

import (
	"os"
	"path/filepath"
)

// EnvConfigDir overrides the config directory, mostly for tests and
// non-root installs.
const EnvConfigDir = "P1RELAY_CONFIG_DIR"

func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return "/etc/smart_meter_relay"
}

func GetRelayConfigPath(ext string) string {
	return filepath.Join(GetConfigDir(), "relay"+ext)
}

// EnsureConfigDir creates the config directory if it does not exist yet.
func EnsureConfigDir() error {
	return os.MkdirAll(GetConfigDir(), 0755)
}
