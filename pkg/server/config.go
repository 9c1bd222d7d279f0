package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	ListenAddress string `toml:"listen_address"`
	Port          int    `toml:"port"`
	Passphrase    string `toml:"passphrase"`
	MetricsPort   int    `toml:"metrics_port"`
	WebSocketPort int    `toml:"websocket_port"`
}

type LimitsSection struct {
	NicknameAttempts int    `toml:"nickname_attempts"`
	WhoReplyInterval string `toml:"who_reply_interval"`
}

// DefaultConfigPath is where LoadConfig looks when the caller gives no
// explicit path.
const DefaultConfigPath = "~/.lairchat/config.toml"

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			ListenAddress: "127.0.0.1",
			Port:          8888,
			MetricsPort:   9090,
			WebSocketPort: 0,
		},
		Limits: LimitsSection{
			NicknameAttempts: 0,
			WhoReplyInterval: "100ms",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a documented
// default if none exists, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// No config yet: write the default one so the operator has a file
		// to edit. If that fails (read-only home), run on defaults anyway.
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path); err != nil {
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: LAIR_SECTION_KEY
// Example: LAIR_SERVER_PORT=9999
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	if val := os.Getenv("LAIR_SERVER_LISTEN_ADDRESS"); val != "" {
		config.Server.ListenAddress = val
	}
	if val := os.Getenv("LAIR_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.Port = port
		}
	}
	if val := os.Getenv("LAIR_SERVER_PASSPHRASE"); val != "" {
		config.Server.Passphrase = val
	}
	if val := os.Getenv("LAIR_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("LAIR_SERVER_WEBSOCKET_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.WebSocketPort = port
		}
	}

	// Limits section
	if val := os.Getenv("LAIR_LIMITS_NICKNAME_ATTEMPTS"); val != "" {
		if attempts, err := strconv.Atoi(val); err == nil {
			config.Limits.NicknameAttempts = attempts
		}
	}
	if val := os.Getenv("LAIR_LIMITS_WHO_REPLY_INTERVAL"); val != "" {
		if _, err := time.ParseDuration(val); err == nil {
			config.Limits.WhoReplyInterval = val
		}
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options
// documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Lair Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# LAIR_SECTION_KEY (e.g., LAIR_SERVER_PORT=9999)

[server]
# Address to bind the TCP listener to
listen_address = "127.0.0.1"

# Port for client connections
port = 8888

# Passphrase all clients must share. Leave unset to use the built-in
# default; prefer the LAIR_SERVER_PASSPHRASE environment variable for
# anything secret.
# passphrase = "BewareTheBlackGuardian"

# Port for the Prometheus /metrics and /health endpoints
# Set to -1 to disable
metrics_port = 9090

# Port for WebSocket clients (/ws endpoint)
# Set to 0 to disable (default)
websocket_port = 0

[limits]
# Nickname attempts before a client is dropped (0 = unlimited)
nickname_attempts = 0

# Pause between roster lines when answering {who}
# who_reply_interval = "100ms"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.ListenAddress) != "" {
		cfg.ListenAddress = c.Server.ListenAddress
	}

	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}

	if strings.TrimSpace(c.Server.Passphrase) != "" {
		cfg.Passphrase = c.Server.Passphrase
	}

	// 0 means "not set, keep the default"; negative disables the listener.
	if c.Server.MetricsPort != 0 {
		cfg.MetricsPort = c.Server.MetricsPort
	}

	if c.Server.WebSocketPort > 0 {
		cfg.WebSocketPort = c.Server.WebSocketPort
	}

	if c.Limits.NicknameAttempts > 0 {
		cfg.NicknameAttempts = c.Limits.NicknameAttempts
	}

	if interval, err := time.ParseDuration(c.Limits.WhoReplyInterval); err == nil && interval >= 0 {
		cfg.WhoReplyInterval = interval
	}

	return cfg
}
