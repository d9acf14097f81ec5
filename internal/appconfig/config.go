package appconfig

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Server        ServerConfig  `mapstructure:"server" yaml:"server"`
	Console       ConsoleConfig `mapstructure:"console" yaml:"console"`
	Mock          MockConfig    `mapstructure:"mock" yaml:"mock"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServerConfig locates the manager and bounds the client's network calls.
type ServerConfig struct {
	BaseURL               string `mapstructure:"base_url" yaml:"base_url"`
	HistoryPath           string `mapstructure:"history_path" yaml:"history_path"`
	ChannelPath           string `mapstructure:"channel_path" yaml:"channel_path"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	DialTimeoutSeconds    int    `mapstructure:"dial_timeout_seconds" yaml:"dial_timeout_seconds"`
	WriteTimeoutSeconds   int    `mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// RequestTimeout is the history request timeout.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DialTimeout is the channel handshake timeout.
func (c ServerConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

// WriteTimeout is the per-frame write deadline.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ConsoleConfig controls the interactive console.
type ConsoleConfig struct {
	TranscriptLines int    `mapstructure:"transcript_lines" yaml:"transcript_lines"`
	CommandHistory  int    `mapstructure:"command_history" yaml:"command_history"`
	EventBuffer     int    `mapstructure:"event_buffer" yaml:"event_buffer"`
	CredentialEnv   string `mapstructure:"credential_env" yaml:"credential_env"`
	// PersistHistory keeps sent commands across runs, one file per manager.
	PersistHistory bool `mapstructure:"persist_history" yaml:"persist_history"`
	// StateDir holds persisted state. Empty means DefaultStateDir.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
}

// MockConfig configures the manager emulator.
type MockConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	TokenHash    string `mapstructure:"token_hash" yaml:"token_hash"`
	HistoryLines int    `mapstructure:"history_lines" yaml:"history_lines"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Server: ServerConfig{
			BaseURL:               "http://127.0.0.1:27480",
			HistoryPath:           "/api/log/all",
			ChannelPath:           "/ws",
			RequestTimeoutSeconds: 15,
			DialTimeoutSeconds:    10,
			WriteTimeoutSeconds:   5,
		},
		Console: ConsoleConfig{
			TranscriptLines: 1000,
			CommandHistory:  200,
			EventBuffer:     256,
			CredentialEnv:   "POICONSOLE_TOKEN",
			PersistHistory:  true,
		},
		Mock: MockConfig{
			Addr:         "127.0.0.1:27480",
			TokenHash:    "",
			HistoryLines: 500,
		},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".poiconsole", "config.yaml"), nil
}

// DefaultStateDir returns the standard state directory.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".poiconsole", "state"), nil
}
