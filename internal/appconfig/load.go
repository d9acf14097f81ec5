package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("server.base_url", cfg.Server.BaseURL)
	v.SetDefault("server.history_path", cfg.Server.HistoryPath)
	v.SetDefault("server.channel_path", cfg.Server.ChannelPath)
	v.SetDefault("server.request_timeout_seconds", cfg.Server.RequestTimeoutSeconds)
	v.SetDefault("server.dial_timeout_seconds", cfg.Server.DialTimeoutSeconds)
	v.SetDefault("server.write_timeout_seconds", cfg.Server.WriteTimeoutSeconds)
	v.SetDefault("console.transcript_lines", cfg.Console.TranscriptLines)
	v.SetDefault("console.command_history", cfg.Console.CommandHistory)
	v.SetDefault("console.event_buffer", cfg.Console.EventBuffer)
	v.SetDefault("console.credential_env", cfg.Console.CredentialEnv)
	v.SetDefault("console.persist_history", cfg.Console.PersistHistory)
	v.SetDefault("console.state_dir", cfg.Console.StateDir)
	v.SetDefault("mock.addr", cfg.Mock.Addr)
	v.SetDefault("mock.token_hash", cfg.Mock.TokenHash)
	v.SetDefault("mock.history_lines", cfg.Mock.HistoryLines)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a loaded config.
func Validate(cfg Config) error {
	if err := validateServerConfig(cfg.Server); err != nil {
		return err
	}
	if cfg.Console.TranscriptLines < 0 {
		return fmt.Errorf("console.transcript_lines must not be negative")
	}
	if cfg.Console.EventBuffer < 0 {
		return fmt.Errorf("console.event_buffer must not be negative")
	}
	if hash := strings.TrimSpace(cfg.Mock.TokenHash); hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return fmt.Errorf("mock.token_hash must be a bcrypt hash: %w", err)
		}
	}
	return nil
}

func validateServerConfig(cfg ServerConfig) error {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("server.base_url must include an http(s) scheme and host (e.g. https://manager.example)")
	}
	for key, path := range map[string]string{
		"server.history_path": cfg.HistoryPath,
		"server.channel_path": cfg.ChannelPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with /", key)
		}
		if strings.ContainsAny(path, "?#") {
			return fmt.Errorf("%s must not include query or fragment", key)
		}
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be positive")
	}
	if cfg.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("server.dial_timeout_seconds must be positive")
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("server.write_timeout_seconds must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Server.BaseURL = expandEnv(cfg.Server.BaseURL)
	cfg.Mock.Addr = expandEnv(cfg.Mock.Addr)
	cfg.Console.StateDir = expandEnv(cfg.Console.StateDir)
	cfg.Mock.TokenHash = strings.TrimSpace(cfg.Mock.TokenHash)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
