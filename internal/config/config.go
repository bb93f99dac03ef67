// Package config handles configuration management for msgr.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (MSGR_SERVER_HTTP_PORT).
const EnvPrefix = "MSGR"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Client   ClientConfig   `mapstructure:"client" yaml:"client"`
	Peer     PeerConfig     `mapstructure:"peer" yaml:"peer"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds the listen addresses of the broadcast peer and the
// operator API.
type ServerConfig struct {
	Host          string `mapstructure:"host" yaml:"host"`
	WebSocketPort int    `mapstructure:"websocket_port" yaml:"websocket_port"`
	HTTPPort      int    `mapstructure:"http_port" yaml:"http_port"`
	Path          string `mapstructure:"path" yaml:"path"`
	Pprof         bool   `mapstructure:"pprof" yaml:"pprof"`
	// AllowedOrigins lists browser origins the operator API serves besides
	// loopback. "*.example.com" matches subdomains.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// ClientConfig holds connection, heartbeat and reconnect settings.
type ClientConfig struct {
	URL                  string        `mapstructure:"url" yaml:"url"` // empty: derived from server
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectJitter      time.Duration `mapstructure:"reconnect_jitter" yaml:"reconnect_jitter"`
	AutoConnect          bool          `mapstructure:"auto_connect" yaml:"auto_connect"`
}

// PeerConfig holds broadcast peer settings.
type PeerConfig struct {
	Enabled              bool          `mapstructure:"enabled" yaml:"enabled"`
	BroadcastMinInterval time.Duration `mapstructure:"broadcast_min_interval" yaml:"broadcast_min_interval"`
	BroadcastMaxInterval time.Duration `mapstructure:"broadcast_max_interval" yaml:"broadcast_max_interval"`
}

// StorageConfig selects the message store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	// SeedChats pre-populates an empty store with demo chats.
	SeedChats int `mapstructure:"seed_chats" yaml:"seed_chats"`
}

// SecurityConfig holds the encryption boundary settings.
type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`
	// RateLimit caps encrypt/decrypt requests per client per minute.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if err := readInto(v, configPath); err != nil {
		return nil, err
	}
	return Decode(v)
}

// NewViper returns a viper instance with msgr's defaults, search paths and
// environment binding, after reading the config file if one exists. The
// CLI keeps it to watch the file.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	if err := readInto(v, configPath); err != nil {
		return nil, err
	}
	return v, nil
}

func readInto(v *viper.Viper, configPath string) error {
	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.msgr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// Decode unmarshals, post-processes and validates the viper state.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	postProcess(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	postProcess(&cfg)
	return &cfg
}

// Keys returns every configuration key in dot notation, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.websocket_port", 8080)
	v.SetDefault("server.http_port", 8081)
	v.SetDefault("server.path", "/")
	v.SetDefault("server.pprof", false)
	v.SetDefault("server.allowed_origins", []string{})

	// Client defaults
	v.SetDefault("client.url", "")
	v.SetDefault("client.heartbeat_interval", "10s")
	v.SetDefault("client.heartbeat_timeout", "5s")
	v.SetDefault("client.max_reconnect_attempts", 10)
	v.SetDefault("client.reconnect_base_delay", "1s")
	v.SetDefault("client.reconnect_max_delay", "30s")
	v.SetDefault("client.reconnect_jitter", "1s")
	v.SetDefault("client.auto_connect", true)

	// Peer defaults
	v.SetDefault("peer.enabled", true)
	v.SetDefault("peer.broadcast_min_interval", "1s")
	v.SetDefault("peer.broadcast_max_interval", "3s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.seed_chats", 0)

	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.rate_limit", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// postProcess fills in values derived from other settings.
func postProcess(cfg *Config) {
	if cfg.Server.Path == "" {
		cfg.Server.Path = "/"
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		cfg.Server.Path = "/" + cfg.Server.Path
	}
	if cfg.Client.URL == "" {
		cfg.Client.URL = cfg.PeerURL()
	}
	if cfg.Storage.Path == "" {
		if dir, err := GetConfigDir(); err == nil {
			cfg.Storage.Path = filepath.Join(dir, "msgr."+cfg.Storage.Driver)
		} else {
			cfg.Storage.Path = "msgr." + cfg.Storage.Driver
		}
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
}

// PeerURL is the ws:// URL of the local broadcast peer.
func (c *Config) PeerURL() string {
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d%s", host, c.Server.WebSocketPort, c.Server.Path)
}

// GetConfigDir returns the user config directory for msgr.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".msgr"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Marshal renders cfg as YAML. The encryption key is never written out.
func Marshal(cfg *Config) ([]byte, error) {
	out := *cfg
	if out.Security.EncryptionKey != "" {
		out.Security.EncryptionKey = "[REDACTED]"
	}
	return yaml.Marshal(&out)
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
