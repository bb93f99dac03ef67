package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Storage drivers accepted in storage.driver.
var validDrivers = map[string]bool{"sqlite": true, "pebble": true}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateClient(&cfg.Client); err != nil {
		return err
	}
	if err := validatePeer(&cfg.Peer); err != nil {
		return err
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}
	if cfg.Security.RateLimit < 0 {
		return fmt.Errorf("security.rate_limit must not be negative")
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.WebSocketPort < 1 || cfg.WebSocketPort > 65535 {
		return fmt.Errorf("server.websocket_port must be between 1 and 65535")
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535")
	}
	if cfg.WebSocketPort == cfg.HTTPPort {
		return fmt.Errorf("server.websocket_port and server.http_port must be different")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	return nil
}

func validateClient(cfg *ClientConfig) error {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("client.url must be a ws:// or wss:// URL, got %q", cfg.URL)
	}
	if cfg.HeartbeatInterval <= 0 {
		return fmt.Errorf("client.heartbeat_interval must be positive")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return fmt.Errorf("client.heartbeat_timeout must be positive")
	}
	if cfg.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}
	if cfg.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("client.reconnect_base_delay must be positive")
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		return fmt.Errorf("client.reconnect_max_delay must be at least client.reconnect_base_delay")
	}
	if cfg.ReconnectJitter < 0 {
		return fmt.Errorf("client.reconnect_jitter must not be negative")
	}
	return nil
}

func validatePeer(cfg *PeerConfig) error {
	if cfg.BroadcastMinInterval <= 0 {
		return fmt.Errorf("peer.broadcast_min_interval must be positive")
	}
	if cfg.BroadcastMaxInterval < cfg.BroadcastMinInterval {
		return fmt.Errorf("peer.broadcast_max_interval must be at least peer.broadcast_min_interval")
	}
	return nil
}

func validateStorage(cfg *StorageConfig) error {
	if !validDrivers[cfg.Driver] {
		return fmt.Errorf("storage.driver must be sqlite or pebble, got %q", cfg.Driver)
	}
	if cfg.SeedChats < 0 {
		return fmt.Errorf("storage.seed_chats must not be negative")
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if _, err := zerolog.ParseLevel(cfg.Level); err != nil || cfg.Level == "" {
		return fmt.Errorf("logging.level %q is not a valid level", cfg.Level)
	}
	if cfg.Format != "console" && cfg.Format != "json" {
		return fmt.Errorf("logging.format must be console or json, got %q", cfg.Format)
	}
	return nil
}
