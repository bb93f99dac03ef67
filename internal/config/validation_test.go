package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr string
	}{
		{
			name:    "valid config",
			cfg:     ServerConfig{WebSocketPort: 8080, HTTPPort: 8081, Host: "127.0.0.1"},
			wantErr: "",
		},
		{
			name:    "port too low",
			cfg:     ServerConfig{WebSocketPort: 0, HTTPPort: 8081, Host: "127.0.0.1"},
			wantErr: "websocket_port must be between 1 and 65535",
		},
		{
			name:    "port too high",
			cfg:     ServerConfig{WebSocketPort: 8080, HTTPPort: 70000, Host: "127.0.0.1"},
			wantErr: "http_port must be between 1 and 65535",
		},
		{
			name:    "same ports",
			cfg:     ServerConfig{WebSocketPort: 8080, HTTPPort: 8080, Host: "127.0.0.1"},
			wantErr: "must be different",
		},
		{
			name:    "empty host",
			cfg:     ServerConfig{WebSocketPort: 8080, HTTPPort: 8081, Host: " "},
			wantErr: "server.host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, validateServer(&tt.cfg), tt.wantErr)
		})
	}
}

func TestValidateClient(t *testing.T) {
	valid := func() ClientConfig {
		return ClientConfig{
			URL:                  "ws://127.0.0.1:8080/",
			HeartbeatInterval:    10 * time.Second,
			HeartbeatTimeout:     5 * time.Second,
			MaxReconnectAttempts: 10,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			ReconnectJitter:      time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ClientConfig)
		wantErr string
	}{
		{name: "valid config", mutate: func(*ClientConfig) {}},
		{name: "wss url", mutate: func(c *ClientConfig) { c.URL = "wss://example.com/ws" }},
		{name: "http url", mutate: func(c *ClientConfig) { c.URL = "http://example.com" }, wantErr: "client.url"},
		{name: "no host", mutate: func(c *ClientConfig) { c.URL = "ws://" }, wantErr: "client.url"},
		{name: "zero interval", mutate: func(c *ClientConfig) { c.HeartbeatInterval = 0 }, wantErr: "heartbeat_interval"},
		{name: "zero timeout", mutate: func(c *ClientConfig) { c.HeartbeatTimeout = 0 }, wantErr: "heartbeat_timeout"},
		{name: "negative attempts", mutate: func(c *ClientConfig) { c.MaxReconnectAttempts = -1 }, wantErr: "max_reconnect_attempts"},
		{name: "zero attempts allowed", mutate: func(c *ClientConfig) { c.MaxReconnectAttempts = 0 }},
		{name: "cap below base", mutate: func(c *ClientConfig) { c.ReconnectMaxDelay = 500 * time.Millisecond }, wantErr: "reconnect_max_delay"},
		{name: "negative jitter", mutate: func(c *ClientConfig) { c.ReconnectJitter = -time.Second }, wantErr: "reconnect_jitter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			checkErr(t, validateClient(&cfg), tt.wantErr)
		})
	}
}

func TestValidatePeer(t *testing.T) {
	checkErr(t, validatePeer(&PeerConfig{BroadcastMinInterval: time.Second, BroadcastMaxInterval: 3 * time.Second}), "")
	checkErr(t, validatePeer(&PeerConfig{BroadcastMinInterval: 0, BroadcastMaxInterval: time.Second}), "broadcast_min_interval")
	checkErr(t, validatePeer(&PeerConfig{BroadcastMinInterval: 2 * time.Second, BroadcastMaxInterval: time.Second}), "broadcast_max_interval")
}

func TestValidateStorage(t *testing.T) {
	checkErr(t, validateStorage(&StorageConfig{Driver: "sqlite"}), "")
	checkErr(t, validateStorage(&StorageConfig{Driver: "pebble"}), "")
	checkErr(t, validateStorage(&StorageConfig{Driver: "bolt"}), "storage.driver")
	checkErr(t, validateStorage(&StorageConfig{Driver: "sqlite", SeedChats: -1}), "seed_chats")
}

func TestValidateLogging(t *testing.T) {
	checkErr(t, validateLogging(&LoggingConfig{Level: "debug", Format: "console"}), "")
	checkErr(t, validateLogging(&LoggingConfig{Level: "warn", Format: "json"}), "")
	checkErr(t, validateLogging(&LoggingConfig{Level: "loud", Format: "json"}), "logging.level")
	checkErr(t, validateLogging(&LoggingConfig{Level: "", Format: "json"}), "logging.level")
	checkErr(t, validateLogging(&LoggingConfig{Level: "info", Format: "xml"}), "logging.format")
}

func TestValidate_Default(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Validate(Default()) = %v", err)
	}
}

func TestValidate_NegativeRateLimit(t *testing.T) {
	cfg := Default()
	cfg.Security.RateLimit = -1
	checkErr(t, Validate(cfg), "security.rate_limit")
}

func checkErr(t *testing.T, err error, want string) {
	t.Helper()
	if want == "" {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		return
	}
	if err == nil {
		t.Errorf("expected error containing %q, got nil", want)
		return
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want substring %q", err.Error(), want)
	}
}
