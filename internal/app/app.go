// Package app orchestrates all components of msgr.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/adapters/store"
	"github.com/brianly1003/msgr/internal/config"
	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/domain/ports"
	"github.com/brianly1003/msgr/internal/hub"
	"github.com/brianly1003/msgr/internal/security"
	httpserver "github.com/brianly1003/msgr/internal/server/http"
	"github.com/brianly1003/msgr/internal/server/peer"
	"github.com/brianly1003/msgr/internal/transport/client"
)

const (
	// ingestTimeout bounds the store writes for one inbound message.
	ingestTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	seedMessagesPerChat = 5
)

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string

	// Core components
	hub       *hub.Hub
	store     ports.MessageStore
	peer      *peer.Server
	client    *client.Client
	ingester  *Ingester
	apiServer *httpserver.Server

	// Session info
	sessionID string
	startTime time.Time

	// Lifecycle
	mu      sync.RWMutex
	running bool
	ready   chan struct{}
}

// New creates a new App instance.
func New(cfg *config.Config, version string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return &App{
		cfg:       cfg,
		version:   version,
		hub:       hub.New(),
		sessionID: uuid.New().String(),
		ready:     make(chan struct{}),
	}, nil
}

// Start starts the application and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.startComponents(); err != nil {
		_ = a.shutdown()
		return err
	}
	close(a.ready)

	log.Info().
		Str("session_id", a.sessionID).
		Str("client_url", a.client.URL()).
		Str("api_addr", a.apiServer.Addr()).
		Msg("session started")

	<-ctx.Done()

	return a.shutdown()
}

func (a *App) startComponents() error {
	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	// Trace every event for debugging
	a.hub.Subscribe(hub.NewFuncSubscriber("internal-logger", func(event events.Event) {
		log.Trace().
			Str("event_type", string(event.Type())).
			Str("chat_id", event.GetChatID()).
			Time("timestamp", event.Timestamp()).
			Msg("event broadcast")
	}))

	if err := a.openStore(); err != nil {
		return err
	}
	a.ingester = NewIngester(a.store, a.hub)

	key, err := security.KeyFromString(a.cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}
	cipher, err := security.NewAESCipher(key)
	if err != nil {
		return err
	}
	if a.cfg.Security.EncryptionKey == "" {
		log.Warn().Msg("no encryption key configured, using an ephemeral key")
	}

	if a.cfg.Peer.Enabled {
		source := peer.NewRandomSource(nil, a.cfg.Peer.BroadcastMinInterval, a.cfg.Peer.BroadcastMaxInterval, nil)
		a.peer = peer.NewServer(a.cfg.Server.Host, a.cfg.Server.WebSocketPort, a.cfg.Server.Path, source)
		if err := a.peer.Start(); err != nil {
			return err
		}
	}

	a.client = client.New(a.clientConfig())
	a.client.OnStateChange(a.handleStateChange)
	a.client.OnMessage(a.handleMessage)

	var apiPeer httpserver.Peer
	if a.peer != nil {
		apiPeer = a.peer
	}
	a.apiServer = httpserver.New(httpserver.Options{
		Host:              a.cfg.Server.Host,
		Port:              a.cfg.Server.HTTPPort,
		Version:           a.version,
		Logger:            a.apiLogger(),
		Connection:        a.client,
		Peer:              apiPeer,
		Store:             a.store,
		Cipher:            cipher,
		Hub:               a.hub,
		Pprof:             a.cfg.Server.Pprof,
		AllowedOrigins:    a.cfg.Server.AllowedOrigins,
		SecurityRateLimit: a.cfg.Security.RateLimit,
	})
	if err := a.apiServer.Start(); err != nil {
		return err
	}

	if a.cfg.Client.AutoConnect {
		a.client.Connect()
	}
	return nil
}

func (a *App) openStore() error {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Storage.Path), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	st, err := store.Open(a.cfg.Storage.Driver, a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	a.store = st
	log.Info().
		Str("driver", a.cfg.Storage.Driver).
		Str("path", a.cfg.Storage.Path).
		Msg("message store opened")

	if a.cfg.Storage.SeedChats <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	existing, err := st.GetChats(ctx, 0, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	if err := store.Seed(ctx, st, a.cfg.Storage.SeedChats, seedMessagesPerChat, time.Now(), nil); err != nil {
		return err
	}
	log.Info().Int("chats", a.cfg.Storage.SeedChats).Msg("seeded demo chats")
	return nil
}

// clientConfig maps configuration onto the client. When the client URL
// was derived from the peer's configured address, the peer's bound
// address is used instead so port 0 works.
func (a *App) clientConfig() client.Config {
	url := a.cfg.Client.URL
	if a.peer != nil && url == a.cfg.PeerURL() {
		url = a.peer.URL()
	}

	cc := client.DefaultConfig(url)
	cc.HeartbeatInterval = a.cfg.Client.HeartbeatInterval
	cc.HeartbeatTimeout = a.cfg.Client.HeartbeatTimeout
	cc.Policy = client.Policy{
		MaxAttempts: a.cfg.Client.MaxReconnectAttempts,
		BaseDelay:   a.cfg.Client.ReconnectBaseDelay,
		MaxDelay:    a.cfg.Client.ReconnectMaxDelay,
		Jitter:      a.cfg.Client.ReconnectJitter,
	}
	return cc
}

// handleStateChange runs under the client lock.
func (a *App) handleStateChange(s client.State) {
	attempts := a.client.ReconnectAttempts()
	log.Info().
		Str("state", s.String()).
		Int("reconnect_attempts", attempts).
		Msg("connection state changed")
	a.hub.Publish(events.NewConnectionStateEvent(s.String(), attempts))
}

// handleMessage runs under the client lock, so frames are ingested in
// arrival order.
func (a *App) handleMessage(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	_, _ = a.ingester.Handle(ctx, data)
}

// apiLogger builds the slog logger for the operator API at the level of
// the global zerolog logger.
func (a *App) apiLogger() *slog.Logger {
	level := slog.LevelInfo
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		level = slog.LevelDebug
	case zerolog.WarnLevel:
		level = slog.LevelWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		level = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    a.cfg.Logging.Format == "json",
	})).With("component", "api")
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false

	log.Info().Msg("shutting down...")

	if a.client != nil {
		a.client.Disconnect()
	}

	if a.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error stopping operator API")
		}
		cancel()
	}

	if a.peer != nil && a.peer.IsRunning() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.peer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error stopping peer")
		}
		cancel()
	}

	// Closes every remaining subscriber, including event sockets
	if a.hub.IsRunning() {
		if err := a.hub.Stop(); err != nil {
			log.Error().Err(err).Msg("error stopping event hub")
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing message store")
		}
	}

	return nil
}

// Ready is closed once every component has started.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// GetSessionID returns the current session ID.
func (a *App) GetSessionID() string {
	return a.sessionID
}

// GetHub returns the event hub.
func (a *App) GetHub() *hub.Hub {
	return a.hub
}

// GetStore returns the message store. Nil before Start.
func (a *App) GetStore() ports.MessageStore {
	return a.store
}

// GetClient returns the connection client. Nil before Start.
func (a *App) GetClient() *client.Client {
	return a.client
}

// GetPeer returns the broadcast peer, or nil when it is disabled.
func (a *App) GetPeer() *peer.Server {
	return a.peer
}

// APIAddr returns the operator API's bound address.
func (a *App) APIAddr() string {
	if a.apiServer == nil {
		return ""
	}
	return a.apiServer.Addr()
}

// IsRunning reports whether the app is running.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Uptime returns the time since Start.
func (a *App) Uptime() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return time.Since(a.startTime)
}
