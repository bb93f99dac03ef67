// Package http implements the msgr operator API: connection control, peer
// control, chat history, the encryption boundary and a live event stream.
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/brianly1003/msgr/internal/domain/ports"
	"github.com/brianly1003/msgr/internal/security"
	"github.com/brianly1003/msgr/internal/server/http/middleware"
	"github.com/brianly1003/msgr/internal/transport/client"
)

// Connection is the client connection the API controls.
type Connection interface {
	Connect()
	Disconnect()
	State() client.State
	ReconnectAttempts() int
	URL() string
}

// Peer is the local broadcast peer the API controls.
type Peer interface {
	URL() string
	IsRunning() bool
	ClientCount() int
	SimulateConnectionDrop() int
}

// Options configures a Server. Peer and Cipher may be nil; their routes
// then answer 503.
type Options struct {
	Host       string
	Port       int
	Version    string
	Logger     *slog.Logger
	Connection Connection
	Peer       Peer
	Store      ports.MessageStore
	Cipher     security.Cipher
	Hub        ports.EventHub
	Pprof      bool
	// AllowedOrigins are browser origins served besides loopback.
	AllowedOrigins []string
	// SecurityRateLimit caps encrypt/decrypt calls per client IP per minute.
	SecurityRateLimit int
}

// Server is the operator HTTP API server.
type Server struct {
	addr      string
	version   string
	logger    *slog.Logger
	conn      Connection
	peer      Peer
	store     ports.MessageStore
	cipher    security.Cipher
	hub       ports.EventHub
	limiter   *middleware.RateLimiter
	origins   *security.OriginPolicy
	upgrader  websocket.Upgrader
	handler   http.Handler
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a server and builds its routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		version:   opts.Version,
		logger:    logger,
		conn:      opts.Connection,
		peer:      opts.Peer,
		store:     opts.Store,
		cipher:    opts.Cipher,
		hub:       opts.Hub,
		limiter:   middleware.NewRateLimiter(middleware.WithMaxRequests(opts.SecurityRateLimit)),
		origins:   security.NewOriginPolicy(opts.AllowedOrigins),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.CheckRequest,
	}
	s.handler = s.routes(opts.Pprof)
	return s
}

func (s *Server) routes(pprofEnabled bool) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Connection control
	api.HandleFunc("/connection", s.handleConnection).Methods(http.MethodGet)
	api.HandleFunc("/connection/connect", s.handleConnect).Methods(http.MethodPost)
	api.HandleFunc("/connection/disconnect", s.handleDisconnect).Methods(http.MethodPost)

	// Peer control
	api.HandleFunc("/peer/drop", s.handlePeerDrop).Methods(http.MethodPost)
	api.HandleFunc("/peer/qr", s.handlePeerQR).Methods(http.MethodGet)

	// Chat history
	api.HandleFunc("/chats", s.handleListChats).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/search", s.handleSearchMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/read", s.handleMarkRead).Methods(http.MethodPost)

	// Encryption boundary
	sec := api.PathPrefix("/security").Subrouter()
	sec.Use(middleware.RateLimit(s.limiter, nil))
	sec.HandleFunc("/encrypt", s.handleEncrypt).Methods(http.MethodPost)
	sec.HandleFunc("/decrypt", s.handleDecrypt).Methods(http.MethodPost)

	NewDebugHandler(pprofEnabled).Register(router)

	return s.loggingMiddleware(s.corsMiddleware(router))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listen address and serves in the background. A bind
// failure is returned.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("HTTP server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.server = srv
	s.listener = ln

	s.logger.Info("operator API listening", "addr", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("operator API error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	s.limiter.Close()
	if srv == nil {
		return nil
	}
	s.logger.Info("operator API stopping")
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusRecorder captures the response status for request logging. It
// passes Hijack through so WebSocket upgrades still work.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if rec.status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware allows browser tooling on permitted origins to call the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.origins.Allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
