// Package peer implements the broadcast peer: a WebSocket server that
// answers heartbeats and pushes chat events to every connected link.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/protocol"
	"github.com/brianly1003/msgr/internal/security"
	"github.com/brianly1003/msgr/internal/transport/link"
)

// DefaultPath is the WebSocket endpoint path.
const DefaultPath = "/"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Demo peer: any local client may connect
		return true
	},
}

// Server is the broadcast peer.
type Server struct {
	addr   string
	path   string
	source EventSource

	mu       sync.RWMutex
	running  bool
	listener net.Listener
	server   *http.Server
	links    map[string]*link.Link
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// NewServer creates a peer listening on host:port. Port 0 picks a free
// port; see Addr after Start.
func NewServer(host string, port int, path string, source EventSource) *Server {
	if path == "" {
		path = DefaultPath
	}
	return &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		path:   path,
		source: source,
		links:  make(map[string]*link.Link),
	}
}

// Start binds the listener and starts serving and broadcasting. A bind
// failure is returned as is and never retried.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return domain.ErrPeerRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind peer on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)

	s.listener = ln
	// No ReadTimeout/WriteTimeout: links manage their own deadlines.
	s.server = &http.Server{Handler: mux}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})

	log.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("peer started")

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("peer server error")
		}
	}()

	go s.broadcastLoop(ctx, s.loopDone)

	return nil
}

// Stop ends the broadcast loop, closes the listener and every open link.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return domain.ErrPeerNotRunning
	}
	s.running = false
	s.cancel()
	loopDone := s.loopDone
	srv := s.server
	links := make([]*link.Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.links = make(map[string]*link.Link)
	s.mu.Unlock()

	log.Info().Int("links", len(links)).Msg("peer stopping")

	select {
	case <-loopDone:
	case <-ctx.Done():
	}

	for _, l := range links {
		l.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}

	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the ws:// URL clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + s.path
}

// IsRunning reports whether the peer is started.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ClientCount returns the number of open links.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Broadcast sends ev to every open link and returns how many links it was
// queued on. Delivery is best effort.
func (s *Server) Broadcast(ev protocol.ChatEvent) int {
	data, err := protocol.EncodeChat(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode broadcast")
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for id, l := range s.links {
		if err := l.Send(data); err != nil {
			log.Debug().Err(err).Str("link_id", id).Msg("broadcast skipped link")
			continue
		}
		sent++
	}
	return sent
}

// SimulateConnectionDrop drops every open link without a close handshake
// and returns how many were dropped. The peer keeps accepting new links.
func (s *Server) SimulateConnectionDrop() int {
	s.mu.RLock()
	links := make([]*link.Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.RUnlock()

	log.Info().Int("links", len(links)).Msg("simulating connection drop")
	for _, l := range links {
		l.Terminate()
	}
	return len(links)
}

func (s *Server) broadcastLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	if s.source == nil {
		return
	}

	for ev := range s.source.Events(ctx) {
		if s.ClientCount() == 0 {
			continue
		}
		n := s.Broadcast(ev)
		log.Debug().Str("chat_id", ev.ChatID).Int("links", n).Msg("broadcast message")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	l := link.New(conn, link.Options{
		OnFrame: s.handleFrame,
		OnClose: s.removeLink,
	})

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		l.Terminate()
		return
	}
	s.links[l.ID()] = l
	s.mu.Unlock()

	log.Info().
		Str("link_id", l.ID()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Msg("client connected")

	l.Start()
}

func (s *Server) handleFrame(l *link.Link, data []byte) {
	kind, decoded, err := protocol.Classify(data)
	if err != nil {
		log.Warn().
			Str("link_id", l.ID()).
			Int("size", len(data)).
			Interface("frame", security.SanitizeForLogging(string(data))).
			Msg("invalid message received")
		return
	}

	switch kind {
	case protocol.KindPing:
		if err := l.Send(protocol.PongFrame()); err != nil {
			log.Debug().Err(err).Str("link_id", l.ID()).Msg("pong not sent")
		}
	default:
		log.Debug().
			Str("link_id", l.ID()).
			Str("kind", kind.String()).
			Interface("frame", security.SanitizeForLogging(decoded)).
			Msg("ignoring client frame")
	}
}

func (s *Server) removeLink(l *link.Link, err error) {
	s.mu.Lock()
	delete(s.links, l.ID())
	s.mu.Unlock()

	log.Info().Err(err).Str("link_id", l.ID()).Msg("client disconnected")
}
