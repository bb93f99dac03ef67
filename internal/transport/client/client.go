// Package client implements the connection state machine that keeps a
// persistent message stream open to a broadcast peer.
//
// The client combines three parts:
//   - a Transport Link per connection attempt (internal/transport/link)
//   - a heartbeat Monitor that detects dead or half-open links
//   - a reconnection Policy with bounded exponential backoff
//
// Every event (API call, dial result, frame, link close, timer fire) is
// handled under a single mutex. Each link and timer carries the generation
// it was created in; events from an older generation are dropped, so a
// cancelled retry or a superseded link can never change state.
//
// State and message callbacks run synchronously under that mutex. They may
// call State, ReconnectAttempts, IsConnected and Send, but must not call
// Connect or Disconnect.
package client

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/protocol"
	"github.com/brianly1003/msgr/internal/transport/link"
)

// DefaultDialTimeout bounds the opening handshake.
const DefaultDialTimeout = 10 * time.Second

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// StateHandler is notified once per state change.
type StateHandler func(State)

// MessageHandler receives every non-control frame.
type MessageHandler func(data []byte)

// Config configures a Client.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration
	Policy            Policy

	// Clock drives heartbeat and reconnect timers. Nil uses the wall clock.
	Clock clock.Clock

	// Dialer opens connections. Nil uses websocket.DefaultDialer.
	Dialer Dialer
}

// DefaultConfig returns the standard configuration for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		DialTimeout:       DefaultDialTimeout,
		Policy:            DefaultPolicy(),
	}
}

// Client is the connection state machine.
type Client struct {
	url         string
	dialTimeout time.Duration
	policy      Policy
	clk         clock.Clock
	dialer      Dialer
	heartbeat   *Monitor

	state    atomic.Int32
	attempts atomic.Int32

	mu         sync.Mutex
	gen        uint64
	manual     bool
	conn       *link.Link
	dialCancel context.CancelFunc
	retry      *clock.Timer

	onState   []StateHandler
	onMessage []MessageHandler
}

// New creates a disconnected client.
func New(cfg Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Policy.MaxAttempts == 0 && cfg.Policy.BaseDelay == 0 {
		rnd := cfg.Policy.Rand
		cfg.Policy = DefaultPolicy()
		cfg.Policy.Rand = rnd
	}

	c := &Client{
		url:         cfg.URL,
		dialTimeout: cfg.DialTimeout,
		policy:      cfg.Policy,
		clk:         cfg.Clock,
		dialer:      cfg.Dialer,
		heartbeat:   NewMonitor(cfg.Clock, cfg.HeartbeatInterval, cfg.HeartbeatTimeout),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// OnStateChange registers a state handler. Register before Connect.
func (c *Client) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// OnMessage registers a message handler. Register before Connect.
func (c *Client) OnMessage(fn MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

// URL returns the server URL.
func (c *Client) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ReconnectAttempts returns the number of reconnect attempts since the last
// successful connection.
func (c *Client) ReconnectAttempts() int {
	return int(c.attempts.Load())
}

// IsConnected reports whether a link is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State() == StateConnected && c.conn != nil && !c.conn.IsClosed()
}

// Send queues a frame on the open link.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	l := c.conn
	connected := c.State() == StateConnected
	c.mu.Unlock()

	if !connected || l == nil {
		return domain.ErrNotConnected
	}
	return l.Send(data)
}

// Connect starts connecting. It returns immediately; the outcome is
// reported through state changes. Calling Connect while connecting or
// connected does nothing.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

// Disconnect closes the connection and cancels every pending timer, retry
// and dial. Nothing scheduled before Disconnect fires after it returns.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.manual = true
	c.gen++
	c.heartbeat.Stop()
	c.cancelRetryLocked()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.CloseWithReason(websocket.CloseNormalClosure, "manual disconnect")
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
}

func (c *Client) connectLocked() {
	switch c.State() {
	case StateConnecting, StateConnected:
		return
	}

	c.manual = false
	c.cancelRetryLocked()
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	c.dialCancel = cancel
	c.setStateLocked(StateConnecting)

	go c.dial(ctx, cancel, gen)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	log.Debug().Str("url", c.url).Msg("dialing")
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		log.Warn().Err(err).Str("url", c.url).Msg("connection failed")
		c.handleLossLocked()
		return
	}

	l := link.New(conn, link.Options{
		OnFrame: func(_ *link.Link, data []byte) { c.handleFrame(gen, data) },
		OnClose: func(_ *link.Link, err error) { c.handleClose(gen, err) },
	})
	c.conn = l
	c.attempts.Store(0)
	l.Start()

	c.heartbeat.Start(
		func() error { return l.Send(protocol.PingFrame()) },
		func() { c.handleHeartbeatTimeout(gen) },
	)

	log.Info().Str("url", c.url).Str("link_id", l.ID()).Msg("connected")
	c.setStateLocked(StateConnected)
}

func (c *Client) handleFrame(gen uint64, data []byte) {
	kind, _, err := protocol.Classify(data)
	if err != nil {
		log.Warn().Err(err).Int("size", len(data)).Msg("dropping unparseable frame")
		return
	}

	switch kind {
	case protocol.KindPong:
		c.mu.Lock()
		if c.gen == gen {
			c.heartbeat.Pong()
		}
		c.mu.Unlock()
		return
	case protocol.KindPing:
		// The server does not ping clients; nothing to answer.
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.State() != StateConnected {
		return
	}
	for _, fn := range c.onMessage {
		fn(data)
	}
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return
	}
	log.Info().Err(err).Str("url", c.url).Msg("connection closed")
	c.handleLossLocked()
}

func (c *Client) handleHeartbeatTimeout(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return
	}
	c.handleLossLocked()
}

// handleLossLocked tears down the current attempt and, unless the user
// disconnected, schedules the next one.
func (c *Client) handleLossLocked() {
	c.gen++
	c.heartbeat.Stop()
	if c.conn != nil {
		c.conn.Terminate()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)

	if c.manual {
		return
	}
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	attempts := int(c.attempts.Load())
	if c.policy.Exhausted(attempts) {
		log.Warn().Int("attempts", attempts).Msg("max reconnect attempts reached, giving up")
		return
	}

	attempts++
	delay := c.policy.Delay(attempts)
	gen := c.gen

	// Arm the timer before publishing the new state so observers that see
	// Reconnecting can rely on the retry being scheduled.
	c.retry = c.clk.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.State() != StateReconnecting {
			return
		}
		c.retry = nil
		c.connectLocked()
	})
	c.attempts.Store(int32(attempts))

	log.Info().
		Int("attempt", attempts).
		Int("max_attempts", c.policy.MaxAttempts).
		Dur("delay", delay).
		Msg("scheduling reconnect")
	c.setStateLocked(StateReconnecting)
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) setStateLocked(s State) {
	if State(c.state.Load()) == s {
		return
	}
	c.state.Store(int32(s))
	for _, fn := range c.onState {
		fn(s)
	}
}
