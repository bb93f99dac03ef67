// Package link wraps a single WebSocket connection as a Transport Link.
//
// A Link owns two goroutines:
//   - readPump delivers every inbound text frame to the frame handler
//   - writePump is the only writer of the connection
//
// Both the peer (server side) and the client use Links, so frame handling
// and shutdown behave the same in both directions.
//
// Thread Safety:
//   - Send() is safe to call from any goroutine
//   - Close() and Terminate() are safe to call multiple times
//   - The close handler fires exactly once, after the read pump has exited
package link

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/domain"
)

const (
	// DefaultWriteWait is time allowed to write a frame to the peer.
	DefaultWriteWait = 10 * time.Second

	// DefaultMaxMessageSize bounds a single inbound frame. Chat bodies are
	// capped at 8192 characters, so 64KB leaves room for multi-byte text.
	DefaultMaxMessageSize = 64 * 1024

	// DefaultSendBufferSize is the outbound queue length per link.
	DefaultSendBufferSize = 256
)

// ErrBufferFull is returned when the outbound queue is full.
var ErrBufferFull = errors.New("send buffer full")

// FrameHandler receives every inbound text frame.
type FrameHandler func(l *Link, data []byte)

// CloseHandler is called once when the link is gone. err is nil for a
// normal closure.
type CloseHandler func(l *Link, err error)

// Options configures a Link.
type Options struct {
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBufferSize int
	OnFrame        FrameHandler
	OnClose        CloseHandler
}

func (o *Options) defaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = DefaultSendBufferSize
	}
}

// Link is one logical connection over a WebSocket.
type Link struct {
	id   string
	conn *websocket.Conn
	opts Options
	send chan []byte
	done chan struct{}

	mu          sync.Mutex
	closed      bool
	terminated  bool
	closeCode   int
	closeReason string

	closeOnce sync.Once
}

// New wraps conn. Call Start to begin pumping frames.
func New(conn *websocket.Conn, opts Options) *Link {
	opts.defaults()
	return &Link{
		id:        uuid.New().String(),
		conn:      conn,
		opts:      opts,
		send:      make(chan []byte, opts.SendBufferSize),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// ID returns the link's unique identifier.
func (l *Link) ID() string {
	return l.id
}

// RemoteAddr returns the address of the other end.
func (l *Link) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// Start starts the read and write pumps.
func (l *Link) Start() {
	go l.writePump()
	go l.readPump()
}

// Send queues a frame. It never blocks.
func (l *Link) Send(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	l.mu.Unlock()

	select {
	case l.send <- data:
		return nil
	default:
		log.Warn().Str("link_id", l.id).Msg("link send buffer full, dropping frame")
		return ErrBufferFull
	}
}

// Close asks the write pump to send a close frame and shut the connection.
func (l *Link) Close() {
	l.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason is Close with an explicit close code and reason.
func (l *Link) CloseWithReason(code int, reason string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.closeCode = code
	l.closeReason = reason
	l.mu.Unlock()

	close(l.done)
}

// Terminate drops the underlying connection without a close frame. The
// other end observes an abnormal closure.
func (l *Link) Terminate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	// The write pump checks terminated before sending a close frame.
	l.terminated = true
	_ = l.conn.Close()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

// Done returns a channel that's closed once Close or Terminate was called.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// IsClosed reports whether Close or Terminate was called.
func (l *Link) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// readPump pumps frames from the connection to the frame handler.
func (l *Link) readPump() {
	var readErr error
	defer func() {
		l.mu.Lock()
		if !l.closed {
			l.closed = true
			close(l.done)
		}
		l.mu.Unlock()
		_ = l.conn.Close()
		l.closeOnce.Do(func() {
			if l.opts.OnClose != nil {
				l.opts.OnClose(l, readErr)
			}
		})
	}()

	l.conn.SetReadLimit(l.opts.MaxMessageSize)

	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			// A read failing after a local Close/Terminate is the expected
			// way the pump learns about it.
			if !isNormalClose(err) && !l.IsClosed() {
				readErr = err
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn().Err(err).Str("link_id", l.id).Msg("link read error")
				}
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Debug().Str("link_id", l.id).Int("type", msgType).Msg("ignoring non-text frame")
			continue
		}
		if l.opts.OnFrame != nil {
			l.opts.OnFrame(l, data)
		}
	}
}

// writePump pumps frames from the send queue to the connection. Each frame
// is written as its own WebSocket message.
func (l *Link) writePump() {
	defer func() {
		l.mu.Lock()
		code, reason, terminated := l.closeCode, l.closeReason, l.terminated
		l.mu.Unlock()

		if !terminated {
			// Close frame with deadline to avoid blocking on a dead peer
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteWait))
			_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		}
		_ = l.conn.Close()
	}()

	for {
		select {
		case <-l.done:
			return

		case data := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("link_id", l.id).Msg("link write error")
				return
			}
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
