package client

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
)

// Monitor sends pings on a fixed interval and reports a timeout when a
// ping goes unanswered. It runs at most one session at a time; Start
// replaces any previous session.
//
// ping runs with the monitor's lock held and must not call back into the
// monitor. onTimeout runs after the lock is released and may restart it.
type Monitor struct {
	clk      clock.Clock
	interval time.Duration
	timeout  time.Duration

	mu        sync.Mutex
	epoch     uint64
	running   bool
	tick      *clock.Timer
	deadline  *clock.Timer
	pending   uint64
	ping      func() error
	onTimeout func()
}

// NewMonitor creates a stopped monitor.
func NewMonitor(clk clock.Clock, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Monitor{clk: clk, interval: interval, timeout: timeout}
}

// Start sends a ping right away and then once per interval. Each ping arms
// the response timeout; onTimeout fires once if it expires.
func (m *Monitor) Start(ping func() error, onTimeout func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
	m.epoch++
	m.running = true
	m.ping = ping
	m.onTimeout = onTimeout

	m.sendPingLocked(m.epoch)
	m.scheduleTickLocked(m.epoch)
}

// Stop cancels the interval and any outstanding timeout. Timers that have
// already fired are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Pong clears the outstanding timeout.
func (m *Monitor) Pong() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.pending++
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
}

// Running reports whether a session is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) stopLocked() {
	if !m.running {
		return
	}
	m.running = false
	m.epoch++
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
	if m.deadline != nil {
		m.deadline.Stop()
		m.deadline = nil
	}
	m.ping = nil
	m.onTimeout = nil
}

func (m *Monitor) scheduleTickLocked(epoch uint64) {
	m.tick = m.clk.AfterFunc(m.interval, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.running || m.epoch != epoch {
			return
		}
		m.sendPingLocked(epoch)
		m.scheduleTickLocked(epoch)
	})
}

func (m *Monitor) sendPingLocked(epoch uint64) {
	if err := m.ping(); err != nil {
		// The link's close handler reports the loss.
		log.Debug().Err(err).Msg("heartbeat ping not sent")
	}

	if m.deadline != nil {
		m.deadline.Stop()
	}
	m.pending++
	seq := m.pending
	m.deadline = m.clk.AfterFunc(m.timeout, func() {
		m.mu.Lock()
		if !m.running || m.epoch != epoch || m.pending != seq {
			m.mu.Unlock()
			return
		}
		onTimeout := m.onTimeout
		m.stopLocked()
		m.mu.Unlock()

		log.Warn().Dur("timeout", m.timeout).Msg("heartbeat timeout, connection presumed lost")
		if onTimeout != nil {
			onTimeout()
		}
	})
}
