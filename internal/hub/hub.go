// Package hub fans msgr events out to their subscribers (operator
// WebSocket clients, CLI listeners, loggers).
package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/domain/ports"
)

// DefaultBufferSize is the number of published events the hub queues
// before dropping.
const DefaultBufferSize = 256

// Hub is the event dispatcher. Subscriber bookkeeping and delivery happen
// on a single goroutine; Publish never blocks.
type Hub struct {
	subscribers map[string]ports.Subscriber

	broadcast  chan events.Event
	register   chan ports.Subscriber
	unregister chan string

	mu      sync.RWMutex
	done    chan struct{}
	running bool
}

// New creates a stopped hub.
func New() *Hub {
	return &Hub{
		subscribers: make(map[string]ports.Subscriber),
		broadcast:   make(chan events.Event, DefaultBufferSize),
		register:    make(chan ports.Subscriber),
		unregister:  make(chan string),
		done:        make(chan struct{}),
	}
}

// Start launches the dispatch loop. Starting a running hub is a no-op.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	log.Debug().Msg("event hub started")
	go h.run(done)
	return nil
}

// Stop ends the dispatch loop and closes every subscriber.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.done)
	for _, sub := range h.subscribers {
		_ = sub.Close()
	}
	h.subscribers = make(map[string]ports.Subscriber)
	h.mu.Unlock()

	log.Debug().Msg("event hub stopped")
	return nil
}

func (h *Hub) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID()] = sub
			h.mu.Unlock()
			log.Debug().Str("subscriber_id", sub.ID()).Msg("subscriber registered")

		case id := <-h.unregister:
			h.remove(id)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()

	if ok {
		_ = sub.Close()
		log.Debug().Str("subscriber_id", id).Msg("subscriber unregistered")
	}
}

func (h *Hub) deliver(event events.Event) {
	h.mu.RLock()
	var failed []string
	for id, sub := range h.subscribers {
		if err := sub.Send(event); err != nil {
			log.Warn().
				Err(err).
				Str("subscriber_id", id).
				Str("event_type", string(event.Type())).
				Msg("dropping subscriber")
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		h.remove(id)
	}
}

// Publish queues an event for delivery. When the queue is full the event
// is dropped.
func (h *Hub) Publish(event events.Event) {
	select {
	case h.broadcast <- event:
		log.Trace().Str("event_type", string(event.Type())).Msg("event published")
	default:
		log.Warn().Str("event_type", string(event.Type())).Msg("event dropped: hub queue full")
	}
}

// Subscribe registers sub. It returns immediately if the hub is stopped.
func (h *Hub) Subscribe(sub ports.Subscriber) {
	h.mu.RLock()
	done, running := h.done, h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.register <- sub:
	case <-done:
	}
}

// Unsubscribe removes and closes the subscriber with the given ID.
func (h *Hub) Unsubscribe(id string) {
	h.mu.RLock()
	done, running := h.done, h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.unregister <- id:
	case <-done:
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// IsRunning reports whether the hub is running.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

var _ ports.EventHub = (*Hub)(nil)
