package ports

import (
	"github.com/brianly1003/msgr/internal/domain/events"
)

// Subscriber receives hub events: an event socket, the trace logger, or a
// chat filter wrapping either.
type Subscriber interface {
	ID() string

	// Send delivers one event. An error removes the subscriber from the hub.
	Send(event events.Event) error

	Close() error

	// Done is closed when the subscriber goes away on its own, such as a
	// socket hanging up. The hub then drops it.
	Done() <-chan struct{}
}

// EventHub fans chat and connection events out to subscribers in publish
// order.
type EventHub interface {
	// Start launches dispatch. Starting a running hub is a no-op.
	Start() error

	// Stop ends dispatch and closes every subscriber.
	Stop() error

	// Publish queues an event and never blocks. The event is dropped when
	// the queue is full.
	Publish(event events.Event)

	// Subscribe is a no-op while the hub is stopped.
	Subscribe(sub Subscriber)

	Unsubscribe(id string)

	SubscriberCount() int
}
