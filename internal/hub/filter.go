package hub

import (
	"sync"

	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/domain/ports"
)

// ChatFilter wraps a subscriber and forwards only events for the chats it
// follows. Global events (no chat ID) always pass, and an empty filter
// passes everything.
type ChatFilter struct {
	inner ports.Subscriber

	mu    sync.RWMutex
	chats map[string]struct{}
}

// NewChatFilter wraps inner with an empty filter.
func NewChatFilter(inner ports.Subscriber) *ChatFilter {
	return &ChatFilter{
		inner: inner,
		chats: make(map[string]struct{}),
	}
}

// ID returns the wrapped subscriber's ID.
func (f *ChatFilter) ID() string {
	return f.inner.ID()
}

// Send forwards the event if it passes the filter.
func (f *ChatFilter) Send(event events.Event) error {
	if !f.allows(event) {
		return nil
	}
	return f.inner.Send(event)
}

// Close closes the wrapped subscriber.
func (f *ChatFilter) Close() error {
	return f.inner.Close()
}

// Done returns the wrapped subscriber's done channel.
func (f *ChatFilter) Done() <-chan struct{} {
	return f.inner.Done()
}

// Follow adds chats to the filter.
func (f *ChatFilter) Follow(chatIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range chatIDs {
		if id != "" {
			f.chats[id] = struct{}{}
		}
	}
}

// Unfollow removes a chat from the filter.
func (f *ChatFilter) Unfollow(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, chatID)
}

// FollowAll clears the filter.
func (f *ChatFilter) FollowAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = make(map[string]struct{})
}

// IsFiltering reports whether any chat is followed.
func (f *ChatFilter) IsFiltering() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.chats) > 0
}

func (f *ChatFilter) allows(event events.Event) bool {
	chatID := event.GetChatID()
	if chatID == "" {
		return true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.chats) == 0 {
		return true
	}
	_, ok := f.chats[chatID]
	return ok
}

var _ ports.Subscriber = (*ChatFilter)(nil)
