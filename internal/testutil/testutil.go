// Package testutil provides shared test mocks for msgr tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/domain/ports"
)

// MockSubscriber implements ports.Subscriber for testing.
type MockSubscriber struct {
	id       string
	events   []events.Event
	mu       sync.Mutex
	closed   bool
	sendErr  error
	sendFunc func(events.Event) error
	done     chan struct{}
}

// NewMockSubscriber creates a new mock subscriber.
func NewMockSubscriber(id string) *MockSubscriber {
	return &MockSubscriber{
		id:     id,
		events: make([]events.Event, 0),
		done:   make(chan struct{}),
	}
}

// ID returns the subscriber ID.
func (m *MockSubscriber) ID() string {
	return m.id
}

// Send records the event and returns any configured error.
func (m *MockSubscriber) Send(e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendFunc != nil {
		return m.sendFunc(e)
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.events = append(m.events, e)
	return nil
}

// Close marks the subscriber as closed.
func (m *MockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Done returns a channel that's closed when the subscriber is done.
func (m *MockSubscriber) Done() <-chan struct{} {
	return m.done
}

// Events returns all received events.
func (m *MockSubscriber) Events() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

// EventCount returns the number of received events.
func (m *MockSubscriber) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// IsClosed returns whether the subscriber was closed.
func (m *MockSubscriber) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetSendError configures an error to return on Send.
func (m *MockSubscriber) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetSendFunc sets a custom function for Send behavior.
func (m *MockSubscriber) SetSendFunc(fn func(events.Event) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFunc = fn
}

var _ ports.Subscriber = (*MockSubscriber)(nil)

// MockEventHub implements ports.EventHub for testing. Published events are
// recorded, not delivered.
type MockEventHub struct {
	events      []events.Event
	subscribers []ports.Subscriber
	mu          sync.Mutex
	started     bool
	stopped     bool
}

// NewMockEventHub creates a new mock event hub.
func NewMockEventHub() *MockEventHub {
	return &MockEventHub{}
}

// Start marks the hub as started.
func (m *MockEventHub) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

// Stop marks the hub as stopped.
func (m *MockEventHub) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

// Publish records the event.
func (m *MockEventHub) Publish(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Subscribe records the subscriber.
func (m *MockEventHub) Subscribe(sub ports.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

// Unsubscribe removes a subscriber by ID.
func (m *MockEventHub) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscribers {
		if sub.ID() == id {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// SubscriberCount returns the number of subscribers.
func (m *MockEventHub) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

// IsRunning returns true if the hub was started and not stopped.
func (m *MockEventHub) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && !m.stopped
}

// PublishedEvents returns all published events.
func (m *MockEventHub) PublishedEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

// EventsOfType returns the published events of one type.
func (m *MockEventHub) EventsOfType(t events.EventType) []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

var _ ports.EventHub = (*MockEventHub)(nil)

// StoreCall is one recorded MockStore write.
type StoreCall struct {
	Op     string
	ChatID string
	TS     int64
	Sender string
	Body   string
}

// MockStore is an in-memory ports.MessageStore that records every write
// in call order.
type MockStore struct {
	mu       sync.Mutex
	calls    []StoreCall
	chats    map[string]*ports.Chat
	messages map[string][]ports.Message
	seq      int
	failOp   string
	failErr  error
	closed   bool
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		chats:    make(map[string]*ports.Chat),
		messages: make(map[string][]ports.Message),
	}
}

// FailOn makes the named operation ("append", "touch", "increment") return err.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOp = op
	m.failErr = err
}

// Calls returns the recorded writes in order.
func (m *MockStore) Calls() []StoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoreCall(nil), m.calls...)
}

// Ops returns just the operation names of the recorded writes.
func (m *MockStore) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, len(m.calls))
	for i, c := range m.calls {
		ops[i] = c.Op
	}
	return ops
}

func (m *MockStore) record(c StoreCall) error {
	m.calls = append(m.calls, c)
	if m.closed {
		return domain.ErrStoreClosed
	}
	if m.failOp == c.Op {
		return m.failErr
	}
	return nil
}

func (m *MockStore) chat(chatID string) *ports.Chat {
	c, ok := m.chats[chatID]
	if !ok {
		c = &ports.Chat{ID: chatID, Title: chatID}
		m.chats[chatID] = c
	}
	return c
}

// AppendMessage records the call and stores the message.
func (m *MockStore) AppendMessage(_ context.Context, chatID string, ts int64, sender, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(StoreCall{Op: "append", ChatID: chatID, TS: ts, Sender: sender, Body: body}); err != nil {
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("mock_%04d", m.seq)
	m.chat(chatID)
	m.messages[chatID] = append(m.messages[chatID], ports.Message{
		ID: id, ChatID: chatID, TS: ts, Sender: sender, Body: body,
	})
	return id, nil
}

// TouchChatLastMessage records the call and updates the chat.
func (m *MockStore) TouchChatLastMessage(_ context.Context, chatID string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(StoreCall{Op: "touch", ChatID: chatID, TS: ts}); err != nil {
		return err
	}
	m.chat(chatID).LastMessageAt = ts
	return nil
}

// IncrementUnread records the call and updates the chat.
func (m *MockStore) IncrementUnread(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(StoreCall{Op: "increment", ChatID: chatID}); err != nil {
		return err
	}
	c, ok := m.chats[chatID]
	if !ok {
		return domain.ErrChatNotFound
	}
	c.UnreadCount++
	return nil
}

// GetChats lists chats, most recently active first.
func (m *MockStore) GetChats(_ context.Context, offset, limit int) ([]ports.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrStoreClosed
	}
	out := make([]ports.Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	return page(out, offset, limit), nil
}

// GetMessages lists a chat's messages, newest first.
func (m *MockStore) GetMessages(_ context.Context, chatID string, offset, limit int) ([]ports.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrStoreClosed
	}
	return page(m.newestFirst(chatID, ""), offset, limit), nil
}

// SearchMessages does a case-insensitive substring match.
func (m *MockStore) SearchMessages(_ context.Context, chatID, query string, limit int) ([]ports.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrStoreClosed
	}
	if strings.TrimSpace(query) == "" {
		return []ports.Message{}, nil
	}
	return page(m.newestFirst(chatID, query), 0, limit), nil
}

func (m *MockStore) newestFirst(chatID, query string) []ports.Message {
	msgs := m.messages[chatID]
	out := make([]ports.Message, 0, len(msgs))
	q := strings.ToLower(query)
	for i := len(msgs) - 1; i >= 0; i-- {
		if q == "" || strings.Contains(strings.ToLower(msgs[i].Body), q) {
			out = append(out, msgs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS > out[j].TS })
	return out
}

// MarkChatAsRead resets the unread count.
func (m *MockStore) MarkChatAsRead(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrStoreClosed
	}
	c, ok := m.chats[chatID]
	if !ok {
		return domain.ErrChatNotFound
	}
	c.UnreadCount = 0
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

var _ ports.MessageStore = (*MockStore)(nil)
