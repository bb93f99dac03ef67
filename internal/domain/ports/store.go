package ports

import "context"

// Chat is a conversation summary.
type Chat struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	LastMessageAt int64  `json:"last_message_at"`
	UnreadCount   int    `json:"unread_count"`
}

// Message is a stored chat message.
type Message struct {
	ID     string `json:"id"`
	ChatID string `json:"chat_id"`
	TS     int64  `json:"ts"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// MessageStore persists chats and messages. Implementations must be safe
// for concurrent use.
type MessageStore interface {
	// AppendMessage stores a message and returns its generated ID. The
	// chat row is created if it does not exist yet.
	AppendMessage(ctx context.Context, chatID string, ts int64, sender, body string) (string, error)

	// TouchChatLastMessage sets the chat's last activity time.
	TouchChatLastMessage(ctx context.Context, chatID string, ts int64) error

	// IncrementUnread adds one to the chat's unread count.
	IncrementUnread(ctx context.Context, chatID string) error

	// GetChats lists chats, most recently active first.
	GetChats(ctx context.Context, offset, limit int) ([]Chat, error)

	// GetMessages lists a chat's messages, newest first.
	GetMessages(ctx context.Context, chatID string, offset, limit int) ([]Message, error)

	// SearchMessages finds messages in a chat whose body matches query.
	SearchMessages(ctx context.Context, chatID, query string, limit int) ([]Message, error)

	// MarkChatAsRead resets the chat's unread count. Unknown chats return
	// domain.ErrChatNotFound.
	MarkChatAsRead(ctx context.Context, chatID string) error

	// Close releases the store.
	Close() error
}
