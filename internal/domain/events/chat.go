package events

// ChatMessagePayload is the payload of chat_message events. It is emitted
// only after the message was validated and stored.
type ChatMessagePayload struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	TS        int64  `json:"ts"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

// NewChatMessageEvent creates a chat_message event.
func NewChatMessageEvent(chatID, messageID string, ts int64, sender, body string) *BaseEvent {
	return NewChatEvent(EventTypeChatMessage, chatID, ChatMessagePayload{
		ChatID:    chatID,
		MessageID: messageID,
		TS:        ts,
		Sender:    sender,
		Body:      body,
	})
}

// MessageRejectedPayload describes a frame that failed validation. It never
// carries message content.
type MessageRejectedPayload struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// NewMessageRejectedEvent creates a message_rejected event.
func NewMessageRejectedEvent(field, reason string) *BaseEvent {
	return NewEvent(EventTypeMessageRejected, MessageRejectedPayload{
		Field:  field,
		Reason: reason,
	})
}

// ChatReadPayload is the payload of chat_read events.
type ChatReadPayload struct {
	ChatID string `json:"chat_id"`
}

// NewChatReadEvent creates a chat_read event.
func NewChatReadEvent(chatID string) *BaseEvent {
	return NewChatEvent(EventTypeChatRead, chatID, ChatReadPayload{ChatID: chatID})
}
