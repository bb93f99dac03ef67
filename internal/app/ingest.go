package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/domain/ports"
	"github.com/brianly1003/msgr/internal/protocol"
	"github.com/brianly1003/msgr/internal/security"
)

// Ingester moves inbound chat frames through the integrity gate into the
// message store. Only stored messages are published.
type Ingester struct {
	store ports.MessageStore
	hub   ports.EventHub
}

// NewIngester creates an ingester. hub may be nil.
func NewIngester(store ports.MessageStore, hub ports.EventHub) *Ingester {
	return &Ingester{store: store, hub: hub}
}

// Handle processes one raw frame. Rejected frames are logged redacted and
// dropped; storage failures are logged. The returned error reports what
// happened to the frame and is informational only.
func (i *Ingester) Handle(ctx context.Context, raw []byte) (protocol.ChatEvent, error) {
	kind, decoded, err := protocol.Classify(raw)
	if err != nil {
		log.Warn().
			Int("size", len(raw)).
			Interface("frame", security.SanitizeForLogging(string(raw))).
			Msg("invalid message received")
		i.publish(events.NewMessageRejectedEvent("", "malformed frame"))
		return protocol.ChatEvent{}, err
	}
	if kind != protocol.KindChat {
		return protocol.ChatEvent{}, nil
	}

	msg, err := security.ValidateMessage(decoded)
	if err != nil {
		field, reason := "", err.Error()
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			field, reason = vErr.Field, vErr.Message
		}
		log.Warn().
			Str("field", field).
			Str("reason", reason).
			Interface("message", security.SanitizeForLogging(decoded)).
			Msg("invalid message received")
		i.publish(events.NewMessageRejectedEvent(field, reason))
		return protocol.ChatEvent{}, err
	}

	id, err := i.store.AppendMessage(ctx, msg.ChatID, msg.TS, msg.Sender, msg.Body)
	if err != nil {
		return msg, i.storeFailed("append", msg, err)
	}
	if err := i.store.TouchChatLastMessage(ctx, msg.ChatID, msg.TS); err != nil {
		return msg, i.storeFailed("touch", msg, err)
	}
	if err := i.store.IncrementUnread(ctx, msg.ChatID); err != nil {
		return msg, i.storeFailed("increment", msg, err)
	}

	log.Debug().
		Str("chat_id", msg.ChatID).
		Str("message_id", id).
		Int64("ts", msg.TS).
		Msg("message stored")

	i.publish(events.NewChatMessageEvent(msg.ChatID, id, msg.TS, msg.Sender, msg.Body))
	return msg, nil
}

func (i *Ingester) storeFailed(op string, msg protocol.ChatEvent, err error) error {
	log.Error().
		Err(err).
		Str("op", op).
		Str("chat_id", msg.ChatID).
		Str("message_id", msg.MessageID).
		Msg("failed to store message")
	return fmt.Errorf("ingest %s: %w", op, err)
}

func (i *Ingester) publish(e events.Event) {
	if i.hub != nil {
		i.hub.Publish(e)
	}
}
