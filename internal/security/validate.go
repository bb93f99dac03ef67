// Package security holds the message integrity gate, log redaction and the
// placeholder encryption boundary of the messenger.
package security

import (
	"encoding/json"
	"math"
	"unicode/utf8"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/protocol"
)

// Upper bounds for chat event fields, in characters.
const (
	MaxBodyLength   = 8192
	MaxSenderLength = 256
)

// MaxTimestamp is the largest integer a float64 represents exactly.
const MaxTimestamp = 1<<53 - 1

// requiredFields lists the fields every chat event must carry.
var requiredFields = []string{"chatId", "messageId", "ts", "sender", "body"}

// ValidateMessage is the integrity gate for inbound chat events. It accepts
// the raw decoded value of a frame and either returns the typed event or a
// *domain.ValidationError. Validation is all-or-nothing.
func ValidateMessage(raw any) (protocol.ChatEvent, error) {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return protocol.ChatEvent{}, domain.NewValidationError("", "message is not an object")
	}

	for _, field := range requiredFields {
		if _, ok := obj[field]; !ok {
			return protocol.ChatEvent{}, domain.NewValidationError(field, "missing required field")
		}
	}

	chatID, err := nonEmptyString(obj, "chatId")
	if err != nil {
		return protocol.ChatEvent{}, err
	}
	messageID, err := nonEmptyString(obj, "messageId")
	if err != nil {
		return protocol.ChatEvent{}, err
	}
	sender, err := nonEmptyString(obj, "sender")
	if err != nil {
		return protocol.ChatEvent{}, err
	}
	body, err := nonEmptyString(obj, "body")
	if err != nil {
		return protocol.ChatEvent{}, err
	}

	ts, ok := toFloat(obj["ts"])
	if !ok || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return protocol.ChatEvent{}, domain.NewValidationError("ts", "must be a number")
	}
	if ts <= 0 {
		return protocol.ChatEvent{}, domain.NewValidationError("ts", "must be positive")
	}
	if ts != math.Trunc(ts) {
		return protocol.ChatEvent{}, domain.NewValidationError("ts", "must be an integer")
	}
	if ts > MaxTimestamp {
		return protocol.ChatEvent{}, domain.NewValidationError("ts", "out of range")
	}

	if utf8.RuneCountInString(body) > MaxBodyLength {
		return protocol.ChatEvent{}, domain.NewValidationError("body", "exceeds maximum length")
	}
	if utf8.RuneCountInString(sender) > MaxSenderLength {
		return protocol.ChatEvent{}, domain.NewValidationError("sender", "exceeds maximum length")
	}

	return protocol.ChatEvent{
		ChatID:    chatID,
		MessageID: messageID,
		TS:        int64(ts),
		Sender:    sender,
		Body:      body,
	}, nil
}

func nonEmptyString(obj map[string]any, field string) (string, error) {
	s, ok := obj[field].(string)
	if !ok {
		return "", domain.NewValidationError(field, "must be a string")
	}
	if s == "" {
		return "", domain.NewValidationError(field, "must not be empty")
	}
	return s, nil
}

// toFloat accepts the numeric types a decoded frame or a hand-built map can
// carry. Strings holding digits are not numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
