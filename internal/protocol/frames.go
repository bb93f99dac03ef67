// Package protocol defines the JSON wire format shared by the peer and the client.
//
// Every WebSocket text frame carries exactly one JSON object. Two shapes are
// protocol-internal control frames:
//
//	{"type":"ping"}   client -> server
//	{"type":"pong"}   server -> client
//
// Any other object is treated as a chat event candidate and handed to the
// application, which validates it before use.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/brianly1003/msgr/internal/domain"
)

// FrameType is the value of the "type" field of a control frame.
type FrameType string

const (
	FrameTypePing FrameType = "ping"
	FrameTypePong FrameType = "pong"
)

// Kind classifies an inbound frame.
type Kind int

const (
	// KindChat is any decodable frame that is not a control frame.
	KindChat Kind = iota
	KindPing
	KindPong
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	default:
		return "chat"
	}
}

// ControlFrame is a ping or pong frame.
type ControlFrame struct {
	Type FrameType `json:"type"`
}

// ChatEvent is a single chat message broadcast by the peer.
type ChatEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	TS        int64  `json:"ts"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
}

var (
	pingFrame = mustMarshal(ControlFrame{Type: FrameTypePing})
	pongFrame = mustMarshal(ControlFrame{Type: FrameTypePong})
)

// PingFrame returns the encoded ping control frame.
func PingFrame() []byte {
	return append([]byte(nil), pingFrame...)
}

// PongFrame returns the encoded pong control frame.
func PongFrame() []byte {
	return append([]byte(nil), pongFrame...)
}

// EncodeChat serializes a chat event for the wire.
func EncodeChat(ev ChatEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat event: %w", err)
	}
	return data, nil
}

// Classify decodes a raw frame and reports its kind together with the
// decoded value. The decoded value is whatever encoding/json produces for
// the frame (usually map[string]any) so that validation can inspect the
// shape without trusting it. Undecodable frames return ErrMalformedFrame.
func Classify(data []byte) (Kind, any, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return KindChat, nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	if obj, ok := decoded.(map[string]any); ok {
		if t, ok := obj["type"].(string); ok {
			switch FrameType(t) {
			case FrameTypePing:
				return KindPing, decoded, nil
			case FrameTypePong:
				return KindPong, decoded, nil
			}
		}
	}

	return KindChat, decoded, nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
