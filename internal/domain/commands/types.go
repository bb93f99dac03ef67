// Package commands defines the control commands accepted on the operator
// event socket.
package commands

import (
	"encoding/json"
	"fmt"
)

// CommandType represents the type of command.
type CommandType string

const (
	CommandConnect      CommandType = "connect"
	CommandDisconnect   CommandType = "disconnect"
	CommandSimulateDrop CommandType = "simulate_drop"
	CommandMarkRead     CommandType = "mark_read"
	CommandGetStatus    CommandType = "get_status"
)

// Command represents a command received from an operator.
type Command struct {
	Command   CommandType     `json:"command"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MarkReadPayload is the payload for mark_read.
type MarkReadPayload struct {
	ChatID string `json:"chat_id"`
}

// ParseCommand parses a JSON message into a Command.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	if cmd.Command == "" {
		return nil, fmt.Errorf("missing command")
	}
	return &cmd, nil
}

// ParseMarkReadPayload parses the payload for mark_read.
func (c *Command) ParseMarkReadPayload() (*MarkReadPayload, error) {
	var payload MarkReadPayload
	if len(c.Payload) == 0 {
		return nil, fmt.Errorf("mark_read requires a payload")
	}
	if err := json.Unmarshal(c.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.ChatID == "" {
		return nil, fmt.Errorf("mark_read requires chat_id")
	}
	return &payload, nil
}
