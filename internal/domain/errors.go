// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrNotConnected     = errors.New("not connected")
	ErrPeerNotRunning   = errors.New("peer is not running")
	ErrPeerRunning      = errors.New("peer is already running")
	ErrStoreClosed      = errors.New("store is closed")
	ErrChatNotFound     = errors.New("chat not found")
	ErrHubNotRunning    = errors.New("event hub is not running")
	ErrSubscriberClosed = errors.New("subscriber is closed")
	ErrLinkClosed       = errors.New("link is closed")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrDecrypt          = errors.New("decryption failed")
)

// Error codes for operator API responses.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeChatNotFound   = "CHAT_NOT_FOUND"
	ErrCodeStorageError   = "STORAGE_ERROR"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// ValidationError represents a rejected field of an inbound message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidMessage.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// StoreError represents a failure in a storage operation.
type StoreError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{
		Op:  op,
		Err: err,
	}
}
