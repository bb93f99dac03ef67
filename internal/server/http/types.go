package http

import "github.com/brianly1003/msgr/internal/domain/ports"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Connection    ConnectionResponse `json:"connection"`
	Peer          *PeerResponse      `json:"peer,omitempty"`
	Subscribers   int                `json:"subscribers"`
}

// ConnectionResponse describes the client connection.
type ConnectionResponse struct {
	State             string `json:"state"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	URL               string `json:"url"`
}

// PeerResponse describes the local broadcast peer.
type PeerResponse struct {
	Running bool   `json:"running"`
	URL     string `json:"url"`
	Clients int    `json:"clients"`
}

// DropResponse is returned by POST /api/peer/drop.
type DropResponse struct {
	Dropped int `json:"dropped"`
}

// ChatsResponse is returned by GET /api/chats.
type ChatsResponse struct {
	Chats  []ports.Chat `json:"chats"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// MessagesResponse is returned by the message list and search endpoints.
type MessagesResponse struct {
	ChatID   string          `json:"chat_id"`
	Messages []ports.Message `json:"messages"`
	Query    string          `json:"query,omitempty"`
}

// EncryptRequest is the body of POST /api/security/encrypt.
type EncryptRequest struct {
	Plaintext string `json:"plaintext"`
}

// EncryptResponse carries an opaque envelope.
type EncryptResponse struct {
	Envelope string `json:"envelope"`
}

// DecryptRequest is the body of POST /api/security/decrypt.
type DecryptRequest struct {
	Envelope string `json:"envelope"`
}

// DecryptResponse carries the recovered plaintext.
type DecryptResponse struct {
	Plaintext string `json:"plaintext"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RuntimeResponse is returned by GET /debug/runtime.
type RuntimeResponse struct {
	GoVersion     string  `json:"go_version"`
	NumGoroutine  int     `json:"num_goroutine"`
	NumCPU        int     `json:"num_cpu"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	SysMB         float64 `json:"sys_mb"`
	NumGC         uint32  `json:"num_gc"`
	PprofEnabled  bool    `json:"pprof_enabled"`
}
