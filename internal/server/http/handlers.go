package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/events"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024

	// maxBodyBytes bounds JSON request bodies.
	maxBodyBytes = 64 * 1024
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Connection:    s.connectionStatus(),
		Peer:          s.peerStatus(),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) connectionStatus() ConnectionResponse {
	if s.conn == nil {
		return ConnectionResponse{State: "disabled"}
	}
	return ConnectionResponse{
		State:             s.conn.State().String(),
		ReconnectAttempts: s.conn.ReconnectAttempts(),
		URL:               s.conn.URL(),
	}
}

func (s *Server) peerStatus() *PeerResponse {
	if s.peer == nil {
		return nil
	}
	return &PeerResponse{
		Running: s.peer.IsRunning(),
		URL:     s.peer.URL(),
		Clients: s.peer.ClientCount(),
	}
}

// handleConnection handles GET /api/connection
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionStatus())
}

// handleConnect handles POST /api/connection/connect
//
// The connection attempt runs in the background; the response carries the
// state right after the request was issued.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.conn == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeNotConnected, "client is disabled")
		return
	}
	s.conn.Connect()
	writeJSON(w, http.StatusAccepted, s.connectionStatus())
}

// handleDisconnect handles POST /api/connection/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.conn == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeNotConnected, "client is disabled")
		return
	}
	s.conn.Disconnect()
	writeJSON(w, http.StatusOK, s.connectionStatus())
}

// handlePeerDrop handles POST /api/peer/drop
func (s *Server) handlePeerDrop(w http.ResponseWriter, r *http.Request) {
	dropped, err := s.dropPeerLinks()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, DropResponse{Dropped: dropped})
}

func (s *Server) dropPeerLinks() (int, error) {
	if s.peer == nil || !s.peer.IsRunning() {
		return 0, domain.ErrPeerNotRunning
	}
	dropped := s.peer.SimulateConnectionDrop()
	if s.hub != nil {
		s.hub.Publish(events.NewPeerDropEvent(dropped))
	}
	return dropped, nil
}

// handlePeerQR handles GET /api/peer/qr?size=256
func (s *Server) handlePeerQR(w http.ResponseWriter, r *http.Request) {
	if s.peer == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeInternalError, domain.ErrPeerNotRunning.Error())
		return
	}

	size := defaultQRSize
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 64 || n > maxQRSize {
			writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidPayload, "size must be between 64 and 1024")
			return
		}
		size = n
	}

	png, err := qrcode.Encode(s.peer.URL(), qrcode.Medium, size)
	if err != nil {
		s.logger.Error("failed to render QR code", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// handleListChats handles GET /api/chats?offset=0&limit=50
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pagination(w, r)
	if !ok {
		return
	}

	chats, err := s.store.GetChats(r.Context(), offset, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatsResponse{Chats: chats, Offset: offset, Limit: limit})
}

// handleListMessages handles GET /api/chats/{id}/messages?offset=0&limit=50
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	offset, limit, ok := pagination(w, r)
	if !ok {
		return
	}

	msgs, err := s.store.GetMessages(r.Context(), chatID, offset, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ChatID: chatID, Messages: msgs})
}

// handleSearchMessages handles GET /api/chats/{id}/search?q=hello&limit=50
func (s *Server) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidPayload, "q is required")
		return
	}
	_, limit, ok := pagination(w, r)
	if !ok {
		return
	}

	msgs, err := s.store.SearchMessages(r.Context(), chatID, query, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ChatID: chatID, Messages: msgs, Query: query})
}

// handleMarkRead handles POST /api/chats/{id}/read
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	if err := s.markRead(r.Context(), chatID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) markRead(ctx context.Context, chatID string) error {
	if err := s.store.MarkChatAsRead(ctx, chatID); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.Publish(events.NewChatReadEvent(chatID))
	}
	return nil
}

// handleEncrypt handles POST /api/security/encrypt
func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	if s.cipher == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeInternalError, "encryption is not configured")
		return
	}
	var req EncryptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	envelope, err := s.cipher.Encrypt(req.Plaintext)
	if err != nil {
		s.logger.Error("encrypt failed", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "encryption failed")
		return
	}
	writeJSON(w, http.StatusOK, EncryptResponse{Envelope: envelope})
}

// handleDecrypt handles POST /api/security/decrypt
func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	if s.cipher == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeInternalError, "encryption is not configured")
		return
	}
	var req DecryptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	plaintext, err := s.cipher.Decrypt(req.Envelope)
	if err != nil {
		// Never echo the envelope or the cause.
		s.logger.Warn("decrypt rejected", "size", len(req.Envelope))
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidPayload, domain.ErrDecrypt.Error())
		return
	}
	writeJSON(w, http.StatusOK, DecryptResponse{Plaintext: plaintext})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrChatNotFound):
		writeError(w, http.StatusNotFound, domain.ErrCodeChatNotFound, "chat not found")
	case errors.Is(err, domain.ErrStoreClosed):
		writeError(w, http.StatusServiceUnavailable, domain.ErrCodeStorageError, err.Error())
	default:
		s.logger.Error("store error", "error", err)
		writeError(w, http.StatusInternalServerError, domain.ErrCodeStorageError, "storage error")
	}
}

func pagination(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidPayload, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidPayload, "limit must be a non-negative integer")
			return 0, 0, false
		}
	}
	return offset, limit, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidPayload, "invalid JSON body")
		return false
	}
	return true
}
