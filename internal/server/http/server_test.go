package http

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/hub"
	"github.com/brianly1003/msgr/internal/security"
	"github.com/brianly1003/msgr/internal/testutil"
	"github.com/brianly1003/msgr/internal/transport/client"
)

type fakeConnection struct {
	mu          sync.Mutex
	state       client.State
	connects    int
	disconnects int
}

func (f *fakeConnection) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = client.StateConnecting
}

func (f *fakeConnection) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = client.StateDisconnected
}

func (f *fakeConnection) State() client.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConnection) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func (f *fakeConnection) ReconnectAttempts() int { return 2 }
func (f *fakeConnection) URL() string            { return "ws://127.0.0.1:8080/" }

type fakePeer struct {
	running bool
	drops   int
}

func (f *fakePeer) URL() string      { return "ws://127.0.0.1:8080/" }
func (f *fakePeer) IsRunning() bool  { return f.running }
func (f *fakePeer) ClientCount() int { return 1 }
func (f *fakePeer) SimulateConnectionDrop() int {
	f.drops++
	return 1
}

type testEnv struct {
	server *Server
	conn   *fakeConnection
	peer   *fakePeer
	store  *testutil.MockStore
	hub    *testutil.MockEventHub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, _ := security.KeyFromString("test-key")
	cipher, err := security.NewAESCipher(key)
	if err != nil {
		t.Fatalf("NewAESCipher: %v", err)
	}

	env := &testEnv{
		conn:  &fakeConnection{state: client.StateConnected},
		peer:  &fakePeer{running: true},
		store: testutil.NewMockStore(),
		hub:   testutil.NewMockEventHub(),
	}
	env.server = New(Options{
		Host:              "127.0.0.1",
		Port:              0,
		Version:           "test",
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Connection:        env.conn,
		Peer:              env.peer,
		Store:             env.store,
		Cipher:            cipher,
		Hub:               env.hub,
		SecurityRateLimit: 100,
	})
	t.Cleanup(func() { _ = env.server.Stop(context.Background()) })
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", w.Body.String(), err)
	}
	return v
}

func TestServer_HandleHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Time == "" {
		t.Errorf("unexpected health response: %+v", resp)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestServer_Status(t *testing.T) {
	env := newTestEnv(t)

	resp := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/status", ""))
	if resp.Version != "test" {
		t.Errorf("version = %s", resp.Version)
	}
	if resp.Connection.State != "connected" || resp.Connection.ReconnectAttempts != 2 {
		t.Errorf("connection = %+v", resp.Connection)
	}
	if resp.Peer == nil || !resp.Peer.Running || resp.Peer.Clients != 1 {
		t.Errorf("peer = %+v", resp.Peer)
	}
}

func TestServer_ConnectionControl(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/connection/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect: %d", w.Code)
	}
	if got := decode[ConnectionResponse](t, w); got.State != "disconnected" {
		t.Errorf("state after disconnect = %s", got.State)
	}

	w = env.do(t, http.MethodPost, "/api/connection/connect", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("connect: %d", w.Code)
	}
	if got := decode[ConnectionResponse](t, w); got.State != "connecting" {
		t.Errorf("state after connect = %s", got.State)
	}

	if c, d := env.conn.counts(); c != 1 || d != 1 {
		t.Errorf("connects=%d disconnects=%d", c, d)
	}

	got := decode[ConnectionResponse](t, env.do(t, http.MethodGet, "/api/connection", ""))
	if got.URL != "ws://127.0.0.1:8080/" {
		t.Errorf("url = %s", got.URL)
	}
}

func TestServer_PeerDrop(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/peer/drop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[DropResponse](t, w); got.Dropped != 1 {
		t.Errorf("dropped = %d", got.Dropped)
	}
	if env.peer.drops != 1 {
		t.Errorf("peer drops = %d", env.peer.drops)
	}
	if n := len(env.hub.EventsOfType(events.EventTypePeerDrop)); n != 1 {
		t.Errorf("peer_drop events = %d, want 1", n)
	}

	env.peer.running = false
	if w := env.do(t, http.MethodPost, "/api/peer/drop", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("drop on stopped peer: %d", w.Code)
	}
}

func TestServer_PeerQR(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/peer/qr?size=128", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s", ct)
	}
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("width = %d, want 128", img.Bounds().Dx())
	}

	if w := env.do(t, http.MethodGet, "/api/peer/qr?size=9999", ""); w.Code != http.StatusBadRequest {
		t.Errorf("oversized QR: %d", w.Code)
	}
}

func TestServer_Chats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i, body := range []string{"hello world", "see you", "Hello again"} {
		ts := int64(1000 + i)
		_, _ = env.store.AppendMessage(ctx, "chat_7", ts, "Alice", body)
		_ = env.store.TouchChatLastMessage(ctx, "chat_7", ts)
		_ = env.store.IncrementUnread(ctx, "chat_7")
	}

	chats := decode[ChatsResponse](t, env.do(t, http.MethodGet, "/api/chats?limit=10", ""))
	if len(chats.Chats) != 1 || chats.Chats[0].UnreadCount != 3 {
		t.Fatalf("chats = %+v", chats.Chats)
	}

	msgs := decode[MessagesResponse](t, env.do(t, http.MethodGet, "/api/chats/chat_7/messages?limit=2", ""))
	if len(msgs.Messages) != 2 || msgs.Messages[0].Body != "Hello again" {
		t.Errorf("messages = %+v", msgs.Messages)
	}

	found := decode[MessagesResponse](t, env.do(t, http.MethodGet, "/api/chats/chat_7/search?q=hello", ""))
	if len(found.Messages) != 2 {
		t.Errorf("search found %d, want 2", len(found.Messages))
	}

	if w := env.do(t, http.MethodGet, "/api/chats/chat_7/search", ""); w.Code != http.StatusBadRequest {
		t.Errorf("search without q: %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/chats?offset=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset: %d", w.Code)
	}
}

func TestServer_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, _ = env.store.AppendMessage(ctx, "chat_1", 1, "Bob", "hey")
	_ = env.store.IncrementUnread(ctx, "chat_1")

	if w := env.do(t, http.MethodPost, "/api/chats/chat_1/read", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	chats, _ := env.store.GetChats(ctx, 0, 10)
	if chats[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", chats[0].UnreadCount)
	}
	if n := len(env.hub.EventsOfType(events.EventTypeChatRead)); n != 1 {
		t.Errorf("chat_read events = %d, want 1", n)
	}

	w := env.do(t, http.MethodPost, "/api/chats/missing/read", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing chat: %d", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Code != "CHAT_NOT_FOUND" {
		t.Errorf("code = %s", got.Code)
	}
}

func TestServer_EncryptDecrypt(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/security/encrypt", `{"plaintext":"secret hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("encrypt: %d %s", w.Code, w.Body.String())
	}
	env1 := decode[EncryptResponse](t, w)
	if strings.Contains(env1.Envelope, "secret hi") {
		t.Fatal("envelope contains plaintext")
	}

	body, _ := json.Marshal(DecryptRequest{Envelope: env1.Envelope})
	w = env.do(t, http.MethodPost, "/api/security/decrypt", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("decrypt: %d %s", w.Code, w.Body.String())
	}
	if got := decode[DecryptResponse](t, w); got.Plaintext != "secret hi" {
		t.Errorf("plaintext = %q", got.Plaintext)
	}

	w = env.do(t, http.MethodPost, "/api/security/decrypt", `{"envelope":"garbage"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("tampered envelope: %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/security/encrypt", `{"plain":1}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: %d", w.Code)
	}
}

func TestServer_SecurityRateLimited(t *testing.T) {
	s := New(Options{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:             testutil.NewMockStore(),
		SecurityRateLimit: 1,
	})
	defer s.Stop(context.Background())

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/security/encrypt", strings.NewReader(`{"plaintext":"a"}`))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}

	// No cipher configured: the first call reaches the handler.
	if code := post(); code != http.StatusServiceUnavailable {
		t.Errorf("first call = %d, want 503", code)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Errorf("second call = %d, want 429", code)
	}
}

func TestServer_StartStop(t *testing.T) {
	env := newTestEnv(t)

	if err := env.server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	// Binding the same address again fails synchronously.
	other := New(Options{Host: "127.0.0.1", Port: portOf(t, env.server.Addr()), Store: env.store})
	if err := other.Start(); err == nil {
		_ = other.Stop(context.Background())
		t.Error("expected bind error")
	}

	if err := env.server.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func portOf(t *testing.T, addr string) int {
	t.Helper()
	i := strings.LastIndex(addr, ":")
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		t.Fatalf("bad addr %s", addr)
	}
	return port
}

func TestServer_EventSocket(t *testing.T) {
	h := hub.New()
	if err := h.Start(); err != nil {
		t.Fatalf("hub start: %v", err)
	}
	defer h.Stop()

	conn := &fakeConnection{state: client.StateConnected}
	st := testutil.NewMockStore()
	_, _ = st.AppendMessage(context.Background(), "chat_7", 1, "Alice", "hi")

	s := New(Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Connection: conn,
		Peer:       &fakePeer{running: true},
		Store:      st,
		Hub:        h,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Stop(context.Background())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events?chats=chat_7"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(time.Second)
	for h.SubscriberCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", h.SubscriberCount())
	}

	// Filtered out, then delivered.
	h.Publish(events.NewChatMessageEvent("chat_1", "m1", 1, "Bob", "nope"))
	h.Publish(events.NewChatMessageEvent("chat_7", "m2", 2, "Alice", "hi"))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Event  string `json:"event"`
		ChatID string `json:"chat_id"`
	}
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Event != "chat_message" || ev.ChatID != "chat_7" {
		t.Errorf("event = %+v", ev)
	}

	// Commands are answered on the same socket.
	if err := ws.WriteJSON(map[string]any{"command": "disconnect", "request_id": "r1"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	var resp CommandResponse
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != "response" || !resp.OK || resp.RequestID != "r1" {
		t.Errorf("response = %+v", resp)
	}
	if _, d := conn.counts(); d != 1 {
		t.Errorf("disconnects = %d, want 1", d)
	}

	if err := ws.WriteJSON(map[string]any{"command": "mark_read", "payload": map[string]string{"chat_id": "missing"}}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	resp = CommandResponse{}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Errorf("mark_read on missing chat should fail: %+v", resp)
	}

	ws.Close()
	deadline = time.Now().Add(time.Second)
	for h.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("subscriber not removed after close")
	}
}

func TestServer_CORS(t *testing.T) {
	s := New(Options{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:          testutil.NewMockStore(),
		AllowedOrigins: []string{"https://ops.example.com"},
	})
	defer s.Stop(context.Background())

	tests := []struct {
		origin string
		want   string
	}{
		{"http://localhost:3000", "http://localhost:3000"},
		{"https://ops.example.com", "https://ops.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d", tt.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("%s: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestServer_EventSocketRejectsForeignOrigin(t *testing.T) {
	h := hub.New()
	_ = h.Start()
	defer h.Stop()

	s := New(Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:  testutil.NewMockStore(),
		Hub:    h,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Stop(context.Background())

	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v", resp)
	}
}
