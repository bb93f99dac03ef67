package link

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brianly1003/msgr/internal/domain"
)

// echoServer upgrades every request and wraps the connection in a Link
// that echoes each frame back.
type echoServer struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	links  []*Link
	closed chan error
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	es := &echoServer{t: t, closed: make(chan error, 4)}
	upgrader := websocket.Upgrader{}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		l := New(conn, Options{
			OnFrame: func(l *Link, data []byte) { _ = l.Send(data) },
			OnClose: func(l *Link, err error) { es.closed <- err },
		})
		es.mu.Lock()
		es.links = append(es.links, l)
		es.mu.Unlock()
		l.Start()
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

func (es *echoServer) firstLink(t *testing.T) *Link {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		es.mu.Lock()
		if len(es.links) > 0 {
			l := es.links[0]
			es.mu.Unlock()
			return l
		}
		es.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never accepted a link")
	return nil
}

func dial(t *testing.T, url string, opts Options) *Link {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	l := New(conn, opts)
	l.Start()
	return l
}

func TestLink_SendAndReceive(t *testing.T) {
	es := newEchoServer(t)

	frames := make(chan string, 4)
	l := dial(t, es.url(), Options{
		OnFrame: func(_ *Link, data []byte) { frames <- string(data) },
	})
	defer l.Close()

	if l.ID() == "" {
		t.Error("link has no id")
	}

	for _, msg := range []string{`{"type":"ping"}`, `{"n":1}`, `{"n":2}`} {
		if err := l.Send([]byte(msg)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	// Order is preserved on a single link.
	for _, want := range []string{`{"type":"ping"}`, `{"n":1}`, `{"n":2}`} {
		select {
		case got := <-frames:
			if got != want {
				t.Errorf("frame = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestLink_CloseNotifiesBothEnds(t *testing.T) {
	es := newEchoServer(t)

	closed := make(chan error, 1)
	l := dial(t, es.url(), Options{
		OnClose: func(_ *Link, err error) { closed <- err },
	})
	es.firstLink(t)

	l.Close()
	l.Close() // idempotent

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("local close reported error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close handler never fired")
	}

	select {
	case err := <-es.closed:
		if err != nil {
			t.Errorf("normal closure reported as error %v on the server", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the close")
	}

	if err := l.Send([]byte("x")); !errors.Is(err, domain.ErrLinkClosed) {
		t.Errorf("Send() after Close error = %v, want ErrLinkClosed", err)
	}
	if !l.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestLink_TerminateIsAbnormal(t *testing.T) {
	es := newEchoServer(t)

	closed := make(chan error, 1)
	l := dial(t, es.url(), Options{
		OnClose: func(_ *Link, err error) { closed <- err },
	})
	defer l.Close()

	server := es.firstLink(t)
	server.Terminate()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("client saw a clean close after Terminate, want an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed the dropped connection")
	}
}

func TestLink_TerminateSendsNoCloseFrame(t *testing.T) {
	for i := 0; i < 20; i++ {
		es := newEchoServer(t)
		conn, _, err := websocket.DefaultDialer.Dial(es.url(), nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}

		es.firstLink(t).Terminate()

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = conn.ReadMessage()
		conn.Close()
		if err == nil {
			t.Fatal("read succeeded after Terminate")
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
			t.Fatalf("iteration %d: got close frame %d after Terminate", i, ce.Code)
		}
	}
}

func TestLink_CloseHandlerFiresOnce(t *testing.T) {
	es := newEchoServer(t)

	var mu sync.Mutex
	calls := 0
	l := dial(t, es.url(), Options{
		OnClose: func(_ *Link, _ error) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})

	l.Close()
	l.Terminate()
	<-l.Done()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("close handler fired %d times, want 1", calls)
	}
}
