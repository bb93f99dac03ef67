package peer

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/brianly1003/msgr/internal/protocol"
	"github.com/brianly1003/msgr/internal/security"
)

func newSeededSource(mock *clock.Mock) *RandomSource {
	return NewRandomSource(mock, DefaultMinInterval, DefaultMaxInterval, rand.New(rand.NewPCG(1, 2)))
}

func TestRandomSource_Next(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))
	src := newSeededSource(mock)

	idPattern := regexp.MustCompile(`^msg_1700000000000_[0-9a-f]{32}$`)

	for i := 0; i < 200; i++ {
		ev := src.Next()

		n, err := strconv.Atoi(strings.TrimPrefix(ev.ChatID, "chat_"))
		if !strings.HasPrefix(ev.ChatID, "chat_") || err != nil || n < 0 || n >= chatCount {
			t.Fatalf("ChatID = %q, want chat_0..chat_199", ev.ChatID)
		}
		if !idPattern.MatchString(ev.MessageID) {
			t.Fatalf("MessageID = %q", ev.MessageID)
		}
		if ev.TS != 1700000000000 {
			t.Fatalf("TS = %d, want clock time", ev.TS)
		}
		if !slices.Contains(senders, ev.Sender) {
			t.Fatalf("Sender = %q", ev.Sender)
		}
		if !slices.Contains(templates, ev.Body) {
			t.Fatalf("Body = %q", ev.Body)
		}
	}
}

func TestRandomSource_EventsPassValidation(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now())
	src := newSeededSource(mock)

	data, err := protocol.EncodeChat(src.Next())
	if err != nil {
		t.Fatal(err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, err := security.ValidateMessage(raw); err != nil {
		t.Errorf("generated event rejected: %v", err)
	}
}

func TestRandomSource_IntervalBounds(t *testing.T) {
	src := newSeededSource(clock.NewMock())
	for i := 0; i < 1000; i++ {
		d := src.nextInterval()
		if d < DefaultMinInterval || d > DefaultMaxInterval {
			t.Fatalf("nextInterval() = %v, want [1s, 3s]", d)
		}
	}
}

func TestRandomSource_EmitsOnClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1700000000000))
	src := newSeededSource(mock)

	ctx, cancel := context.WithCancel(context.Background())
	events := src.Events(ctx)

	for i := 0; i < 3; i++ {
		// Let the generator arm its timer before advancing.
		time.Sleep(10 * time.Millisecond)
		mock.Add(DefaultMaxInterval)

		select {
		case ev := <-events:
			if ev.ChatID == "" {
				t.Errorf("empty event %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no event after advancing %v", DefaultMaxInterval)
		}
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			// One in-flight event may still be delivered.
			if _, ok := <-events; ok {
				t.Error("events channel still open after cancel")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}

func TestRandomSource_Defaults(t *testing.T) {
	src := NewRandomSource(nil, 0, 0, nil)
	if src.minInterval != DefaultMinInterval || src.maxInterval != DefaultMinInterval {
		t.Errorf("intervals = [%v, %v]", src.minInterval, src.maxInterval)
	}
}
