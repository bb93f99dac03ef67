package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/events"
	"github.com/brianly1003/msgr/internal/testutil"
)

const validFrame = `{"chatId":"chat_7","messageId":"m1","ts":1700000000000,"sender":"Alice","body":"hi"}`

func TestIngester_StoresInOrder(t *testing.T) {
	st := testutil.NewMockStore()
	h := testutil.NewMockEventHub()
	ing := NewIngester(st, h)

	msg, err := ing.Handle(context.Background(), []byte(validFrame))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if msg.ChatID != "chat_7" || msg.Body != "hi" {
		t.Errorf("msg = %+v", msg)
	}

	want := []string{"append", "touch", "increment"}
	if got := st.Ops(); !reflect.DeepEqual(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
	calls := st.Calls()
	if calls[0].TS != 1700000000000 || calls[1].TS != 1700000000000 {
		t.Errorf("ts not carried through: %+v", calls)
	}

	published := h.EventsOfType(events.EventTypeChatMessage)
	if len(published) != 1 {
		t.Fatalf("chat_message events = %d, want 1", len(published))
	}
	payload := published[0].(*events.BaseEvent).Payload.(events.ChatMessagePayload)
	if payload.MessageID != "mock_0001" {
		t.Errorf("published message ID = %s, want store ID", payload.MessageID)
	}
}

func TestIngester_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantField string
	}{
		{"missing body", `{"chatId":"c","messageId":"m","ts":1,"sender":"s"}`, "body"},
		{"zero ts", `{"chatId":"c","messageId":"m","ts":0,"sender":"s","body":"b"}`, "ts"},
		{"string ts", `{"chatId":"c","messageId":"m","ts":"1","sender":"s","body":"b"}`, "ts"},
		{"empty sender", `{"chatId":"c","messageId":"m","ts":1,"sender":"","body":"b"}`, "sender"},
		{"long body", `{"chatId":"c","messageId":"m","ts":1,"sender":"s","body":"` + strings.Repeat("x", 8193) + `"}`, "body"},
		{"array", `[1,2]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := testutil.NewMockStore()
			h := testutil.NewMockEventHub()
			ing := NewIngester(st, h)

			_, err := ing.Handle(context.Background(), []byte(tt.frame))
			if !errors.Is(err, domain.ErrInvalidMessage) {
				t.Errorf("error = %v, want ErrInvalidMessage", err)
			}
			if ops := st.Ops(); len(ops) != 0 {
				t.Errorf("rejected message reached the store: %v", ops)
			}

			rejected := h.EventsOfType(events.EventTypeMessageRejected)
			if len(rejected) != 1 {
				t.Fatalf("message_rejected events = %d, want 1", len(rejected))
			}
			payload := rejected[0].(*events.BaseEvent).Payload.(events.MessageRejectedPayload)
			if payload.Field != tt.wantField {
				t.Errorf("field = %q, want %q", payload.Field, tt.wantField)
			}
			if len(h.EventsOfType(events.EventTypeChatMessage)) != 0 {
				t.Error("rejected message was published")
			}
		})
	}
}

func TestIngester_MalformedFrame(t *testing.T) {
	st := testutil.NewMockStore()
	h := testutil.NewMockEventHub()
	ing := NewIngester(st, h)

	if _, err := ing.Handle(context.Background(), []byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if len(st.Ops()) != 0 {
		t.Error("malformed frame reached the store")
	}
	if len(h.EventsOfType(events.EventTypeMessageRejected)) != 1 {
		t.Error("expected a message_rejected event")
	}
}

func TestIngester_IgnoresControlFrames(t *testing.T) {
	st := testutil.NewMockStore()
	h := testutil.NewMockEventHub()
	ing := NewIngester(st, h)

	if _, err := ing.Handle(context.Background(), []byte(`{"type":"pong"}`)); err != nil {
		t.Errorf("Handle(pong) error = %v", err)
	}
	if len(st.Ops()) != 0 || len(h.PublishedEvents()) != 0 {
		t.Error("control frame should be ignored")
	}
}

func TestIngester_StorageFailureStopsChain(t *testing.T) {
	tests := []struct {
		failOp  string
		wantOps []string
	}{
		{"append", []string{"append"}},
		{"touch", []string{"append", "touch"}},
		{"increment", []string{"append", "touch", "increment"}},
	}

	for _, tt := range tests {
		t.Run(tt.failOp, func(t *testing.T) {
			st := testutil.NewMockStore()
			h := testutil.NewMockEventHub()
			boom := errors.New("disk full")
			st.FailOn(tt.failOp, boom)
			ing := NewIngester(st, h)

			_, err := ing.Handle(context.Background(), []byte(validFrame))
			if !errors.Is(err, boom) {
				t.Errorf("error = %v, want wrapped %v", err, boom)
			}
			if got := st.Ops(); !reflect.DeepEqual(got, tt.wantOps) {
				t.Errorf("ops = %v, want %v", got, tt.wantOps)
			}
			if len(h.EventsOfType(events.EventTypeChatMessage)) != 0 {
				t.Error("failed message was published")
			}
		})
	}
}

func TestIngester_NilHub(t *testing.T) {
	ing := NewIngester(testutil.NewMockStore(), nil)
	if _, err := ing.Handle(context.Background(), []byte(validFrame)); err != nil {
		t.Errorf("Handle() error = %v", err)
	}
	if _, err := ing.Handle(context.Background(), []byte(`[]`)); err == nil {
		t.Error("expected rejection")
	}
}
