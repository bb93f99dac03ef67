package peer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/brianly1003/msgr/internal/protocol"
	"github.com/brianly1003/msgr/internal/security"
)

// Broadcast interval defaults for RandomSource.
const (
	DefaultMinInterval = time.Second
	DefaultMaxInterval = 3 * time.Second

	chatCount = 200
)

var (
	senders = []string{"Alice", "Bob", "Charlie", "Diana", "Eve"}

	templates = []string{
		"New message incoming!",
		"How are you?",
		"Check this out!",
		"Let's talk soon.",
		"Thanks for the update.",
		"I agree with that.",
		"See you later!",
		"Great idea!",
		"What's new?",
		"Happy to help!",
	}
)

// EventSource produces the events the peer broadcasts. The returned
// channel is closed when ctx is done or the source runs dry.
type EventSource interface {
	Events(ctx context.Context) <-chan protocol.ChatEvent
}

// RandomSource emits one synthetic chat event per random interval.
type RandomSource struct {
	clk         clock.Clock
	minInterval time.Duration
	maxInterval time.Duration
	rnd         *rand.Rand
}

// NewRandomSource creates a source that waits a uniform draw from
// [minInterval, maxInterval] between events. A nil rnd uses a randomly
// seeded generator.
func NewRandomSource(clk clock.Clock, minInterval, maxInterval time.Duration, rnd *rand.Rand) *RandomSource {
	if clk == nil {
		clk = clock.New()
	}
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomSource{
		clk:         clk,
		minInterval: minInterval,
		maxInterval: maxInterval,
		rnd:         rnd,
	}
}

// Events starts generating. The generator is not safe for concurrent
// streams, so call it once per source.
func (s *RandomSource) Events(ctx context.Context) <-chan protocol.ChatEvent {
	out := make(chan protocol.ChatEvent)
	go func() {
		defer close(out)
		for {
			timer := s.clk.Timer(s.nextInterval())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			select {
			case out <- s.Next():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Next builds one synthetic event stamped with the current time.
func (s *RandomSource) Next() protocol.ChatEvent {
	now := s.clk.Now()
	return protocol.ChatEvent{
		ChatID:    fmt.Sprintf("chat_%d", s.rnd.IntN(chatCount)),
		MessageID: security.NewMessageID(now),
		TS:        now.UnixMilli(),
		Sender:    senders[s.rnd.IntN(len(senders))],
		Body:      templates[s.rnd.IntN(len(templates))],
	}
}

func (s *RandomSource) nextInterval() time.Duration {
	spread := s.maxInterval - s.minInterval
	if spread <= 0 {
		return s.minInterval
	}
	return s.minInterval + time.Duration(s.rnd.Int64N(int64(spread)+1))
}

// ChannelSource broadcasts whatever is sent on its channel. Tests use it to
// drive the peer deterministically.
type ChannelSource struct {
	ch chan protocol.ChatEvent
}

// NewChannelSource creates a source with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan protocol.ChatEvent, buffer)}
}

// Emit queues an event for broadcast.
func (s *ChannelSource) Emit(ev protocol.ChatEvent) {
	s.ch <- ev
}

// Events forwards queued events until ctx is done.
func (s *ChannelSource) Events(ctx context.Context) <-chan protocol.ChatEvent {
	out := make(chan protocol.ChatEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
