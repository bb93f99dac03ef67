package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/brianly1003/msgr/internal/domain/ports"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
)

const (
	// DefaultLimit is used when a caller passes a non-positive limit.
	DefaultLimit = 50

	// MaxLimit caps a single page.
	MaxLimit = 500
)

// Open opens the store for driver at path.
func Open(driver, path string) (ports.MessageStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverPebble:
		return NewPebbleStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// ChatTitle derives a display title for a chat first seen over the wire.
// "chat_N" becomes "Chat N+1"; anything else keeps its ID.
func ChatTitle(chatID string) string {
	if n, ok := strings.CutPrefix(chatID, "chat_"); ok {
		if i, err := strconv.Atoi(n); err == nil && i >= 0 {
			return fmt.Sprintf("Chat %d", i+1)
		}
	}
	return chatID
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

var (
	seedSenders = []string{"Alice", "Bob", "Charlie", "Diana", "Eve"}

	seedBodies = []string{
		"Hey there!",
		"How are you doing?",
		"Did you see the news?",
		"Let's catch up soon.",
		"That sounds great!",
		"I'll get back to you.",
		"Thanks for letting me know.",
		"See you tomorrow!",
		"Have a great day!",
		"What do you think about this?",
	}
)

// Seed fills st with demo data: chats chat_0..chat_{chats-1}, each with
// perChat messages five minutes apart and a random unread count below 10.
// Chat i's last activity is i minutes before now.
func Seed(ctx context.Context, st ports.MessageStore, chats, perChat int, now time.Time, rnd *rand.Rand) error {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(now.UnixNano()), 0))
	}
	nowMs := now.UnixMilli()

	for i := 0; i < chats; i++ {
		chatID := fmt.Sprintf("chat_%d", i)
		last := nowMs - int64(i)*int64(time.Minute/time.Millisecond)

		for j := 0; j < perChat; j++ {
			ts := last - int64(perChat-1-j)*int64(5*time.Minute/time.Millisecond)
			sender := seedSenders[rnd.IntN(len(seedSenders))]
			body := seedBodies[rnd.IntN(len(seedBodies))]
			if _, err := st.AppendMessage(ctx, chatID, ts, sender, body); err != nil {
				return fmt.Errorf("seed %s: %w", chatID, err)
			}
		}

		if err := st.TouchChatLastMessage(ctx, chatID, last); err != nil {
			return fmt.Errorf("seed %s: %w", chatID, err)
		}
		for n := rnd.IntN(10); n > 0; n-- {
			if err := st.IncrementUnread(ctx, chatID); err != nil {
				return fmt.Errorf("seed %s: %w", chatID, err)
			}
		}
	}
	return nil
}
