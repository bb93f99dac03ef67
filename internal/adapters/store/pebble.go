package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/ports"
	"github.com/brianly1003/msgr/internal/security"
)

// Key layout:
//
//	c\x00<chatID>                      chat JSON
//	m\x00<chatID>\x00<ts:8><seq:8>     message JSON, big-endian so keys sort by time
//	meta\x00seq                        last message sequence number
var (
	chatPrefix = []byte("c\x00")
	msgPrefix  = []byte("m\x00")
	seqKey     = []byte("meta\x00seq")
)

// PebbleStore implements ports.MessageStore on a Pebble key-value store.
// Search is a case-insensitive substring scan of the chat's messages.
type PebbleStore struct {
	db *pebble.DB

	// mu serializes writes; chat rows are read-modify-write.
	mu     sync.Mutex
	seq    uint64
	closed bool
}

// NewPebbleStore opens (or creates) a Pebble store in dir. ":memory:" keeps
// everything in memory.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if dir == ":memory:" {
		opts.FS = vfs.NewMem()
		dir = ""
	} else {
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}

	s := &PebbleStore{db: db}
	val, closer, err := db.Get(seqKey)
	switch {
	case err == nil:
		if len(val) == 8 {
			s.seq = binary.BigEndian.Uint64(val)
		}
		_ = closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		_ = db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	log.Info().Str("path", dir).Msg("pebble store opened")
	return s, nil
}

// AppendMessage stores a message, creating the chat on first sight.
func (s *PebbleStore) AppendMessage(ctx context.Context, chatID string, ts int64, sender, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", domain.ErrStoreClosed
	}

	msg := ports.Message{
		ID:     security.NewMessageID(time.Now()),
		ChatID: chatID,
		TS:     ts,
		Sender: sender,
		Body:   body,
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return "", domain.NewStoreError("append", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	if _, found, err := s.getChat(chatID); err != nil {
		return "", domain.NewStoreError("append", err)
	} else if !found {
		if err := putChat(b, ports.Chat{ID: chatID, Title: ChatTitle(chatID), LastMessageAt: ts}); err != nil {
			return "", domain.NewStoreError("append", err)
		}
	}

	seq := s.seq + 1
	if err := b.Set(messageKey(chatID, ts, seq), val, nil); err != nil {
		return "", domain.NewStoreError("append", err)
	}
	var seqVal [8]byte
	binary.BigEndian.PutUint64(seqVal[:], seq)
	if err := b.Set(seqKey, seqVal[:], nil); err != nil {
		return "", domain.NewStoreError("append", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", domain.NewStoreError("append", err)
	}
	s.seq = seq
	return msg.ID, nil
}

// TouchChatLastMessage upserts the chat and sets its last activity time.
func (s *PebbleStore) TouchChatLastMessage(ctx context.Context, chatID string, ts int64) error {
	return s.modifyChat(ctx, "touch", chatID, true, func(c *ports.Chat) {
		c.LastMessageAt = ts
	})
}

// IncrementUnread adds one to the chat's unread count.
func (s *PebbleStore) IncrementUnread(ctx context.Context, chatID string) error {
	return s.modifyChat(ctx, "increment_unread", chatID, false, func(c *ports.Chat) {
		c.UnreadCount++
	})
}

// MarkChatAsRead resets the chat's unread count.
func (s *PebbleStore) MarkChatAsRead(ctx context.Context, chatID string) error {
	return s.modifyChat(ctx, "mark_read", chatID, false, func(c *ports.Chat) {
		c.UnreadCount = 0
	})
}

func (s *PebbleStore) modifyChat(ctx context.Context, op, chatID string, create bool, fn func(*ports.Chat)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}

	chat, found, err := s.getChat(chatID)
	if err != nil {
		return domain.NewStoreError(op, err)
	}
	if !found {
		if !create {
			return domain.NewStoreError(op, domain.ErrChatNotFound)
		}
		chat = ports.Chat{ID: chatID, Title: ChatTitle(chatID)}
	}
	fn(&chat)

	val, err := json.Marshal(chat)
	if err != nil {
		return domain.NewStoreError(op, err)
	}
	if err := s.db.Set(chatKey(chatID), val, pebble.Sync); err != nil {
		return domain.NewStoreError(op, err)
	}
	return nil
}

// GetChats lists chats, most recently active first.
func (s *PebbleStore) GetChats(ctx context.Context, offset, limit int) ([]ports.Chat, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}

	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: chatPrefix,
		UpperBound: prefixUpperBound(chatPrefix),
	})
	if err != nil {
		return nil, domain.NewStoreError("get_chats", err)
	}
	defer func() { _ = it.Close() }()

	var all []ports.Chat
	for it.First(); it.Valid(); it.Next() {
		var c ports.Chat
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			log.Warn().Err(err).Str("key", string(it.Key())).Msg("skipping corrupt chat record")
			continue
		}
		all = append(all, c)
	}
	if err := it.Error(); err != nil {
		return nil, domain.NewStoreError("get_chats", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].LastMessageAt != all[j].LastMessageAt {
			return all[i].LastMessageAt > all[j].LastMessageAt
		}
		return all[i].ID < all[j].ID
	})

	offset = max(offset, 0)
	if offset >= len(all) {
		return []ports.Chat{}, nil
	}
	end := min(offset+normalizeLimit(limit), len(all))
	return all[offset:end], nil
}

// GetMessages lists a chat's messages, newest first.
func (s *PebbleStore) GetMessages(ctx context.Context, chatID string, offset, limit int) ([]ports.Message, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	return s.scanMessages(chatID, max(offset, 0), normalizeLimit(limit), nil)
}

// SearchMessages finds messages in a chat whose body contains query,
// ignoring case.
func (s *PebbleStore) SearchMessages(ctx context.Context, chatID, query string, limit int) ([]ports.Message, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []ports.Message{}, nil
	}
	return s.scanMessages(chatID, 0, normalizeLimit(limit), func(m ports.Message) bool {
		return strings.Contains(strings.ToLower(m.Body), needle)
	})
}

// Close closes the database. Further calls return ErrStoreClosed.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *PebbleStore) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	return nil
}

// scanMessages walks a chat's messages newest first.
func (s *PebbleStore) scanMessages(chatID string, offset, limit int, match func(ports.Message) bool) ([]ports.Message, error) {
	prefix := messagePrefix(chatID)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, domain.NewStoreError("scan_messages", err)
	}
	defer func() { _ = it.Close() }()

	out := make([]ports.Message, 0)
	skipped := 0
	for it.Last(); it.Valid() && len(out) < limit; it.Prev() {
		var m ports.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		if match != nil && !match(m) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m)
	}
	if err := it.Error(); err != nil {
		return nil, domain.NewStoreError("scan_messages", err)
	}
	return out, nil
}

func (s *PebbleStore) getChat(chatID string) (ports.Chat, bool, error) {
	val, closer, err := s.db.Get(chatKey(chatID))
	if errors.Is(err, pebble.ErrNotFound) {
		return ports.Chat{}, false, nil
	}
	if err != nil {
		return ports.Chat{}, false, err
	}
	defer closer.Close()

	var c ports.Chat
	if err := json.Unmarshal(val, &c); err != nil {
		return ports.Chat{}, false, err
	}
	return c, true, nil
}

func putChat(b *pebble.Batch, c ports.Chat) error {
	val, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.Set(chatKey(c.ID), val, nil)
}

func chatKey(chatID string) []byte {
	return append(append([]byte(nil), chatPrefix...), chatID...)
}

func messagePrefix(chatID string) []byte {
	k := append(append([]byte(nil), msgPrefix...), chatID...)
	return append(k, 0)
}

func messageKey(chatID string, ts int64, seq uint64) []byte {
	k := messagePrefix(chatID)
	k = binary.BigEndian.AppendUint64(k, uint64(ts))
	return binary.BigEndian.AppendUint64(k, seq)
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var _ ports.MessageStore = (*PebbleStore)(nil)
