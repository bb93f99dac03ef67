// Package store provides the message store backends: SQLite with FTS5
// search, and a Pebble key-value alternative.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/brianly1003/msgr/internal/domain"
	"github.com/brianly1003/msgr/internal/domain/ports"
	"github.com/brianly1003/msgr/internal/security"
)

const schemaVersion = 1

// SQLiteStore implements ports.MessageStore on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" opens
// a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to set pragma")
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	log.Info().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			last_message_at INTEGER NOT NULL,
			unread_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_chats_last_message_at ON chats (last_message_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, ts DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			body,
			content='messages',
			content_rowid='seq',
			tokenize='unicode61'
		);

		CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, body) VALUES (new.seq, new.body);
		END;

		CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.seq, old.body);
		END;
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
	return err
}

// AppendMessage stores a message, creating the chat row on first sight.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID string, ts int64, sender, body string) (string, error) {
	if s.closed.Load() {
		return "", domain.ErrStoreClosed
	}

	id := security.NewMessageID(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.NewStoreError("append", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats (id, title, last_message_at, unread_count) VALUES (?, ?, ?, 0)`,
		chatID, ChatTitle(chatID), ts,
	); err != nil {
		return "", domain.NewStoreError("append", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, ts, sender, body) VALUES (?, ?, ?, ?, ?)`,
		id, chatID, ts, sender, body,
	); err != nil {
		return "", domain.NewStoreError("append", err)
	}

	if err := tx.Commit(); err != nil {
		return "", domain.NewStoreError("append", err)
	}
	return id, nil
}

// TouchChatLastMessage upserts the chat and sets its last activity time.
func (s *SQLiteStore) TouchChatLastMessage(ctx context.Context, chatID string, ts int64) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, last_message_at, unread_count) VALUES (?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET last_message_at = excluded.last_message_at
	`, chatID, ChatTitle(chatID), ts)
	if err != nil {
		return domain.NewStoreError("touch", err)
	}
	return nil
}

// IncrementUnread adds one to the chat's unread count.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, chatID string) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	return s.updateChat(ctx, "increment_unread",
		`UPDATE chats SET unread_count = unread_count + 1 WHERE id = ?`, chatID)
}

// MarkChatAsRead resets the chat's unread count.
func (s *SQLiteStore) MarkChatAsRead(ctx context.Context, chatID string) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	return s.updateChat(ctx, "mark_read",
		`UPDATE chats SET unread_count = 0 WHERE id = ?`, chatID)
}

func (s *SQLiteStore) updateChat(ctx context.Context, op, query, chatID string) error {
	res, err := s.db.ExecContext(ctx, query, chatID)
	if err != nil {
		return domain.NewStoreError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewStoreError(op, err)
	}
	if n == 0 {
		return domain.NewStoreError(op, domain.ErrChatNotFound)
	}
	return nil
}

// GetChats lists chats, most recently active first.
func (s *SQLiteStore) GetChats(ctx context.Context, offset, limit int) ([]ports.Chat, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, last_message_at, unread_count
		FROM chats
		ORDER BY last_message_at DESC, id
		LIMIT ? OFFSET ?
	`, normalizeLimit(limit), max(offset, 0))
	if err != nil {
		return nil, domain.NewStoreError("get_chats", err)
	}
	defer rows.Close()

	chats := make([]ports.Chat, 0, limit)
	for rows.Next() {
		var c ports.Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, domain.NewStoreError("get_chats", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("get_chats", err)
	}
	return chats, nil
}

// GetMessages lists a chat's messages, newest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string, offset, limit int) ([]ports.Message, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, ts, sender, body
		FROM messages
		WHERE chat_id = ?
		ORDER BY ts DESC, seq DESC
		LIMIT ? OFFSET ?
	`, chatID, normalizeLimit(limit), max(offset, 0))
	if err != nil {
		return nil, domain.NewStoreError("get_messages", err)
	}
	return scanMessages(rows, "get_messages")
}

// SearchMessages finds messages in a chat whose body contains every word
// of query as a word prefix.
func (s *SQLiteStore) SearchMessages(ctx context.Context, chatID, query string, limit int) ([]ports.Message, error) {
	if s.closed.Load() {
		return nil, domain.ErrStoreClosed
	}

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return []ports.Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, m.ts, m.sender, m.body
		FROM messages m
		JOIN messages_fts fts ON m.seq = fts.rowid
		WHERE messages_fts MATCH ? AND m.chat_id = ?
		ORDER BY m.ts DESC, m.seq DESC
		LIMIT ?
	`, ftsQuery, chatID, normalizeLimit(limit))
	if err != nil {
		return nil, domain.NewStoreError("search", err)
	}
	return scanMessages(rows, "search")
}

// Close closes the database. Further calls return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func scanMessages(rows *sql.Rows, op string) ([]ports.Message, error) {
	defer rows.Close()

	msgs := make([]ports.Message, 0)
	for rows.Next() {
		var m ports.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.TS, &m.Sender, &m.Body); err != nil {
			return nil, domain.NewStoreError(op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError(op, err)
	}
	return msgs, nil
}

// buildFTSQuery turns free text into an FTS5 query of quoted prefix terms.
func buildFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", " ",
		"*", " ",
		"(", " ",
		")", " ",
		":", " ",
		"^", " ",
	)
	words := strings.Fields(replacer.Replace(query))
	if len(words) == 0 {
		return ""
	}
	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = `"` + w + `"*`
	}
	return strings.Join(terms, " ")
}

var _ ports.MessageStore = (*SQLiteStore)(nil)
