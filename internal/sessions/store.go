// Package sessions persists conversation history across process restarts
// in a SQLite database. The loop appends messages as they are committed to
// the context; History replays them on startup.
package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/anvil/internal/gateway"
	"github.com/haasonsaas/anvil/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, id);
`

// Store is a SQLite-backed message log. Safe for use from one process;
// SQLite serializes writers internally.
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(path string, logger *observability.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	// The pure-Go driver does not support concurrent connections writing
	// to one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sessions schema: %w", err)
	}
	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an existing database handle. The caller owns schema
// setup. Used by tests.
func NewWithDB(db *sql.DB, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{db: db, logger: logger}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureConversation creates the conversation row when absent.
func (s *Store) EnsureConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, created_at) VALUES (?, ?)`,
		conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure conversation %s: %w", conversationID, err)
	}
	return nil
}

// Append persists one message at the tail of the conversation.
func (s *Store) Append(ctx context.Context, conversationID string, msg gateway.Message) error {
	if err := s.EnsureConversation(ctx, conversationID); err != nil {
		return err
	}
	toolCalls := ""
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, tool_call_id, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, msg.Role, msg.Content, msg.ToolCallID, toolCalls, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns the conversation's messages in insertion order.
func (s *Store) History(ctx context.Context, conversationID string) ([]gateway.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_call_id, tool_calls
		 FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []gateway.Message
	for rows.Next() {
		var msg gateway.Message
		var toolCalls string
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.ToolCallID, &toolCalls); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
				s.logger.Warn(ctx, "dropping undecodable tool calls",
					"conversation_id", conversationID, "error", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Conversations lists known conversation ids, oldest first.
func (s *Store) Conversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
