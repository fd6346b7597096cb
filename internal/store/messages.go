package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is one stored conversation turn.
type Message struct {
	ConversationID string
	Seq            int
	Role           string
	Content        string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Document is one uploaded source document.
type Document struct {
	ID        string
	Title     string
	Content   string
	CreatedAt time.Time
}

// AppendMessage appends a turn to a conversation, creating the
// conversation if it does not exist. The sequence number is assigned by
// read-then-increment inside a single statement; SQLite's single writer
// keeps this safe in-process.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string, metadata map[string]any) error {
	metaJSON := []byte("{}")
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("store: marshal metadata: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, created_at) VALUES (?, ?)`,
		conversationID, now,
	); err != nil {
		return fmt.Errorf("store: ensure conversation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content, metadata, created_at)
		VALUES (?, COALESCE((SELECT MAX(seq) FROM messages WHERE conversation_id = ?), 0) + 1,
		        ?, ?, ?, ?)`,
		conversationID, conversationID,
		role, content, string(metaJSON), now,
	); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}

	return nil
}

// History returns all turns of a conversation in chronological order.
func (s *Store) History(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, seq, role, content, metadata, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var (
			msg          Message
			metaJSON     string
			createdAtStr string
		)
		if err := rows.Scan(&msg.ConversationID, &msg.Seq, &msg.Role, &msg.Content, &metaJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAtStr); err == nil {
			msg.CreatedAt = t
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history rows: %w", err)
	}
	return msgs, nil
}

// PutDocument stores or replaces an uploaded document.
func (s *Store) PutDocument(ctx context.Context, doc Document) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, title, content, created_at)
		VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, createdAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("store: put document: %w", err)
	}
	return nil
}

// Documents returns the documents with the given ids, in id order.
// Missing ids are silently skipped.
func (s *Store) Documents(ctx context.Context, ids []string) ([]Document, error) {
	var docs []Document
	for _, id := range ids {
		var (
			doc          Document
			createdAtStr string
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT id, title, content, created_at FROM documents WHERE id = ?`, id,
		).Scan(&doc.ID, &doc.Title, &doc.Content, &createdAtStr)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("store: load document %s: %w", id, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAtStr); err == nil {
			doc.CreatedAt = t
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// MessageCount returns the number of stored turns for a conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return count, nil
}
