package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore keeps rolling contexts in the conversations table.
type SQLStore struct {
	db *DB
}

// NewSQLStore creates a SQLStore over db.
func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{db: db}
}

// Save upserts the record for title.
func (s *SQLStore) Save(ctx context.Context, title string, rec Record) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	segments := rec.Segments
	if segments == nil {
		segments = []string{}
	}
	segJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (title, summarized_context, segments, token_count, compaction_rounds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			summarized_context = excluded.summarized_context,
			segments = excluded.segments,
			token_count = excluded.token_count,
			compaction_rounds = excluded.compaction_rounds,
			updated_at = excluded.updated_at
	`, title, rec.SummarizedContext, string(segJSON), rec.TokenCount, rec.CompactionRounds, rec.UpdatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// Load returns the record for title, or an empty record if none exists.
func (s *SQLStore) Load(ctx context.Context, title string) (Record, error) {
	if err := checkTitle(title); err != nil {
		return Record{}, err
	}

	var (
		rec     Record
		segJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT title, summarized_context, segments, token_count, compaction_rounds, updated_at
		FROM conversations WHERE title = ?
	`, title).Scan(&rec.Title, &rec.SummarizedContext, &segJSON, &rec.TokenCount, &rec.CompactionRounds, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("load conversation: %w", err)
	}

	if segJSON != "" {
		if err := json.Unmarshal([]byte(segJSON), &rec.Segments); err != nil {
			return Record{}, fmt.Errorf("decode segments: %w", err)
		}
	}
	return rec.normalize(), nil
}

// Delete removes the conversation row.
func (s *SQLStore) Delete(ctx context.Context, title string) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE title = ?", title)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all conversations, most recently updated first.
func (s *SQLStore) List(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT title, token_count, compaction_rounds, updated_at
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Title, &c.TokenCount, &c.CompactionRounds, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SQLTranscript keeps display transcripts in the messages table.
type SQLTranscript struct {
	db *DB
}

// NewSQLTranscript creates a SQLTranscript over db.
func NewSQLTranscript(db *DB) *SQLTranscript {
	return &SQLTranscript{db: db}
}

// Append inserts msgs in one transaction.
func (s *SQLTranscript) Append(ctx context.Context, title string, msgs ...Message) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	now := time.Now()
	return s.db.WithTx(ctx, func(tx *Tx) error {
		for _, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.New().String()
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO messages (id, title, speaker, content, created_at) VALUES (?, ?, ?, ?, ?)",
				m.ID, title, m.Speaker, m.Content, m.CreatedAt,
			); err != nil {
				return fmt.Errorf("append message: %w", err)
			}
		}
		return nil
	})
}

// History returns the messages of title in insertion order.
func (s *SQLTranscript) History(ctx context.Context, title string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, speaker, content, created_at FROM messages WHERE title = ? ORDER BY seq ASC",
		title,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Speaker, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteHistory removes every message of title.
func (s *SQLTranscript) DeleteHistory(ctx context.Context, title string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE title = ?", title)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
