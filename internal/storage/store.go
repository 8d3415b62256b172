package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrEmptyTitle is returned when a conversation title is blank.
var ErrEmptyTitle = errors.New("storage: empty conversation title")

// Record is the persisted rolling context of one conversation.
//
// SummarizedContext is the rendered context; Segments holds the same text
// as an ordered list so compaction can resume without re-splitting.
type Record struct {
	Title             string    `json:"title,omitempty"`
	SummarizedContext string    `json:"summarized_context"`
	Segments          []string  `json:"segments,omitempty"`
	TokenCount        int       `json:"token_count,omitempty"`
	CompactionRounds  int       `json:"compaction_rounds,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
}

// IsEmpty reports whether the record holds no context.
func (r Record) IsEmpty() bool {
	return r.SummarizedContext == "" && len(r.Segments) == 0
}

// normalize fills Segments for records written with only the rendered text.
func (r Record) normalize() Record {
	if len(r.Segments) == 0 && r.SummarizedContext != "" {
		r.Segments = []string{r.SummarizedContext}
	}
	return r
}

// Conversation summarizes a stored conversation for listings.
type Conversation struct {
	Title            string    `json:"title"`
	TokenCount       int       `json:"token_count"`
	CompactionRounds int       `json:"compaction_rounds"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ContextStore persists rolling contexts keyed by conversation title.
type ContextStore interface {
	// Save overwrites the record for title.
	Save(ctx context.Context, title string, rec Record) error

	// Load returns the record for title, or an empty record if none exists.
	Load(ctx context.Context, title string) (Record, error)

	// Delete removes the record for title. Missing records return ErrNotFound.
	Delete(ctx context.Context, title string) error

	// List returns stored conversations, most recently updated first.
	List(ctx context.Context) ([]Conversation, error)
}

// Message is one displayed line of a conversation transcript.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// TranscriptStore keeps the display history of conversations. The context
// manager never reads it.
type TranscriptStore interface {
	Append(ctx context.Context, title string, msgs ...Message) error
	History(ctx context.Context, title string) ([]Message, error)
	DeleteHistory(ctx context.Context, title string) error
}

// Stores bundles the stores of one backend.
type Stores struct {
	Contexts    ContextStore
	Transcripts TranscriptStore
	closer      io.Closer
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenStores opens the stores for driver ("file" or "sqlite") at path.
// For "file" path is a directory, for "sqlite" a database file.
func OpenStores(driver, path string) (*Stores, error) {
	switch strings.ToLower(driver) {
	case "", "file":
		fs, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		return &Stores{Contexts: fs, Transcripts: fs}, nil
	case "sqlite":
		db, err := Open(path)
		if err != nil {
			return nil, err
		}
		return &Stores{Contexts: NewSQLStore(db), Transcripts: NewSQLTranscript(db), closer: db}, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}

func checkTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	return nil
}
