package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kronos/internal/config"
)

const (
	contextSuffix    = "_context.json"
	transcriptSuffix = ".json"
	transcriptDir    = "history"
)

// FileStore keeps one JSON file per conversation: "<title>_context.json" in
// the store directory for the rolling context and "history/<title>.json" for
// the transcript. Transcripts live apart so a title ending in "_context"
// never maps onto another conversation's context file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	expanded, err := config.ExpandPath(dir)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}
	if expanded == "" {
		return nil, errors.New("storage: file store directory not set")
	}
	if err := os.MkdirAll(filepath.Join(expanded, transcriptDir), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &FileStore{dir: expanded}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) contextPath(title string) string {
	return filepath.Join(s.dir, SanitizeTitle(title)+contextSuffix)
}

func (s *FileStore) transcriptPath(title string) string {
	return filepath.Join(s.dir, transcriptDir, SanitizeTitle(title)+transcriptSuffix)
}

// Save writes the record atomically.
func (s *FileStore) Save(_ context.Context, title string, rec Record) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	rec.Title = title
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.contextPath(title), data)
}

// Load reads the record for title. A missing file yields an empty record.
func (s *FileStore) Load(_ context.Context, title string) (Record, error) {
	if err := checkTitle(title); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.contextPath(title))
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %s: %w", title, err)
	}
	if rec.Title == "" {
		rec.Title = title
	}
	return rec.normalize(), nil
}

// Delete removes the context file for title.
func (s *FileStore) Delete(_ context.Context, title string) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.contextPath(title))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// List reads every context file in the directory.
func (s *FileStore) List(_ context.Context) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var out []Conversation
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, contextSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		title := rec.Title
		if title == "" {
			title = strings.TrimSuffix(name, contextSuffix)
		}
		updated := rec.UpdatedAt
		if updated.IsZero() {
			if info, err := e.Info(); err == nil {
				updated = info.ModTime()
			}
		}
		out = append(out, Conversation{
			Title:            title,
			TokenCount:       rec.TokenCount,
			CompactionRounds: rec.CompactionRounds,
			UpdatedAt:        updated,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

type transcriptFile struct {
	Title   string    `json:"title"`
	History []Message `json:"history"`
}

// Append adds messages to the transcript file of title.
func (s *FileStore) Append(_ context.Context, title string, msgs ...Message) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.readTranscript(title)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		tf.History = append(tf.History, m)
	}

	data, err := json.Marshal(tf)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	return writeFileAtomic(s.transcriptPath(title), data)
}

// History returns the transcript of title, empty if none exists.
func (s *FileStore) History(_ context.Context, title string) ([]Message, error) {
	if err := checkTitle(title); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.readTranscript(title)
	if err != nil {
		return nil, err
	}
	return tf.History, nil
}

// DeleteHistory removes the transcript file of title.
func (s *FileStore) DeleteHistory(_ context.Context, title string) error {
	if err := checkTitle(title); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.transcriptPath(title))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) readTranscript(title string) (transcriptFile, error) {
	tf := transcriptFile{Title: title}
	data, err := os.ReadFile(s.transcriptPath(title))
	if errors.Is(err, os.ErrNotExist) {
		return tf, nil
	}
	if err != nil {
		return tf, fmt.Errorf("read transcript: %w", err)
	}
	if err := json.Unmarshal(data, &tf); err != nil {
		return tf, fmt.Errorf("decode transcript %s: %w", title, err)
	}
	return tf, nil
}

// SanitizeTitle maps a title to a safe file name stem.
func SanitizeTitle(title string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	clean = strings.Trim(clean, ". ")
	if clean == "" {
		return "untitled"
	}
	return clean
}

// writeFileAtomic writes data via a temp file + rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
