package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"kronos/internal/compaction"
	"kronos/internal/storage"
	"kronos/pkg/logger"
)

// Manager serves turns for many conversations. Turns on the same title are
// serialized; different titles proceed in parallel.
type Manager struct {
	config      Config
	gen         Generator
	counter     compaction.TokenCounter
	store       storage.ContextStore
	transcripts storage.TranscriptStore

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	claimed map[string]bool
	log     zerolog.Logger
}

// NewManager creates a Manager. transcripts may be nil.
func NewManager(config Config, gen Generator, counter compaction.TokenCounter, store storage.ContextStore, transcripts storage.TranscriptStore) *Manager {
	return &Manager{
		config:      config,
		gen:         gen,
		counter:     counter,
		store:       store,
		transcripts: transcripts,
		locks:       make(map[string]*sync.Mutex),
		claimed:     make(map[string]bool),
		log:         logger.Component("session"),
	}
}

func (m *Manager) lock(title string) func() {
	m.mu.Lock()
	l, ok := m.locks[title]
	if !ok {
		l = &sync.Mutex{}
		m.locks[title] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Send runs one turn. An empty title or the configured placeholder title
// starts a new conversation that is named on this turn; any other title
// resumes the stored conversation. It returns the conversation title and the
// response.
//
// The title lock is held until the context is saved. A new conversation
// takes the lock of the title it claims while naming, so two new
// conversations given the same name end up with distinct titles.
func (m *Manager) Send(ctx context.Context, title, userInput string) (string, string, error) {
	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	claim := func(ctx context.Context, candidate string) (bool, error) {
		r, ok, err := m.claim(ctx, candidate)
		if ok {
			release = r
		}
		return ok, err
	}

	s := New(m.config, m.gen, m.counter, m.store, WithTitle(title), WithTitleClaim(claim))
	if s.State() == Named {
		release = m.lock(s.Title())
		var err error
		s, err = Open(ctx, m.config, m.gen, m.counter, m.store, s.Title())
		if err != nil {
			return "", "", err
		}
	}

	name, response, err := s.Turn(ctx, userInput)
	if err != nil {
		return name, "", err
	}
	m.record(ctx, name, userInput, response)
	return name, response, nil
}

// claim reserves title for a new conversation and locks it. It fails when
// another new conversation holds the claim or a conversation is stored under
// title. The returned func releases both.
func (m *Manager) claim(ctx context.Context, title string) (func(), bool, error) {
	m.mu.Lock()
	if m.claimed[title] {
		m.mu.Unlock()
		return nil, false, nil
	}
	m.claimed[title] = true
	m.mu.Unlock()

	unlock := m.lock(title)
	release := func() {
		unlock()
		m.mu.Lock()
		delete(m.claimed, title)
		m.mu.Unlock()
	}

	rec, err := m.store.Load(ctx, title)
	if err != nil || !rec.IsEmpty() {
		release()
		return nil, false, err
	}
	return release, true, nil
}

// record appends the exchange to the display transcript. Failures are
// logged; the rolling context is already persisted.
func (m *Manager) record(ctx context.Context, title, userInput, response string) {
	if m.transcripts == nil {
		return
	}
	err := m.transcripts.Append(ctx, title,
		storage.Message{Speaker: string(SpeakerUser), Content: userInput},
		storage.Message{Speaker: string(SpeakerAssistant), Content: response},
	)
	if err != nil {
		m.log.Error().Err(err).Str("title", title).Msg("append transcript")
	}
}

// List returns stored conversations.
func (m *Manager) List(ctx context.Context) ([]storage.Conversation, error) {
	return m.store.List(ctx)
}

// Context returns the stored record of title.
func (m *Manager) Context(ctx context.Context, title string) (storage.Record, error) {
	return m.store.Load(ctx, title)
}

// History returns the display transcript of title.
func (m *Manager) History(ctx context.Context, title string) ([]storage.Message, error) {
	if m.transcripts == nil {
		return nil, nil
	}
	return m.transcripts.History(ctx, title)
}

// Delete removes the stored context and transcript of title. It returns
// storage.ErrNotFound when neither existed.
func (m *Manager) Delete(ctx context.Context, title string) error {
	defer m.lock(title)()

	ctxErr := m.store.Delete(ctx, title)
	if ctxErr != nil && !errors.Is(ctxErr, storage.ErrNotFound) {
		return ctxErr
	}

	histErr := storage.ErrNotFound
	if m.transcripts != nil {
		histErr = m.transcripts.DeleteHistory(ctx, title)
		if histErr != nil && !errors.Is(histErr, storage.ErrNotFound) {
			return histErr
		}
	}

	if ctxErr != nil && histErr != nil {
		return storage.ErrNotFound
	}
	m.log.Info().Str("title", title).Msg("conversation deleted")
	return nil
}
