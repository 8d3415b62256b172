// Package session runs conversation turns: naming, generation, folding the
// exchange into the rolling context, and persisting it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kronos/internal/compaction"
	"kronos/internal/generation"
	"kronos/internal/storage"
	"kronos/pkg/logger"
)

// DefaultTitle is the placeholder title of a conversation that has not been
// named yet, used when Config.DefaultTitle is empty. A caller passing the
// placeholder as an override means "no override".
const DefaultTitle = "New Chat"

const namingPrompt = "What would be an appropriate name for the chat with this starting response: %s. Please just respond with the name."

// Session errors.
var (
	// ErrPersist wraps storage failures; the turn is reported as failed
	// although its response was generated.
	ErrPersist = errors.New("session: persist context")

	// ErrEmptyInput is returned for blank user input.
	ErrEmptyInput = errors.New("session: user input is required")
)

// State is the naming state of a session.
type State int

const (
	// Unnamed sessions pick a title on their first turn.
	Unnamed State = iota
	// Named sessions keep their title for life.
	Named
)

func (s State) String() string {
	if s == Named {
		return "named"
	}
	return "unnamed"
}

// Speaker identifies who produced an exchange.
type Speaker string

const (
	SpeakerUser      Speaker = "You"
	SpeakerAssistant Speaker = "Assistant"
)

// Exchange is one side of a turn. It is folded into the rolling context and
// not retained by the session.
type Exchange struct {
	Speaker Speaker
	Content string
}

// Generator is the generation service as seen by a session.
// *generation.Client implements it.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, contextText, userMessage string) (string, error)
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Config configures sessions.
type Config struct {
	// SystemPrompt is sent first on every generate call.
	SystemPrompt string

	// NamingEnabled issues a generate call to title new conversations.
	// When false the title is derived from the first words of the input.
	NamingEnabled bool

	// DefaultTitle is the placeholder title callers send for a new
	// conversation. Empty means DefaultTitle.
	DefaultTitle string

	// Compaction bounds the rolling context.
	Compaction compaction.Config
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:  generation.DefaultSystemPrompt,
		NamingEnabled: true,
		DefaultTitle:  DefaultTitle,
		Compaction:    compaction.DefaultConfig(),
	}
}

// Option configures a Session.
type Option func(*Session)

// WithTitle names the session up front so the first turn skips naming.
// Empty and the configured placeholder title are ignored.
func WithTitle(title string) Option {
	return func(s *Session) {
		title = strings.TrimSpace(title)
		if title == "" || title == s.config.DefaultTitle {
			return
		}
		s.title = title
		s.state = Named
	}
}

// TitleClaim reserves title for a new conversation. It reports false when
// the title is taken, either stored or claimed by another turn in flight.
type TitleClaim func(ctx context.Context, title string) (bool, error)

// WithTitleClaim makes naming reserve its title through claim instead of
// only checking the store.
func WithTitleClaim(claim TitleClaim) Option {
	return func(s *Session) {
		s.claim = claim
	}
}

// Session owns one conversation. It is not safe for concurrent use; callers
// that share titles go through a Manager.
type Session struct {
	config     Config
	gen        Generator
	store      storage.ContextStore
	compactor  *compaction.Compactor
	title      string
	state      State
	baseRounds int
	claim      TitleClaim
	log        zerolog.Logger
}

// New creates a session with an empty rolling context.
func New(config Config, gen Generator, counter compaction.TokenCounter, store storage.ContextStore, opts ...Option) *Session {
	if config.SystemPrompt == "" {
		config.SystemPrompt = generation.DefaultSystemPrompt
	}
	if config.DefaultTitle == "" {
		config.DefaultTitle = DefaultTitle
	}
	s := &Session{
		config:    config,
		gen:       gen,
		store:     store,
		compactor: compaction.NewCompactor(config.Compaction, counter, gen),
		state:     Unnamed,
		log:       logger.Component("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open resumes the conversation stored under title. A title with no stored
// record starts empty.
func Open(ctx context.Context, config Config, gen Generator, counter compaction.TokenCounter, store storage.ContextStore, title string) (*Session, error) {
	s := New(config, gen, counter, store, WithTitle(title))
	if s.state != Named {
		return s, nil
	}
	rec, err := store.Load(ctx, s.title)
	if err != nil {
		return nil, fmt.Errorf("load context %q: %w", s.title, err)
	}
	s.compactor.Restore(compaction.FromTexts(rec.Segments))
	s.baseRounds = rec.CompactionRounds
	return s, nil
}

// Title returns the session title, empty while Unnamed.
func (s *Session) Title() string { return s.title }

// State returns the naming state.
func (s *Session) State() State { return s.state }

// Context returns the rendered rolling context.
func (s *Session) Context() string { return s.compactor.Context() }

// Segments returns the rolling context segments, oldest first.
func (s *Session) Segments() []compaction.Segment { return s.compactor.Segments() }

// Rounds returns the compaction rounds recorded for this conversation.
func (s *Session) Rounds() int { return s.baseRounds + s.compactor.Rounds() }

// Turn answers userInput and folds the exchange into the rolling context.
// The updated context is persisted before Turn returns; a storage failure is
// returned wrapped in ErrPersist.
func (s *Session) Turn(ctx context.Context, userInput string) (title, response string, err error) {
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return s.title, "", ErrEmptyInput
	}

	if s.state == Unnamed {
		name, err := s.name(ctx, userInput)
		if err != nil {
			return "", "", err
		}
		s.title = name
		s.state = Named
		s.log.Info().Str("title", name).Msg("conversation named")
	}

	response, err = s.gen.Generate(ctx, s.config.SystemPrompt, s.compactor.Context(), userInput)
	if err != nil {
		return s.title, "", fmt.Errorf("generate response: %w", err)
	}

	summary, err := s.gen.Summarize(ctx, exchangeText(userInput, response), s.config.Compaction.SummaryMaxTokens)
	if err != nil {
		return s.title, "", fmt.Errorf("summarize exchange: %w", err)
	}

	if _, err := s.compactor.Absorb(ctx, summary); err != nil {
		return s.title, "", fmt.Errorf("compact context: %w", err)
	}

	rec := storage.Record{
		SummarizedContext: s.compactor.Context(),
		Segments:          compaction.Texts(s.compactor.Segments()),
		TokenCount:        s.compactor.Tokens(),
		CompactionRounds:  s.Rounds(),
	}
	if err := s.store.Save(ctx, s.title, rec); err != nil {
		return s.title, "", fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.log.Debug().
		Str("title", s.title).
		Int("tokens", rec.TokenCount).
		Int("segments", len(rec.Segments)).
		Int("rounds", rec.CompactionRounds).
		Msg("turn complete")
	return s.title, response, nil
}

func exchangeText(userInput, response string) string {
	return "User prompt: " + userInput + "\nAssistant response: " + response
}

// name picks the title of a new conversation.
func (s *Session) name(ctx context.Context, userInput string) (string, error) {
	var name string
	if s.config.NamingEnabled {
		resp, err := s.gen.Generate(ctx, s.config.SystemPrompt, s.compactor.Context(), fmt.Sprintf(namingPrompt, userInput))
		if err != nil {
			return "", fmt.Errorf("name conversation: %w", err)
		}
		if resp != generation.ResponseFallback {
			name = CleanTitle(resp)
		}
	}
	if name == "" {
		name = DeriveTitle(userInput)
	}
	return s.uniqueTitle(ctx, name)
}

// uniqueTitle appends a counter when name is already taken.
func (s *Session) uniqueTitle(ctx context.Context, name string) (string, error) {
	candidate := name
	for i := 2; i < 100; i++ {
		free, err := s.titleFree(ctx, candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)", name, i)
	}
	return "", fmt.Errorf("no free title for %q", name)
}

func (s *Session) titleFree(ctx context.Context, title string) (bool, error) {
	if s.claim != nil {
		ok, err := s.claim(ctx, title)
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrPersist, err)
		}
		return ok, nil
	}
	rec, err := s.store.Load(ctx, title)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return rec.IsEmpty(), nil
}
