package compaction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"kronos/pkg/logger"
)

// Summarizer compresses text. The generation client satisfies it; a
// service failure is expected to come back as fallback text, not an error.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Compactor owns the rolling context of one conversation and keeps it within
// the token budget. It is not safe for concurrent use; a conversation has a
// single owner.
type Compactor struct {
	config     Config
	counter    TokenCounter
	summarizer Summarizer
	segments   []Segment
	rounds     int
	log        zerolog.Logger
}

// NewCompactor creates a Compactor with an empty context.
func NewCompactor(config Config, counter TokenCounter, summarizer Summarizer) *Compactor {
	if counter == nil {
		counter = EstimateCounter{}
	}
	if config.Budget <= 0 {
		config.Budget = DefaultConfig().Budget
	}
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = DefaultConfig().SummaryMaxTokens
	}
	if config.OverflowPolicy == "" {
		config.OverflowPolicy = OverflowTruncate
	}
	return &Compactor{
		config:     config,
		counter:    counter,
		summarizer: summarizer,
		log:        logger.Component("compaction"),
	}
}

// Restore replaces the context with previously stored segments.
func (c *Compactor) Restore(segments []Segment) {
	c.segments = append([]Segment(nil), segments...)
}

// Context renders the rolling context.
func (c *Compactor) Context() string {
	return Render(c.segments)
}

// Segments returns a copy of the current segments, oldest first.
func (c *Compactor) Segments() []Segment {
	return append([]Segment(nil), c.segments...)
}

// Tokens returns the token count of the rendered context.
func (c *Compactor) Tokens() int {
	return c.counter.Count(c.Context())
}

// Rounds returns the number of compaction rounds performed so far.
func (c *Compactor) Rounds() int {
	return c.rounds
}

// Budget returns the token budget.
func (c *Compactor) Budget() int {
	return c.config.Budget
}

func (c *Compactor) overBudget() bool {
	return c.Tokens() > c.config.Budget
}

// Absorb appends an exchange summary as the newest segment and compacts the
// oldest segments until the context fits the budget. The loop runs at most
// once per segment present on entry, so it terminates even when summaries
// do not shrink. If one segment alone is still over budget, the overflow
// policy applies.
func (c *Compactor) Absorb(ctx context.Context, exchangeSummary string) (string, error) {
	if exchangeSummary != "" {
		c.segments = append(c.segments, Segment{Text: exchangeSummary})
	}

	limit := len(c.segments)
	for i := 0; i < limit && c.overBudget(); i++ {
		changed, err := c.CompactOldest(ctx)
		if err != nil {
			return c.Context(), err
		}
		if !changed {
			break
		}
	}

	if c.overBudget() {
		c.handleOverflow()
	}
	return c.Context(), nil
}

// CompactOldest runs one compaction round: the two oldest segments are
// summarized together and the result takes the oldest position. Every other
// segment keeps its content and relative order. It reports false and leaves
// the context untouched when the context is within budget or fewer than two
// segments exist.
func (c *Compactor) CompactOldest(ctx context.Context) (bool, error) {
	if !c.overBudget() || len(c.segments) < 2 {
		return false, nil
	}
	if c.summarizer == nil {
		return false, ErrNoSummarizer
	}

	before := c.Tokens()
	merged := c.segments[0].Text + segmentSeparator + c.segments[1].Text

	summary, err := c.summarizer.Summarize(ctx, merged, c.config.SummaryMaxTokens)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSummaryFailed, err)
	}

	rest := c.segments[2:]
	next := make([]Segment, 0, len(rest)+1)
	next = append(next, Segment{Text: summary, Compacted: true})
	next = append(next, rest...)
	c.segments = next
	c.rounds++

	c.log.Debug().
		Int("round", c.rounds).
		Int("tokens_before", before).
		Int("tokens_after", c.Tokens()).
		Int("segments", len(c.segments)).
		Int("budget", c.config.Budget).
		Msg("compacted oldest segments")
	return true, nil
}

func (c *Compactor) handleOverflow() {
	tokens := c.Tokens()
	switch c.config.OverflowPolicy {
	case OverflowAccept:
		c.log.Warn().
			Int("tokens", tokens).
			Int("budget", c.config.Budget).
			Msg("context over budget, accepting overflow")
	default:
		// Only the newest segment is cut: older ones are already summaries.
		last := len(c.segments) - 1
		room := c.config.Budget
		if last > 0 {
			room -= c.counter.Count(Render(c.segments[:last]) + segmentSeparator)
		}
		if room <= 0 {
			c.segments = c.segments[last:]
			room = c.config.Budget
			last = 0
		}
		text := c.segments[last].Text
		c.segments[last].Text = c.counter.Truncate(text, room)
		// BPE merges across the separator can cost a token.
		for c.overBudget() && room > 0 {
			room--
			c.segments[last].Text = c.counter.Truncate(text, room)
		}
		c.log.Warn().
			Int("tokens_before", tokens).
			Int("tokens_after", c.Tokens()).
			Int("budget", c.config.Budget).
			Msg("context over budget, truncated newest segment")
	}
}
