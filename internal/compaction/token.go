package compaction

import (
	"fmt"
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"kronos/pkg/logger"
)

// DefaultEncoding is the BPE encoding used by gpt-4 and gpt-3.5-turbo.
const DefaultEncoding = "cl100k_base"

// EstimateEncoding names the byte-length estimate instead of a BPE encoding.
const EstimateEncoding = "estimate"

// TokenCounter measures text in model tokens. Implementations are pure and
// deterministic; empty text counts as zero.
type TokenCounter interface {
	// Count returns the token length of text.
	Count(text string) int

	// Truncate returns the longest prefix of text that is at most maxTokens long.
	Truncate(text string, maxTokens int) string
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding. Counts are exact
// for OpenAI models using the same encoding; for other services they are an
// approximation that usually lands within a few percent.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	mu       sync.Mutex
}

// NewTiktokenCounter loads the named encoding (e.g. "cl100k_base").
// Loading may fetch the rank file on first use.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: encoding, enc: enc}, nil
}

// NewTiktokenCounterForModel loads the encoding registered for model.
func NewTiktokenCounterForModel(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("resolve tiktoken encoding for %q: %w", model, err)
	}
	return &TiktokenCounter{encoding: model, enc: enc}, nil
}

// Encoding returns the encoding or model name the counter was built for.
func (t *TiktokenCounter) Encoding() string {
	return t.encoding
}

// Count returns the number of BPE tokens in text.
func (t *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate keeps the first maxTokens tokens of text.
func (t *TiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// EstimateCounter approximates token counts at about 3 bytes per token,
// which works reasonably well for mixed English/CJK content. Used when the
// BPE ranks cannot be loaded.
type EstimateCounter struct{}

// Count estimates the token count of text.
func (EstimateCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 2) / 3
}

// Truncate keeps roughly maxTokens tokens of text without splitting a rune.
func (e EstimateCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * 3
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

// NewTokenCounter returns a tiktoken counter for encoding, or for model when
// encoding is empty. EstimateEncoding selects EstimateCounter directly. If no
// BPE encoding can be loaded it falls back to EstimateCounter and logs a
// warning.
func NewTokenCounter(encoding, model string) TokenCounter {
	if encoding == EstimateEncoding {
		return EstimateCounter{}
	}
	var (
		tc  *TiktokenCounter
		err error
	)
	switch {
	case encoding != "":
		tc, err = NewTiktokenCounter(encoding)
	case model != "":
		tc, err = NewTiktokenCounterForModel(model)
		if err != nil {
			tc, err = NewTiktokenCounter(DefaultEncoding)
		}
	default:
		tc, err = NewTiktokenCounter(DefaultEncoding)
	}
	if err != nil {
		logger.Warn().Err(err).
			Str("encoding", encoding).
			Str("model", model).
			Msg("tiktoken unavailable, using byte estimate")
		return EstimateCounter{}
	}
	return tc
}
