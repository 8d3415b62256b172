package compaction

import (
	"fmt"
	"strings"
)

// OverflowPolicy decides what happens when the context is still over budget
// and no further compaction is possible (a single segment exceeds the budget).
type OverflowPolicy string

const (
	// OverflowTruncate cuts the remaining segment down to the budget,
	// keeping its head.
	OverflowTruncate OverflowPolicy = "truncate"

	// OverflowAccept leaves the context over budget and logs a warning.
	OverflowAccept OverflowPolicy = "accept"
)

// ParseOverflowPolicy converts a config value to an OverflowPolicy.
// Empty selects OverflowTruncate.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverflowTruncate:
		return OverflowTruncate, nil
	case OverflowAccept:
		return OverflowAccept, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOverflowPolicy, s)
	}
}

// Config holds configuration for context compaction.
type Config struct {
	// Budget is the maximum number of tokens the rolling context may occupy.
	// Default: 4096
	Budget int `json:"budget" yaml:"budget"`

	// OverflowPolicy applies when one segment alone exceeds Budget.
	// Default: truncate
	OverflowPolicy OverflowPolicy `json:"overflow_policy" yaml:"overflowPolicy"`

	// SummaryMaxTokens is the completion limit passed to each summarize call.
	// Default: 100
	SummaryMaxTokens int `json:"summary_max_tokens" yaml:"summaryMaxTokens"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Budget:           4096,
		OverflowPolicy:   OverflowTruncate,
		SummaryMaxTokens: 100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Budget <= 0 {
		return ErrInvalidBudget
	}
	if _, err := ParseOverflowPolicy(string(c.OverflowPolicy)); err != nil {
		return err
	}
	return nil
}
