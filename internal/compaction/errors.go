// Package compaction keeps a rolling conversation context under a token
// budget by recursively summarizing its oldest segments.
package compaction

import "errors"

// Compaction errors.
var (
	// ErrSummaryFailed indicates that the summarizer returned an error.
	ErrSummaryFailed = errors.New("compaction: summary generation failed")

	// ErrNoSummarizer indicates that no summarizer is configured.
	ErrNoSummarizer = errors.New("compaction: summarizer not configured")

	// ErrInvalidBudget indicates a non-positive token budget.
	ErrInvalidBudget = errors.New("compaction: token budget must be positive")

	// ErrUnknownOverflowPolicy indicates an unrecognized overflow policy name.
	ErrUnknownOverflowPolicy = errors.New("compaction: unknown overflow policy")
)
