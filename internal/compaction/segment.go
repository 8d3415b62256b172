package compaction

import "strings"

// segmentSeparator joins segment texts when the context is rendered.
const segmentSeparator = "\n"

// Segment is one unit of the rolling context, oldest first. Segments carry
// no identity beyond their position.
type Segment struct {
	Text string `json:"text"`

	// Compacted is true once the segment holds a merged summary of older
	// segments rather than a single exchange summary.
	Compacted bool `json:"compacted,omitempty"`
}

// Render joins segment texts into the rolling context string.
func Render(segments []Segment) string {
	if len(segments) == 0 {
		return ""
	}
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, segmentSeparator)
}

// Texts returns the segment texts in order.
func Texts(segments []Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}

// FromTexts builds segments from stored texts, skipping blanks.
func FromTexts(texts []string) []Segment {
	out := make([]Segment, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, Segment{Text: t})
	}
	return out
}
