package session

import (
	"strings"
	"unicode"
)

const (
	maxTitleWords = 6
	maxTitleRunes = 60
)

// CleanTitle strips whitespace and surrounding quote characters from a
// generated title and keeps only its first line.
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(s, " \t\"'`“”‘’")
	s = strings.ReplaceAll(s, `"`, "")
	return truncateRunes(strings.TrimSpace(s), maxTitleRunes)
}

// DeriveTitle builds a title from the first words of the input.
func DeriveTitle(input string) string {
	words := strings.FieldsFunc(input, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	title := strings.Join(words, " ")
	r := []rune(title)
	r[0] = unicode.ToUpper(r[0])
	return truncateRunes(string(r), maxTitleRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
