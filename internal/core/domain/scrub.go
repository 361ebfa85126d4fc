package domain

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minInWordRunes is the shortest fragment matched inside a longer word.
// Shorter fragments, such as two-letter name parts, only match whole words.
const minInWordRunes = 3

// Scrubber replaces identity fragments in free text, case-insensitively.
// Longer fragments are matched first so a full name is replaced whole
// rather than part by part.
type Scrubber struct {
	re          *regexp.Regexp
	replacement string
}

// NewScrubber builds a scrubber for fragments. Empty fragments are ignored.
func NewScrubber(fragments []string, replacement string) *Scrubber {
	frags := slices.Clone(fragments)
	frags = slices.DeleteFunc(frags, func(s string) bool { return strings.TrimSpace(s) == "" })
	slices.SortFunc(frags, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	frags = slices.Compact(frags)

	s := &Scrubber{replacement: replacement}
	if len(frags) == 0 {
		return s
	}
	quoted := make([]string, len(frags))
	for i, f := range frags {
		quoted[i] = regexp.QuoteMeta(f)
	}
	s.re = regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))
	return s
}

// Scrub returns text with every fragment replaced.
func (s *Scrubber) Scrub(text string) string {
	var b strings.Builder
	last := 0
	s.matches(text, func(start, end int) bool {
		b.WriteString(text[last:start])
		b.WriteString(s.replacement)
		last = end
		return true
	})
	if last == 0 && b.Len() == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// Contains reports whether text still holds any fragment.
func (s *Scrubber) Contains(text string) bool {
	found := false
	s.matches(text, func(int, int) bool {
		found = true
		return false
	})
	return found
}

// matches calls fn with the byte range of each fragment in text, left to
// right, until fn returns false.
func (s *Scrubber) matches(text string, fn func(start, end int) bool) {
	if s.re == nil {
		return
	}
	for pos := 0; pos < len(text); {
		loc := s.re.FindStringIndex(text[pos:])
		if loc == nil {
			return
		}
		start, end := pos+loc[0], pos+loc[1]
		if standalone(text, start, end) {
			if !fn(start, end) {
				return
			}
			pos = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		pos = start + size
	}
}

// standalone reports whether text[start:end] may be replaced: long matches
// always, short ones only when not surrounded by letters or digits.
func standalone(text string, start, end int) bool {
	if utf8.RuneCountInString(text[start:end]) >= minInWordRunes {
		return true
	}
	if r, _ := utf8.DecodeLastRuneInString(text[:start]); start > 0 && isWordRune(r) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(text[end:]); end < len(text) && isWordRune(r) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
