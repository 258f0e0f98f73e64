package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeForMatch keeps letters and digits only, lower-cased. Two headings
// that differ in punctuation, spacing or case normalise to the same string.
func NormalizeForMatch(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// NormalizedRunes is NormalizeForMatch with a position map: Offsets[i] is the
// byte offset in the source of Runes[i], Ends[i] the offset just past it.
type NormalizedRunes struct {
	Runes   []rune
	Offsets []int
	Ends    []int
}

func NormalizeWithOffsets(s string, base int) NormalizedRunes {
	out := NormalizedRunes{}
	for i, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		out.Runes = append(out.Runes, unicode.ToLower(r))
		out.Offsets = append(out.Offsets, base+i)
		out.Ends = append(out.Ends, base+i+utf8.RuneLen(r))
	}
	return out
}

// CleanTitle strips control characters, invalid UTF-8 and replacement runes
// that PDF outlines tend to carry, and collapses whitespace.
func CleanTitle(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			continue
		case unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return normalizeWhitespace(b.String())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripSectionNumber drops a leading "1.2.3" or "Chapter 4:" style prefix.
func StripSectionNumber(s string) string {
	t := strings.TrimSpace(s)
	lower := strings.ToLower(t)
	for _, p := range []string{"chapter ", "section ", "part "} {
		if strings.HasPrefix(lower, p) {
			rest := t[len(p):]
			i := 0
			for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.') {
				i++
			}
			if i > 0 {
				t = rest[i:]
			}
			break
		}
	}
	i := 0
	for i < len(t) && (t[i] >= '0' && t[i] <= '9' || t[i] == '.') {
		i++
	}
	if i > 0 && i < len(t) {
		t = t[i:]
	}
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), ":-. "))
}
