package structure

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

const DefaultMinBodyChars = 24

type SegmentOptions struct {
	// MinBodyChars is the minimum trimmed length of text following a heading
	// match. Shorter segments are merged into their successor.
	MinBodyChars int
	ChapterLevel int
}

type SegmentResult struct {
	Segments  []models.Segment
	Unmatched []models.TocEntry
}

type piece struct {
	title    string
	level    int
	start    int
	matchLen int
}

// SegmentChapter splits text at the first occurrence of each heading after
// the previous match. Segment bodies are raw slices of text, so concatenating
// them reproduces the input exactly. Segment ids and book fields are left for
// the caller. A chapter with no visible text yields no segments.
func SegmentChapter(text string, headings []models.TocEntry, opts SegmentOptions) SegmentResult {
	res := SegmentResult{}
	if strings.TrimSpace(text) == "" {
		res.Unmatched = append(res.Unmatched, headings...)
		return res
	}

	pieces := []piece{{title: "", level: opts.ChapterLevel, start: 0}}
	cursor := 0
	for _, h := range headings {
		title := strings.TrimSpace(h.Title)
		start, end, ok := findFold(text, title, cursor)
		if !ok {
			start, end, ok = findNormalized(text, title, cursor)
		}
		if !ok {
			res.Unmatched = append(res.Unmatched, h)
			continue
		}
		pieces = append(pieces, piece{title: title, level: h.Level, start: start, matchLen: end - start})
		cursor = end
	}

	bodies := make([]string, len(pieces))
	for i, p := range pieces {
		end := len(text)
		if i+1 < len(pieces) {
			end = pieces[i+1].start
		}
		bodies[i] = text[p.start:end]
	}

	minChars := opts.MinBodyChars
	if minChars < 1 {
		minChars = 1
	}
	pending := ""
	for i, p := range pieces {
		body := pending + bodies[i]
		pending = ""
		if body == "" {
			continue
		}
		content := strings.TrimSpace(bodies[i][p.matchLen:])
		short := utf8.RuneCountInString(content) < minChars
		if short && i+1 < len(pieces) {
			pending = body
			continue
		}
		if short && len(res.Segments) > 0 {
			last := &res.Segments[len(res.Segments)-1]
			last.Body += body
			continue
		}
		res.Segments = append(res.Segments, models.Segment{
			Ordinal:      len(res.Segments),
			HeadingTitle: p.title,
			HeadingLevel: p.level,
			Body:         body,
		})
	}
	return res
}

// findFold is a case-insensitive search for needle in s at or after from.
func findFold(s, needle string, from int) (int, int, bool) {
	if needle == "" || from >= len(s) {
		return 0, 0, false
	}
	nr := []rune(needle)
	for i := from; i < len(s); {
		if end, ok := matchFoldAt(s, i, nr); ok {
			return i, end, true
		}
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return 0, 0, false
}

func matchFoldAt(s string, at int, needle []rune) (int, bool) {
	j := at
	for _, nr := range needle {
		if j >= len(s) {
			return 0, false
		}
		r, w := utf8.DecodeRuneInString(s[j:])
		if !equalFold(r, nr) {
			return 0, false
		}
		j += w
	}
	return j, true
}

func equalFold(a, b rune) bool {
	if a == b {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}

// findNormalized matches letters and digits only, ignoring punctuation,
// whitespace and case, and maps the hit back to byte offsets in s.
func findNormalized(s, needle string, from int) (int, int, bool) {
	want := []rune(util.NormalizeForMatch(needle))
	if len(want) == 0 || from >= len(s) {
		return 0, 0, false
	}
	hay := util.NormalizeWithOffsets(s[from:], from)
	for i := 0; i+len(want) <= len(hay.Runes); i++ {
		match := true
		for k, r := range want {
			if hay.Runes[i+k] != r {
				match = false
				break
			}
		}
		if match {
			return hay.Offsets[i], hay.Ends[i+len(want)-1], true
		}
	}
	return 0, 0, false
}
