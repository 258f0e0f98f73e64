package slides

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"studyflow/internal/models"
)

type slideJSON struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

type deckJSON struct {
	Heading string      `json:"heading"`
	Slides  []slideJSON `json:"slides"`
}

var (
	errNoSlides   = errors.New("deck has no slides")
	errEmptyTitle = errors.New("slide has empty title")
)

// ParseDeck decodes and validates model output. Markdown code fences and
// leading prose around the JSON object are tolerated.
func ParseDeck(raw string) (string, []models.Slide, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return "", nil, fmt.Errorf("no JSON object in output")
	}
	var d deckJSON
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return "", nil, fmt.Errorf("decode deck: %w", err)
	}
	if len(d.Slides) == 0 {
		return "", nil, errNoSlides
	}
	out := make([]models.Slide, 0, len(d.Slides))
	for i, s := range d.Slides {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			return "", nil, fmt.Errorf("slide %d: %w", i+1, errEmptyTitle)
		}
		bullets := make([]string, 0, len(s.Bullets))
		for _, bl := range s.Bullets {
			if bl = strings.TrimSpace(bl); bl != "" {
				bullets = append(bullets, bl)
			}
		}
		out = append(out, models.Slide{Title: title, Bullets: bullets})
	}
	return strings.TrimSpace(d.Heading), out, nil
}

func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
