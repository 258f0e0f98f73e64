package slides

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"studyflow/internal/models"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderMarkdown lays a deck out as one Markdown document, a level-2 heading
// per slide.
func RenderMarkdown(deck models.SlideDeck) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", deck.Heading)
	for _, s := range deck.Slides {
		fmt.Fprintf(&b, "\n## %s\n\n", s.Title)
		for _, bl := range s.Bullets {
			fmt.Fprintf(&b, "- %s\n", bl)
		}
	}
	return b.String()
}

// RenderHTML renders the deck. Raw HTML in model output is omitted.
func RenderHTML(deck models.SlideDeck) (string, error) {
	var out bytes.Buffer
	if err := markdown.Convert([]byte(RenderMarkdown(deck)), &out); err != nil {
		return "", fmt.Errorf("render deck: %w", err)
	}
	return out.String(), nil
}
