package slides

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are a tutor, trained to generate high-quality Markdown slides.
You are provided with unstructured text from a textbook.
Convert the text into a well-structured slide presentation where each slide is
self-sufficient study material that explains the necessary concepts concisely.
Rewrite the heading you are given without section numbers.
Reply with a single JSON object and nothing else.`

var exampleDeck = deckJSON{
	Heading: "Vector Spaces",
	Slides: []slideJSON{
		{
			Title: "Definition of a Vector Space",
			Bullets: []string{
				"A set $V$ with vector addition and scalar multiplication",
				"Closed under both operations",
			},
		},
		{
			Title: "Example: $\\mathbb{R}^n$",
			Bullets: []string{
				"$(x_1, \\dots, x_n) + (y_1, \\dots, y_n) = (x_1 + y_1, \\dots, x_n + y_n)$",
				"Scalar multiplication applies component-wise",
			},
		},
	},
}

func buildPrompt(attempt int, lastProblem string) string {
	example, _ := json.MarshalIndent(exampleDeck, "", "  ")
	var b strings.Builder
	b.WriteString(`Follow these guidelines:
1. Use Markdown inside bullet text; wrap inline math in $...$ and block math in $$...$$.
2. Give every slide a non-empty title that reflects its content.
3. Structure every slide as a list of bullets.
4. Output JSON shaped exactly like the example: {"heading": string, "slides": [{"title": string, "bullets": [string]}]}.

Example output:
`)
	b.Write(example)
	if attempt > 0 && lastProblem != "" {
		fmt.Fprintf(&b, "\n\nYour previous answer was rejected: %s. Return valid JSON only.", lastProblem)
	}
	b.WriteString("\n\nThe first context block is the heading, the second is the textbook text.")
	return b.String()
}
