package chat

import (
	"fmt"
	"strings"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

const decideSystemPrompt = `You route questions for a textbook study assistant.
Decide whether answering the latest user message needs passages from the textbook.
Reply with exactly one line:
RETRIEVE
RETRIEVE: <a short standalone search query>
ANSWER
Use ANSWER only for greetings, thanks, or follow-ups fully answered by the conversation so far.`

const answerSystemPrompt = `You are a patient tutor helping a student study a textbook.
Answer using the provided context passages when they are present, and cite them by their [S#] labels.
If the context does not contain the answer, say so plainly instead of guessing.
Keep answers concise and use Markdown. Use LaTeX between $ signs for mathematics.`

func transcript(history []models.ChatTurn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, strings.TrimSpace(t.Text))
	}
	return b.String()
}

func decidePrompt(history []models.ChatTurn, query string) string {
	return transcript(history) + "\nLatest user message: " + query
}

func answerPrompt(history []models.ChatTurn, query string) string {
	h := transcript(history)
	if h != "" {
		h += "\n"
	}
	return h + "Question: " + query
}

// contextBlock labels one retrieved segment for the answer call.
func contextBlock(label int, seg models.Segment, maxChars int) string {
	heading := seg.HeadingTitle
	if heading == "" {
		heading = "Untitled section"
	}
	body := strings.TrimSpace(seg.Body)
	if maxChars > 0 {
		body = util.Snippet(body, maxChars)
	}
	return fmt.Sprintf("[S%d] %s\n%s", label, heading, body)
}

// parseDecision reads a decide reply. ok is false when the reply is neither
// RETRIEVE nor ANSWER.
func parseDecision(raw string) (retrieve bool, query string, ok bool) {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "*`\"' ")
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "RETRIEVE"):
		rest := strings.TrimSpace(line[len("RETRIEVE"):])
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		return true, rest, true
	case strings.HasPrefix(upper, "ANSWER"):
		return false, "", true
	}
	return false, "", false
}
