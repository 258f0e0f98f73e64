package providers

import (
	"context"
	"strings"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// GenerateRequest is one text-generation call. Operation names the caller's
// use (slide_deck, chat_decide, chat_answer) and is recorded in the audit log.
type GenerateRequest struct {
	Operation string   `json:"operation"`
	System    string   `json:"system,omitempty"`
	Prompt    string   `json:"prompt"`
	Context   []string `json:"context"`
	JSON      bool     `json:"json,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

func composePrompt(req GenerateRequest) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	return req.Prompt + "\n\nContext:\n" + strings.Join(req.Context, "\n\n")
}
