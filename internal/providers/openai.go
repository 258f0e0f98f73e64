package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatProvider talks to any OpenAI-compatible endpoint. The OpenAI,
// Groq and Ollama providers differ only in base URL, key and model names.
type OpenAICompatProvider struct {
	name       string
	keyName    string
	apiKey     string
	chatModel  string
	embedModel string
	client     *openai.Client
}

func newOpenAICompat(name, keyName, apiKey, baseURL, chatModel, embedModel string) *OpenAICompatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAICompatProvider{
		name:       name,
		keyName:    keyName,
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		client:     openai.NewClientWithConfig(cfg),
	}
}

func NewOpenAIProvider(keyName string) *OpenAICompatProvider {
	return newOpenAICompat("openai", keyName, resolveKey("OPENAI", keyName, "OPENAI_API_KEY"),
		os.Getenv("STUDYFLOW_OPENAI_BASE_URL"),
		envOr("STUDYFLOW_OPENAI_MODEL", "gpt-4o-mini"),
		envOr("STUDYFLOW_OPENAI_EMBED_MODEL", string(openai.SmallEmbedding3)))
}

// NewGroqProvider supports LLM generation via Groq's OpenAI-compatible API.
func NewGroqProvider(keyName string) *OpenAICompatProvider {
	return newOpenAICompat("groq", keyName, resolveKey("GROQ", keyName, "GROQ_API_KEY"),
		envOr("STUDYFLOW_GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		envOr("STUDYFLOW_GROQ_MODEL", "llama-3.1-8b-instant"),
		"")
}

// NewOllamaProvider supports local, free models via Ollama's /v1 endpoint.
// Example embedding model: nomic-embed-text.
func NewOllamaProvider(alias string) *OpenAICompatProvider {
	base := strings.TrimRight(envOr("STUDYFLOW_OLLAMA_BASE_URL", "http://localhost:11434"), "/")
	return newOpenAICompat("ollama", alias, "ollama", base+"/v1",
		envOr("STUDYFLOW_OLLAMA_MODEL", "llama3.1"),
		resolveOllamaEmbedModel(alias))
}

func (o *OpenAICompatProvider) overrideModel(model string, embedding bool) {
	if embedding {
		o.embedModel = model
	} else {
		o.chatModel = model
	}
}

func (o *OpenAICompatProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: o.name, Model: model, Key: o.keyName}
}

func (o *OpenAICompatProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := o.info(o.chatModel)
	if o.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	system := req.System
	if system == "" {
		system = "You are a patient tutor helping a student study a textbook."
	}
	creq := openai.ChatCompletionRequest{
		Model: o.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: composePrompt(req)},
		},
		Temperature: 0.2,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("%s generate request failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, info, fmt.Errorf("%s returned empty choices", o.name)
	}
	return GenerateResponse{Text: resp.Choices[0].Message.Content}, info, nil
}

func (o *OpenAICompatProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := o.info(o.embedModel)
	if o.embedModel == "" {
		return nil, info, fmt.Errorf("%s does not provide embeddings", o.name)
	}
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: req.Inputs,
		Model: openai.EmbeddingModel(o.embedModel),
	})
	if err != nil {
		return nil, info, fmt.Errorf("%s embedding request failed: %w", o.name, err)
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, info, fmt.Errorf("%s returned %d embeddings for %d inputs", o.name, len(resp.Data), len(req.Inputs))
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = matchDimension(d.Embedding, req.Dimension)
	}
	return out, info, nil
}

func resolveKey(provider, alias, fallbackEnv string) string {
	if alias != "" {
		if k := os.Getenv("STUDYFLOW_" + provider + "_KEY_" + strings.ToUpper(sanitizeEnvToken(alias))); k != "" {
			return k
		}
	}
	return os.Getenv(fallbackEnv)
}

func envOr(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		key := "STUDYFLOW_OLLAMA_EMBED_MODEL_" + sanitizeEnvToken(alias)
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// Allow direct model in provider list, e.g. ollama:nomic-embed-text
		if strings.Contains(alias, "-") || strings.Contains(alias, "/") || strings.Contains(alias, ".") {
			return alias
		}
	}
	return envOr("STUDYFLOW_OLLAMA_EMBED_MODEL", "nomic-embed-text")
}

func sanitizeEnvToken(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
