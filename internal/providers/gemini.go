package providers

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	keyName    string
	apiKey     string
	chatModel  string
	embedModel string
}

func NewGeminiProvider(keyName string) *GeminiProvider {
	return &GeminiProvider{
		keyName:    keyName,
		apiKey:     resolveKey("GEMINI", keyName, "GEMINI_API_KEY"),
		chatModel:  envOr("STUDYFLOW_GEMINI_MODEL", "gemini-2.0-flash"),
		embedModel: envOr("STUDYFLOW_GEMINI_EMBED_MODEL", "text-embedding-004"),
	}
}

func (g *GeminiProvider) overrideModel(model string, embedding bool) {
	if embedding {
		g.embedModel = model
	} else {
		g.chatModel = model
	}
}

func (g *GeminiProvider) client(ctx context.Context) (*genai.Client, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.chatModel, Key: g.keyName}
	client, err := g.client(ctx)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	var cfg *genai.GenerateContentConfig
	if req.System != "" || req.JSON {
		cfg = &genai.GenerateContentConfig{}
		if req.System != "" {
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
		}
		if req.JSON {
			cfg.ResponseMIMEType = "application/json"
		}
	}
	resp, err := client.Models.GenerateContent(
		ctx,
		g.chatModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: composePrompt(req)}}}},
		cfg,
	)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini generate request failed: %w", err)
	}
	return GenerateResponse{Text: strings.TrimSpace(resp.Text())}, info, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.embedModel, Key: g.keyName}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	client, err := g.client(ctx)
	if err != nil {
		return nil, info, err
	}
	contents := make([]*genai.Content, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	resp, err := client.Models.EmbedContent(ctx, g.embedModel, contents, nil)
	if err != nil {
		return nil, info, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if len(resp.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("no embedding values returned")
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, matchDimension(e.Values, req.Dimension))
	}
	return out, info, nil
}
