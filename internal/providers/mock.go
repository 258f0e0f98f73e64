package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"studyflow/internal/util"
)

const (
	OpSlideDeck  = "slide_deck"
	OpChatDecide = "chat_decide"
	OpChatAnswer = "chat_answer"
	OpIndexUnit  = "index_unit"
	OpQuery      = "query"
)

// MockProvider is deterministic and offline. It understands the request
// shapes the pipeline sends so that a mock-only deployment works end to end.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	info := ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, info, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	if err := ctx.Err(); err != nil {
		return GenerateResponse{}, info, err
	}
	var text string
	switch req.Operation {
	case OpSlideDeck:
		text = mockDeck(req.Context)
	case OpChatDecide:
		text = "RETRIEVE"
	case OpChatAnswer:
		var b strings.Builder
		b.WriteString("Based on the study material")
		if len(req.Context) == 0 {
			b.WriteString(" available so far, no matching passages were found.")
		} else {
			b.WriteString(":")
			for i := range req.Context {
				fmt.Fprintf(&b, " [S%d]", i+1)
			}
		}
		text = b.String()
	default:
		text = "Mock response."
	}
	return GenerateResponse{Text: text}, info, nil
}

func mockDeck(blocks []string) string {
	heading, body := "Overview", ""
	if len(blocks) > 0 && strings.TrimSpace(blocks[0]) != "" {
		heading = util.StripSectionNumber(blocks[0])
	}
	if len(blocks) > 1 {
		body = blocks[1]
	}
	bullets := make([]string, 0, 3)
	for _, line := range strings.Split(body, ".") {
		line = strings.Join(strings.Fields(line), " ")
		if len(line) < 8 {
			continue
		}
		bullets = append(bullets, util.Snippet(line, 120))
		if len(bullets) == 3 {
			break
		}
	}
	if len(bullets) == 0 {
		bullets = append(bullets, "Key ideas of "+heading)
	}
	deck := map[string]any{
		"heading": heading,
		"slides": []map[string]any{
			{"title": heading, "bullets": bullets},
			{"title": "Summary", "bullets": []string{"Review the definitions and examples in " + heading}},
		},
	}
	b, _ := json.Marshal(deck)
	return string(b)
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
