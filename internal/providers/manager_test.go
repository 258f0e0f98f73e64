package providers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyflow/internal/config"
)

type scriptedLLM struct {
	name  string
	err   error
	calls int
}

func (s *scriptedLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	s.calls++
	if s.err != nil {
		return GenerateResponse{}, ProviderInfo{Name: s.name}, s.err
	}
	return GenerateResponse{Text: s.name}, ProviderInfo{Name: s.name}, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (r *memRecorder) RecordCall(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func newTestManager(llms ...*scriptedLLM) *Manager {
	m := NewStaticManager(llms[0], NewMockProvider(4))
	m.llmProviders = nil
	for _, l := range llms {
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ProviderRef{Raw: l.name, Name: l.name}, Provider: l})
	}
	return m
}

func TestManagerFailsOverOnQuotaAndCoolsDown(t *testing.T) {
	first := &scriptedLLM{name: "first", err: errors.New("insufficient_quota")}
	second := &scriptedLLM{name: "second"}
	m := newTestManager(first, second)
	rec := &memRecorder{}
	m.SetRecorder(rec)

	ctx := WithBookID(context.Background(), "book-1")
	resp, info, err := m.LLM().Generate(ctx, GenerateRequest{Operation: OpChatAnswer})
	require.NoError(t, err)
	require.Equal(t, "second", resp.Text)
	require.Equal(t, "second", info.Name)

	_, _, err = m.LLM().Generate(ctx, GenerateRequest{Operation: OpChatAnswer})
	require.NoError(t, err)
	require.Equal(t, 1, first.calls, "quota-exhausted provider is skipped during cooldown")
	require.Equal(t, 2, second.calls)

	require.Len(t, rec.recs, 3)
	require.Equal(t, "failed", rec.recs[0].Status)
	require.Equal(t, string(ErrorQuota), rec.recs[0].ErrorType)
	require.Equal(t, "book-1", rec.recs[0].BookID)
	require.Equal(t, "ok", rec.recs[1].Status)
}

func TestManagerStopsOnContextError(t *testing.T) {
	first := &scriptedLLM{name: "first", err: errors.New("maximum context length exceeded, too long")}
	second := &scriptedLLM{name: "second"}
	m := newTestManager(first, second)
	_, _, err := m.LLM().Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	require.Zero(t, second.calls)
}

func TestManagerCooldownExpires(t *testing.T) {
	first := &scriptedLLM{name: "first", err: errors.New("bad request")}
	m := newTestManager(first)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	_, _, err := m.LLM().Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	_, _, err = m.LLM().Generate(context.Background(), GenerateRequest{})
	require.ErrorContains(t, err, "exhausted")
	require.Equal(t, 1, first.calls)

	now = now.Add(2 * time.Minute)
	first.err = nil
	_, _, err = m.LLM().Generate(context.Background(), GenerateRequest{})
	require.NoError(t, err)
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LLMProviders = "mock"
	cfg.EmbedProviders = "mock"
	cfg.EmbedDim = 8
	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, m.LLMCount())

	vecs, _, err := m.PrimaryEmbedder().Embed(context.Background(), EmbedRequest{Inputs: []string{"x"}, Dimension: 8})
	require.NoError(t, err)
	require.Len(t, vecs[0], 8)

	cfg.LLMProviders = "nope"
	_, err = NewManager(cfg)
	require.Error(t, err)
}
