package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// CallRecord is one provider call, successful or not, for the audit log.
type CallRecord struct {
	Operation    string
	BookID       string
	ProviderName string
	Model        string
	Status       string
	ErrorType    string
	Latency      time.Duration
}

type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

type bookKey struct{}

// WithBookID tags provider calls made under ctx with a book for auditing.
func WithBookID(ctx context.Context, bookID string) context.Context {
	return context.WithValue(ctx, bookKey{}, bookID)
}

func bookIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(bookKey{}).(string)
	return v
}

type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	cooldown       time.Duration
	recorder       CallRecorder

	mu            sync.Mutex
	disabledUntil map[string]time.Time
	now           func() time.Time
}

func NewManager(cfg config.Config) (*Manager, error) {
	llmRefs := ParseProviderList(cfg.LLMProviders)
	embedRefs := ParseProviderList(cfg.EmbedProviders)

	m := &Manager{
		cooldown:      time.Duration(cfg.ProviderCooldownSecs) * time.Second,
		disabledUntil: map[string]time.Time{},
		now:           time.Now,
	}
	for _, ref := range llmRefs {
		p, err := buildProvider(ref, cfg.EmbedDim, false)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range embedRefs {
		p, err := buildProvider(ref, cfg.EmbedDim, true)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	return m, nil
}

// NewStaticManager wraps already-built providers; used by tests and the
// in-memory demo mode.
func NewStaticManager(llm LLMProvider, embed EmbeddingProvider) *Manager {
	return &Manager{
		llmProviders:   []NamedLLMProvider{{Ref: ProviderRef{Raw: "static", Name: "static"}, Provider: llm}},
		embedProviders: []NamedEmbedProvider{{Ref: ProviderRef{Raw: "static", Name: "static"}, Provider: embed}},
		cooldown:       time.Minute,
		disabledUntil:  map[string]time.Time{},
		now:            time.Now,
	}
}

func (m *Manager) SetRecorder(r CallRecorder) {
	m.recorder = r
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

// LLM returns a provider that fails over across the configured generators.
func (m *Manager) LLM() LLMProvider {
	return llmFailover{m: m}
}

// Embedder fails over across embedding providers. Failover is only safe when
// every configured embedder produces the same vector space, so callers that
// index pin the first provider instead.
func (m *Manager) Embedder() EmbeddingProvider {
	return embedFailover{m: m}
}

// PrimaryEmbedder is the single embedder used for both indexing and queries.
func (m *Manager) PrimaryEmbedder() EmbeddingProvider {
	order := m.PreferredEmbedOrder()
	return embedFailover{m: m, only: order[:1]}
}

type llmFailover struct{ m *Manager }

func (f llmFailover) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var lastErr error
	var lastInfo ProviderInfo
	for _, idx := range f.m.PreferredLLMOrder() {
		np := f.m.llmProviders[idx]
		key := "llm-" + np.Ref.Raw
		if f.m.disabled(key) {
			continue
		}
		start := time.Now()
		resp, info, err := np.Provider.Generate(ctx, req)
		f.m.record(ctx, req.Operation, info, err, time.Since(start))
		if err == nil {
			return resp, info, nil
		}
		lastErr, lastInfo = err, info
		if stop := f.m.onFailure(ctx, key, err); stop {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all llm providers exhausted")
	}
	return GenerateResponse{}, lastInfo, lastErr
}

type embedFailover struct {
	m    *Manager
	only []int
}

func (f embedFailover) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	order := f.only
	if order == nil {
		order = f.m.PreferredEmbedOrder()
	}
	var lastErr error
	var lastInfo ProviderInfo
	for _, idx := range order {
		np := f.m.embedProviders[idx]
		key := "embed-" + np.Ref.Raw
		if len(order) > 1 && f.m.disabled(key) {
			continue
		}
		start := time.Now()
		out, info, err := np.Provider.Embed(ctx, req)
		f.m.record(ctx, req.Operation, info, err, time.Since(start))
		if err == nil {
			return out, info, nil
		}
		lastErr, lastInfo = err, info
		if stop := f.m.onFailure(ctx, key, err); stop {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed providers exhausted")
	}
	return nil, lastInfo, lastErr
}

// onFailure applies the cooldown policy and reports whether trying another
// provider is pointless.
func (m *Manager) onFailure(ctx context.Context, key string, err error) bool {
	errType := ClassifyError(err)
	logutil.GetLogger(ctx).Warn("provider call failed",
		zap.String("provider", key), zap.String("error_type", string(errType)), zap.Error(err))
	switch errType {
	case ErrorQuota:
		m.disable(key, m.cooldown)
	case ErrorRate:
		m.disable(key, 2*time.Second)
	case ErrorContext:
		return true
	case ErrorPermanent:
		m.disable(key, time.Minute)
	}
	return ctx.Err() != nil
}

func (m *Manager) disabled(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.disabledUntil[key]
	return ok && m.now().Before(until)
}

func (m *Manager) disable(key string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabledUntil[key] = m.now().Add(d)
}

func (m *Manager) record(ctx context.Context, op string, info ProviderInfo, err error, latency time.Duration) {
	if m.recorder == nil {
		return
	}
	rec := CallRecord{
		Operation:    op,
		BookID:       bookIDFrom(ctx),
		ProviderName: info.Name,
		Model:        info.Model,
		Status:       "ok",
		Latency:      latency,
	}
	if err != nil {
		rec.Status = "failed"
		rec.ErrorType = string(ClassifyError(err))
	}
	if rerr := m.recorder.RecordCall(context.WithoutCancel(ctx), rec); rerr != nil {
		logutil.GetLogger(ctx).Warn("record provider call failed", zap.Error(rerr))
	}
}

func buildProvider(ref ProviderRef, dim int, embedding bool) (any, error) {
	var p any
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		p = NewOpenAIProvider(ref.KeyAlias)
	case "ollama":
		p = NewOllamaProvider(ref.KeyAlias)
	case "groq":
		p = NewGroqProvider(ref.KeyAlias)
	case "gemini":
		p = NewGeminiProvider(ref.KeyAlias)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
	if ref.Model != "" {
		p.(modelOverrider).overrideModel(ref.Model, embedding)
	}
	return p, nil
}

type modelOverrider interface {
	overrideModel(model string, embedding bool)
}
