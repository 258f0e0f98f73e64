package embedcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyflow/internal/providers"
)

type countingEmbedder struct {
	calls  int
	inputs int
	inner  *providers.MockProvider
}

func (c *countingEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	c.calls++
	c.inputs += len(req.Inputs)
	return c.inner.Embed(ctx, req)
}

func TestWrapLRUServesRepeatsFromCache(t *testing.T) {
	inner := &countingEmbedder{inner: providers.NewMockProvider(8)}
	e := WrapLRU(inner, 16, time.Minute, "v1")

	first, _, err := e.Embed(context.Background(), providers.EmbedRequest{Inputs: []string{"a", "b"}, Dimension: 8})
	require.NoError(t, err)
	second, info, err := e.Embed(context.Background(), providers.EmbedRequest{Inputs: []string{"b", "a", "c"}, Dimension: 8})
	require.NoError(t, err)

	require.Equal(t, 2, inner.calls)
	require.Equal(t, 3, inner.inputs, "only the miss is sent downstream")
	require.Equal(t, first[0], second[1])
	require.Equal(t, first[1], second[0])
	require.Equal(t, "mock", info.Name)

	// callers may mutate returned vectors without poisoning the cache
	second[0][0] = 42
	third, _, err := e.Embed(context.Background(), providers.EmbedRequest{Inputs: []string{"b"}, Dimension: 8})
	require.NoError(t, err)
	require.NotEqual(t, float32(42), third[0][0])
}

func TestWrapLRUDisabled(t *testing.T) {
	inner := &countingEmbedder{inner: providers.NewMockProvider(8)}
	require.Same(t, providers.EmbeddingProvider(inner), WrapLRU(inner, 0, time.Minute, "v1"))
}
