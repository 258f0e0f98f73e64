package embedcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/providers"
	"studyflow/internal/util"
)

type entry struct {
	vec  []float32
	info providers.ProviderInfo
}

type lruEmbedder struct {
	next    providers.EmbeddingProvider
	version string
	cache   *expirable.LRU[string, entry]
}

// WrapLRU caches embeddings per (version, dimension, text). The version
// must change whenever the underlying model does.
func WrapLRU(e providers.EmbeddingProvider, size int, ttl time.Duration, version string) providers.EmbeddingProvider {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:    e,
		version: version,
		cache:   expirable.NewLRU[string, entry](size, nil, ttl),
	}
}

func (l *lruEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	out := make([][]float32, len(req.Inputs))
	keys := make([]string, len(req.Inputs))
	var info providers.ProviderInfo
	var missIdx []int
	var missText []string
	for i, text := range req.Inputs {
		keys[i] = l.key(req.Dimension, text)
		if hit, ok := l.cache.Get(keys[i]); ok {
			out[i] = cloneEmbedding(hit.vec)
			info = hit.info
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, text)
	}
	if len(missIdx) == 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.Int("inputs", len(req.Inputs)))
		return out, info, nil
	}

	sub := req
	sub.Inputs = missText
	vecs, info, err := l.next.Embed(ctx, sub)
	if err != nil {
		return nil, info, err
	}
	if len(vecs) != len(missText) {
		return nil, info, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vecs), len(missText))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		l.cache.Add(keys[i], entry{vec: cloneEmbedding(vecs[j]), info: info})
	}
	return out, info, nil
}

func (l *lruEmbedder) key(dim int, text string) string {
	return util.HashParts(l.version, strconv.Itoa(dim), text)
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
