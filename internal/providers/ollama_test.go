package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOllamaEmbedModel_Default(t *testing.T) {
	t.Setenv("STUDYFLOW_OLLAMA_EMBED_MODEL", "")
	require.Equal(t, "nomic-embed-text", resolveOllamaEmbedModel(""))
	require.Equal(t, "bge-small-en-v1.5", resolveOllamaEmbedModel("bge"))
	require.Equal(t, "mxbai-embed-large", resolveOllamaEmbedModel("mxbai-embed-large"))
}

func TestResolveOllamaEmbedModel_AliasEnv(t *testing.T) {
	t.Setenv("STUDYFLOW_OLLAMA_EMBED_MODEL_LOCAL", "custom-embed")
	require.Equal(t, "custom-embed", resolveOllamaEmbedModel("local"))
}

func TestMatchDimension(t *testing.T) {
	src := []float32{1, 2, 3}
	require.Equal(t, []float32{1, 2}, matchDimension(src, 2))
	require.Equal(t, []float32{1, 2, 3, 0, 0}, matchDimension(src, 5))
	require.Equal(t, src, matchDimension(src, 0))
}

func TestCompatProviderMissingKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	p := NewGroqProvider("alias1")
	require.NotNil(t, p)
	_, info, err := p.Generate(t.Context(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, "groq", info.Name)

	_, _, err = p.Embed(t.Context(), EmbedRequest{Inputs: []string{"x"}})
	require.ErrorContains(t, err, "does not provide embeddings")
}
