package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"studyflow/internal/config"
	"studyflow/internal/retrieval"
)

func memoryConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Storage = "memory"
	cfg.VectorBackend = "memory"
	cfg.Executor = "inline"
	cfg.EmbedDim = 16
	cfg.DataInRoot = filepath.Join(t.TempDir(), "in")
	cfg.DataOutRoot = filepath.Join(t.TempDir(), "out")
	return cfg
}

func TestBuildMemoryApp(t *testing.T) {
	cfg := memoryConfig(t)
	require.NoError(t, cfg.Validate())
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.Nil(t, a.DB)
	require.NotNil(t, a.Runner)
	require.NotNil(t, a.Chat)

	hits, err := a.Retriever.Retrieve(context.Background(), retrieval.Query{Text: "anything"})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestBuildSQLiteVectors(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.VectorBackend = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "db", "vectors.db")
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	require.FileExists(t, cfg.SQLitePath)
}

func TestStartBackgroundRejectsBadCron(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.ReindexCron = "not a spec"
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.StartBackground(context.Background(), nil, a.Runner)
	require.Error(t, err)

	a.Config.ReindexCron = "0 * * * *"
	a.Config.WatchInbox = true
	a.Config.InboxDir = filepath.Join(t.TempDir(), "inbox")
	stop, err := a.StartBackground(context.Background(), nil, a.Runner)
	require.NoError(t, err)
	stop()
}
