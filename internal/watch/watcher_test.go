package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyflow/internal/models"
)

type recordingIngester struct {
	mu    sync.Mutex
	names []string
	fail  string
}

func (r *recordingIngester) Ingest(ctx context.Context, filename string, src io.Reader) (models.Book, bool, error) {
	if _, err := io.ReadAll(src); err != nil {
		return models.Book{}, false, err
	}
	if filename == r.fail {
		return models.Book{}, false, errors.New("unreadable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, filename)
	return models.Book{BookID: "book-" + filename}, true, nil
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func startWatcher(t *testing.T, dir string, ing Ingester, opts Options) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(dir, ing, opts).Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestWatcherIngestsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.pdf"), []byte("%PDF early"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	ing := &recordingIngester{}
	var hooked sync.Map
	startWatcher(t, dir, ing, Options{
		Settle: 20 * time.Millisecond,
		OnIngested: func(ctx context.Context, b models.Book, created bool) {
			hooked.Store(b.BookID, created)
		},
	})

	require.Eventually(t, func() bool { return len(ing.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "later.PDF"), []byte("%PDF later"), 0o644))
	require.Eventually(t, func() bool { return len(ing.seen()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"early.pdf", "later.PDF"}, ing.seen())
	require.FileExists(t, filepath.Join(dir, processedDir, "early.pdf"))
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, processedDir, "later.PDF"))
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.FileExists(t, filepath.Join(dir, "notes.txt"))
	_, ok := hooked.Load("book-early.pdf")
	require.True(t, ok)
}

func TestWatcherMovesFailuresAside(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("junk"), 0o644))

	ing := &recordingIngester{fail: "broken.pdf"}
	startWatcher(t, dir, ing, Options{Settle: 20 * time.Millisecond})

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, failedDir, "broken.pdf"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, ing.seen())
}
