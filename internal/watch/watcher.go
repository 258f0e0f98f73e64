// Package watch ingests PDFs dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

type Ingester interface {
	Ingest(ctx context.Context, filename string, src io.Reader) (models.Book, bool, error)
}

type Options struct {
	// Settle is how long a file must go without write events before it is
	// ingested.
	Settle time.Duration
	// OnIngested runs after each successful ingest.
	OnIngested func(ctx context.Context, book models.Book, created bool)
}

type Watcher struct {
	dir    string
	ingest Ingester
	opts   Options
}

func New(dir string, ing Ingester, opts Options) *Watcher {
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	return &Watcher{dir: dir, ingest: ing, opts: opts}
}

// Run watches the inbox until ctx is cancelled. PDFs already present are
// ingested first. Each file is moved to processed/ or failed/ afterwards.
func (w *Watcher) Run(ctx context.Context) error {
	for _, d := range []string{w.dir, filepath.Join(w.dir, processedDir), filepath.Join(w.dir, failedDir)} {
		if err := util.EnsureDir(d); err != nil {
			return err
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("inbox", w.dir))
	logger.Info("inbox watcher started")

	pending := map[string]time.Time{}
	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, p := range existing {
		pending[p] = time.Time{}
	}

	ticker := time.NewTicker(w.opts.Settle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isPDF(ev.Name) || filepath.Dir(ev.Name) != filepath.Clean(w.dir) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[ev.Name] = time.Now()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case now := <-ticker.C:
			for p, last := range pending {
				if now.Sub(last) < w.opts.Settle {
					continue
				}
				delete(pending, p)
				w.ingestFile(ctx, p)
			}
		}
	}
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() || !isPDF(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	logger := logutil.GetLogger(ctx).With(zap.String("file", path))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warn("open inbox file failed", zap.Error(err))
		return
	}
	book, created, err := w.ingest.Ingest(ctx, filepath.Base(path), f)
	_ = f.Close()
	if err != nil {
		logger.Error("inbox ingest failed", zap.Error(err))
		w.move(logger, path, failedDir)
		return
	}
	logger.Info("inbox file ingested", zap.String("book_id", book.BookID), zap.Bool("created", created))
	w.move(logger, path, processedDir)
	if w.opts.OnIngested != nil {
		w.opts.OnIngested(ctx, book, created)
	}
}

func (w *Watcher) move(logger *zap.Logger, path, sub string) {
	dst := util.UniquePath(filepath.Join(w.dir, sub), path)
	if err := os.Rename(path, dst); err != nil {
		logger.Warn("move inbox file failed", zap.String("dst", dst), zap.Error(err))
	}
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
