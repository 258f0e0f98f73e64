package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"studyflow/internal/config"
)

// Store keeps uploaded PDFs under flat keys.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Factory func(ctx context.Context, cfg config.Config) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(ctx context.Context, cfg config.Config) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.FileStore))
	if key == "" {
		return nil, fmt.Errorf("file_store is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported file store: %s", cfg.FileStore)
	}
	return factory(ctx, cfg)
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid file key %q", key)
	}
	return nil
}
