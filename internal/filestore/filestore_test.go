package filestore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"studyflow/internal/config"
	"studyflow/internal/util"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.FileStore = "local"
	cfg.DataInRoot = t.TempDir()
	store, err := New(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "book.pdf", strings.NewReader("%PDF-1.4"), 8))
	rc, err := store.Open(ctx, "book.pdf")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4", string(b))

	require.NoError(t, store.Delete(ctx, "book.pdf"))
	require.NoError(t, store.Delete(ctx, "book.pdf"))
	_, err = store.Open(ctx, "book.pdf")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestLocalStoreRejectsPathKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Save(context.Background(), "../x.pdf", strings.NewReader(""), 0))
	_, err = s.Open(context.Background(), "a/b")
	require.Error(t, err)
}

func TestNewUnknownStore(t *testing.T) {
	cfg := config.Default()
	cfg.FileStore = "ftp"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestS3ObjectKeyUsesPrefix(t *testing.T) {
	cfg := config.Default()
	cfg.FileStore = "s3"
	cfg.S3Bucket = "books"
	cfg.S3Prefix = "/uploads/"
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.S3AccessKey, cfg.S3SecretKey = "ak", "sk"
	s, err := NewS3Store(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, "uploads/b1.pdf", s.objectKey("b1.pdf"))
}
