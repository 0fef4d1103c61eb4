package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/config"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

var scope = models.Scope{OrgID: "org/1", DocID: "CERT-001"}

func TestFSStore(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	blob, meta, err := PrepareBlob([]byte("{\"id\":1}\n{\"id\":2}\n"), scope, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.PutObject(ctx, meta.Key, blob, meta.SHA256))

	readBack, err := store.GetObject(ctx, meta.Key)
	require.NoError(t, err)
	assert.Equal(t, blob, readBack)

	require.NoError(t, store.DeleteObject(ctx, meta.Key))
	require.NoError(t, store.DeleteObject(ctx, meta.Key), "delete is idempotent")

	_, err = store.GetObject(ctx, meta.Key)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, store.PutObject(context.Background(), "../outside", []byte("x"), ""))
}

func TestPrepareBlob(t *testing.T) {
	raw := []byte("foo\nbar\n")
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	compressed, meta, err := PrepareBlob(raw, scope, at)
	require.NoError(t, err)

	assert.Equal(t, int64(2), meta.Lines)
	assert.Equal(t, worm.Digest(compressed), meta.SHA256)
	assert.True(t, strings.HasPrefix(meta.Key, "ledger/org%2F1/CERT-001/2026/03/04/20260304T050607.000Z_"), meta.Key)
	assert.True(t, strings.HasSuffix(meta.Key, meta.SHA256[:8]+".ndjson.gz"))

	decompressed, err := DecompressBlob(bytes.NewReader(compressed))
	require.NoError(t, err)
	assert.Equal(t, raw, decompressed)
}

type failingBackend struct{}

func (failingBackend) PutObject(context.Context, string, []byte, string) error {
	return errors.New("unavailable")
}
func (failingBackend) GetObject(context.Context, string) ([]byte, error) {
	return nil, errors.New("unavailable")
}
func (failingBackend) DeleteObject(context.Context, string) error { return nil }
func (failingBackend) Provider() string                           { return "down" }

func TestMultiStore_FailsOverAndVerifies(t *testing.T) {
	fsStore, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	multi := NewMultiStore(failingBackend{}, fsStore)
	ctx := context.Background()
	raw := []byte("{\"id\":1}\n")

	meta, provider, err := multi.PutSnapshot(ctx, scope, time.Now(), raw)
	require.NoError(t, err)
	assert.Equal(t, "filesystem", provider)

	got, err := multi.GetSnapshot(ctx, meta.Key, meta.SHA256)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = multi.GetSnapshot(ctx, meta.Key, strings.Repeat("0", 64))
	assert.ErrorIs(t, err, models.ErrIntegrity)
}

func TestMultiStore_DetectsCorruptedObject(t *testing.T) {
	root := t.TempDir()
	fsStore, err := NewFSStore(root)
	require.NoError(t, err)
	multi := NewMultiStore(fsStore)
	ctx := context.Background()

	meta, _, err := multi.PutSnapshot(ctx, scope, time.Now(), []byte("{\"id\":1}\n"))
	require.NoError(t, err)

	path := filepath.Join(root, filepath.FromSlash(meta.Key))
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	_, err = multi.GetSnapshot(ctx, meta.Key, meta.SHA256)
	assert.ErrorIs(t, err, models.ErrIntegrity)
}

func TestMultiStore_AllProvidersFail(t *testing.T) {
	multi := NewMultiStore(failingBackend{})
	_, _, err := multi.PutSnapshot(context.Background(), scope, time.Now(), []byte("x\n"))
	assert.ErrorContains(t, err, "all providers failed")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	m, err := Open(ctx, config.StorageConfig{Backend: "fs", FSRoot: t.TempDir()}, config.S3Config{})
	require.NoError(t, err)
	require.Len(t, m.providers, 1)
	assert.Equal(t, "filesystem", m.providers[0].Provider())

	_, err = Open(ctx, config.StorageConfig{Backend: "tape"}, config.S3Config{})
	assert.ErrorContains(t, err, "unknown backend")
}
