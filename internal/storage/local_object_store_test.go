package storage_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imagebatch-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalObjectStoreRoundTrip(t *testing.T) {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))

	key := "uploads/abc/products.csv"
	require.NoError(t, store.PutObject(context.Background(), key, strings.NewReader("hello")))

	reader, err := store.GetObject(context.Background(), key)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocalObjectStoreOverwrite(t *testing.T) {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	key := "exports/output.csv"
	require.NoError(t, store.PutObject(context.Background(), key, strings.NewReader("first")))
	require.NoError(t, store.PutObject(context.Background(), key, strings.NewReader("second")))

	reader, err := store.GetObject(context.Background(), key)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalObjectStoreRejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "store")

	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))

	store, err := storage.NewLocalObjectStore(base)
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))

	for _, key := range []string{
		"../secret.txt",
		"uploads/../../secret.txt",
		"/../secret.txt",
	} {
		_, err := store.GetObject(context.Background(), key)
		require.ErrorIs(t, err, storage.ErrInvalidObjectKey, "key %q", key)

		err = store.PutObject(context.Background(), key, strings.NewReader("overwrite"))
		require.ErrorIs(t, err, storage.ErrInvalidObjectKey, "key %q", key)
	}

	// The file outside the base directory is untouched.
	data, err := os.ReadFile(secret)
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(data))
}

func TestLocalObjectStoreNotFound(t *testing.T) {
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "missing/key.csv")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestFileURL(t *testing.T) {
	assert.Equal(t, "/files/processed/a/b.jpg", storage.FileURL("processed/a/b.jpg"))
}
