package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booknet/internal/apperr"
)

func TestSaveAndOpen(t *testing.T) {
	store := NewFileStore(t.TempDir(), 1024)
	owner := uuid.New()

	handle, err := store.Save(context.Background(), owner, "dune.PNG", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "users/"+owner.String()+"/"))
	assert.True(t, strings.HasSuffix(handle, ".png"))

	rc, err := store.Open(context.Background(), handle)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestSaveRejectsOversizedBlob(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, 4)
	owner := uuid.New()

	_, err := store.Save(context.Background(), owner, "a.jpg", bytes.NewReader([]byte("12345")))
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	entries, err := os.ReadDir(filepath.Join(root, "users", owner.String()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	store := NewFileStore(t.TempDir(), 1024)

	_, err := store.Save(context.Background(), uuid.New(), "cover.exe", strings.NewReader("x"))
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestOpenRejectsTraversal(t *testing.T) {
	store := NewFileStore(t.TempDir(), 1024)

	_, err := store.Open(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = store.Open(context.Background(), "users/nobody/missing.png")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemove(t *testing.T) {
	store := NewFileStore(t.TempDir(), 1024)
	ctx := context.Background()

	handle, err := store.Save(ctx, uuid.New(), "cover.jpg", strings.NewReader("jpeg"))
	require.NoError(t, err)
	require.NoError(t, store.Remove(ctx, handle))

	_, err = store.Open(ctx, handle)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, store.Remove(ctx, handle), "removing twice is a no-op")
	assert.ErrorIs(t, store.Remove(ctx, "../escape.png"), apperr.ErrInvalid)
}
