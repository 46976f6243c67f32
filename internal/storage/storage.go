// Package storage keeps uploaded book covers on the local filesystem.
// A stored file is addressed by an opaque handle relative to the root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"booknet/internal/apperr"
)

// FileStore writes blobs under Root/users/<owner>/.
type FileStore struct {
	Root     string
	MaxBytes int64
}

// NewFileStore returns a store rooted at root that rejects blobs larger
// than maxBytes.
func NewFileStore(root string, maxBytes int64) *FileStore {
	return &FileStore{Root: root, MaxBytes: maxBytes}
}

var allowedExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Save copies r into a new file for ownerID and returns its handle.
func (s *FileStore) Save(ctx context.Context, ownerID uuid.UUID, filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", apperr.Invalid("unsupported cover file type %q", ext)
	}

	dir := filepath.Join("users", ownerID.String())
	if err := os.MkdirAll(filepath.Join(s.Root, dir), 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	handle := filepath.ToSlash(filepath.Join(dir, uuid.NewString()+ext))
	path := filepath.Join(s.Root, filepath.FromSlash(handle))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create cover file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, s.MaxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > s.MaxBytes {
		err = apperr.Invalid("cover exceeds %d bytes", s.MaxBytes)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return handle, nil
}

// Open returns a reader for a stored handle.
func (s *FileStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	path, err := s.resolve(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.NotFound("cover %s not found", handle)
	}
	if err != nil {
		return nil, fmt.Errorf("open cover: %w", err)
	}
	return f, nil
}

// Remove deletes the blob behind handle. A missing blob is not an error.
func (s *FileStore) Remove(_ context.Context, handle string) error {
	path, err := s.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cover: %w", err)
	}
	return nil
}

func (s *FileStore) resolve(handle string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(handle))
	if handle == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperr.Invalid("invalid cover handle")
	}
	return filepath.Join(s.Root, clean), nil
}
