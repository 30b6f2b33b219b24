// pkg/blob/local.go
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore keeps objects as files. Relative paths resolve against Root.
type LocalStore struct {
	Root string
}

// NewLocalStore creates a local store rooted at root ("" means the working directory)
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{Root: root}
}

func (s *LocalStore) path(uri string) string {
	if s.Root == "" || filepath.IsAbs(uri) {
		return uri
	}
	return filepath.Join(s.Root, uri)
}

// Open opens the file at uri
func (s *LocalStore) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(uri))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	return f, nil
}

// Write replaces the file at uri. The data is written to a sibling temp file
// and renamed so readers never see a partial file.
func (s *LocalStore) Write(_ context.Context, uri string, data []byte) error {
	path := s.path(uri)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", uri, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", uri, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", uri, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", uri, err)
	}
	return nil
}
