// Package file persists each entity's memory store as a pretty-printed JSON
// file named after the entity.
package file

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
)

const (
	ext       = ".json"
	tmpPrefix = ".tmp-"
)

// Store implements storage.Persistence on a directory.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("dir", dir))
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the store files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file that holds key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, EscapeKey(key)+ext)
}

// EscapeKey turns an entity id into a safe file name. Path separators and
// other reserved characters are percent-encoded.
func EscapeKey(key string) string {
	return url.PathEscape(key)
}

// KeyFromPath recovers the entity id from a store file path.
func KeyFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ext) || strings.HasPrefix(base, tmpPrefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, ext))
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

// Read returns the file content or storage.ErrNotFound.
func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read store file", goerr.V("key", key))
	}
	return data, nil
}

// Write replaces the file atomically by writing a temp file in the same
// directory and renaming it over the target.
func (s *Store) Write(_ context.Context, key string, data []byte) error {
	target := s.Path(key)

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*"+ext)
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", s.dir))
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write temp file", goerr.V("key", key))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to sync temp file", goerr.V("key", key))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file", goerr.V("key", key))
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return goerr.Wrap(err, "failed to set file mode", goerr.V("key", key))
	}
	if err := os.Rename(tmpName, target); err != nil {
		return goerr.Wrap(err, "failed to replace store file", goerr.V("key", key))
	}
	return nil
}

// Keys lists the entity ids that have a store file.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list data directory", goerr.V("dir", s.dir))
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := KeyFromPath(e.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Compile-time assertions.
var (
	_ storage.Persistence = (*Store)(nil)
	_ storage.Keyer       = (*Store)(nil)
)
