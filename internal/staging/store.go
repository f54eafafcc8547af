// Package staging holds uploaded import files until a job consumes them.
// Files are addressed by an opaque reference and swept after a TTL, so an
// abandoned upload never accumulates forever.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const filePrefix = "zhiguan_"

// ErrNotStaged is returned when a reference resolves to no staged file.
var ErrNotStaged = errors.New("data reference not staged")

// Store is a directory-backed staging area.
type Store struct {
	dir string
}

// NewStore creates the staging directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put stages the payload and returns its opaque reference. The original
// file extension is preserved so the table parser can dispatch on it.
func (s *Store) Put(fileName string, r io.Reader) (string, error) {
	ref := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(fileName))

	f, err := os.Create(filepath.Join(s.dir, filePrefix+ref+ext))
	if err != nil {
		return "", fmt.Errorf("failed to create staged file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close staged file: %w", err)
	}
	return ref, nil
}

// Open resolves a reference to its file name (for format dispatch) and a
// reader. Returns ErrNotStaged for unknown or expired references.
func (s *Store) Open(ref string) (string, io.ReadCloser, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return "", nil, ErrNotStaged
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+ref+"*"))
	if err != nil || len(matches) == 0 {
		return "", nil, ErrNotStaged
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return "", nil, ErrNotStaged
	}
	return filepath.Base(matches[0]), f, nil
}

// Sweep removes staged files older than maxAge and reports how many were
// deleted.
func (s *Store) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(s.dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}
