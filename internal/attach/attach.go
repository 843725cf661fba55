// Package attach stores ticket attachments on the local filesystem under the
// daemon's data directory.
package attach

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the named attachment does not exist.
var ErrNotFound = errors.New("attach: attachment not found")

// unsafeChars matches everything that is stripped from client-supplied
// filenames before they touch the filesystem.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Store keeps attachments as flat files in one directory. Stored names are
// prefixed with a millisecond timestamp so uploads never collide.
type Store struct {
	dir string
}

// NewStore creates the attachments directory if needed.
func NewStore(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "attachments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attach: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes an upload and returns the stored name it is retrievable under.
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	name := sanitize(filename)
	if name == "" {
		name = "attachment"
	}
	stored := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + name

	f, err := os.Create(filepath.Join(s.dir, stored))
	if err != nil {
		return "", fmt.Errorf("attach: create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("attach: write file: %w", err)
	}
	return stored, nil
}

// Open returns a reader for a stored attachment. The caller closes it.
func (s *Store) Open(stored string) (io.ReadCloser, error) {
	// A stored name is always a single path element; anything else is a
	// traversal attempt.
	if stored != filepath.Base(stored) || stored == "." || stored == ".." {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, stored))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attach: open: %w", err)
	}
	return f, nil
}

func sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	return strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
}
