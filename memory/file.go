package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorruptFile indicates a memory file that exists but cannot be read or
// decoded. Writes are refused so its entries are not overwritten.
var ErrCorruptFile = errors.New("memory: corrupt memory file")

// FileStore keeps every entry in one JSON object on disk. The file is re-read
// on each call so several plans may share it; writes are serialized and
// replace the file atomically.
type FileStore struct {
	path   string
	match  Match
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created empty when
// it does not exist.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	o := collect(opts)
	s := &FileStore{path: path, match: o.match, logger: o.logger}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(map[string]string{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Remember implements Store. A write failure is returned to the caller, as is
// an existing file that cannot be decoded.
func (s *FileStore) Remember(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	entries[e.Key()] = e.Value
	return s.write(entries)
}

// Recollect implements Store. An unreadable file reads as empty.
func (s *FileStore) Recollect(_ context.Context, q Query) (string, bool, error) {
	s.mu.Lock()
	entries := s.read()
	s.mu.Unlock()

	candidates := make([]candidate, 0, len(entries))
	for k, v := range entries {
		candidates = append(candidates, candidate{key: k, value: v})
	}
	c, ok := selectBest(s.match, q, candidates)
	return c.value, ok, nil
}

// Close implements Backend.
func (s *FileStore) Close() error { return nil }

// read is load for lookups: a corrupt file reads as empty.
func (s *FileStore) read() map[string]string {
	entries, err := s.load()
	if err != nil {
		s.logger.Warn("Memory file unusable, treating as empty", "path", s.path, "error", err)
		return make(map[string]string)
	}
	return entries
}

// load decodes the file. A missing or empty file holds no entries.
func (s *FileStore) load() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptFile, s.path, err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptFile, s.path, err)
	}
	return entries, nil
}

func (s *FileStore) write(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create memory temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close memory temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}
