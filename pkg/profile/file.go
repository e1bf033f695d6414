package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSON document per user under <dir>/users.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty path")
	}
	users := filepath.Join(dir, "users")
	if err := os.MkdirAll(users, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", users, err)
	}
	return &FileStore{dir: users}, nil
}

// path escapes id so transport ids such as "@bot:example.org" stay one file.
func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, url.PathEscape(id)+".json")
}

func (s *FileStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("file store: read %s: %w", id, err)
	}

	var record Record
	if err := json.Unmarshal(content, &record); err != nil {
		return Record{}, fmt.Errorf("file store: decode %s: %w", id, err)
	}
	return record, nil
}

func (s *FileStore) Save(_ context.Context, record Record) (string, error) {
	record = prepare(record)
	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("file store: encode %s: %w", record.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(record.ID)
	tmp, err := os.CreateTemp(s.dir, ".profile-*")
	if err != nil {
		return "", fmt.Errorf("file store: create temp: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file store: write %s: %w", record.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file store: close %s: %w", record.ID, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file store: rename %s: %w", record.ID, err)
	}
	return record.ID, nil
}

func (s *FileStore) Close() error { return nil }
