// Package profile persists what the bot remembers about users. Every backend
// is last-write-wins per user id.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jepcobird/pkg/config"
)

// ErrNotFound is returned by Get for users with no stored record.
var ErrNotFound = errors.New("profile not found")

type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Get(ctx context.Context, id string) (Record, error)
	// Save stores record and returns its id, assigning one when empty.
	Save(ctx context.Context, record Record) (string, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageFile:
		dir, err := resolveDir(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return NewFileStore(dir)
	case config.StorageSQLite:
		path, err := resolveFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return OpenSQLite(ctx, path)
	case config.StorageRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// Name returns the stored name for id, treating a missing record as no name.
func Name(ctx context.Context, store Store, id string) (string, error) {
	record, err := store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return record.Name, nil
}

// prepare fills the id and timestamp before a write.
func prepare(record Record) Record {
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	return record
}
