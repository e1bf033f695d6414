package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"jepcobird/pkg/config"
)

const defaultRedisPrefix = "jepcobird:user:"

type RedisStore struct {
	client *backend.Client
	prefix string
}

// NewRedisStore connects using cfg and pings the server once.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreFromClient(client, cfg.Prefix), nil
}

func NewRedisStoreFromClient(client *backend.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis store: get %s: %w", id, err)
	}

	var record Record
	if err := json.Unmarshal(val, &record); err != nil {
		return Record{}, fmt.Errorf("redis store: decode %s: %w", id, err)
	}
	return record, nil
}

func (s *RedisStore) Save(ctx context.Context, record Record) (string, error) {
	record = prepare(record)
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("redis store: encode %s: %w", record.ID, err)
	}
	if err := s.client.Set(ctx, s.key(record.ID), data, 0).Err(); err != nil {
		return "", fmt.Errorf("redis store: save %s: %w", record.ID, err)
	}
	return record.ID, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
