package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/printguard/internal/infra/cache"
)

// CacheStore persists cache snapshots as a single Redis hash, one field per key.
type CacheStore struct {
	client *Client
	log    *slog.Logger
}

// NewCacheStore creates a cache persister on top of client.
func NewCacheStore(client *Client) *CacheStore {
	return &CacheStore{
		client: client,
		log:    slog.Default().With("component", "redis-cache"),
	}
}

// Save replaces the stored snapshot. The hash expires with its longest-lived entry.
func (s *CacheStore) Save(ctx context.Context, entries map[string]cache.PersistedEntry) error {
	key := s.client.cacheKey()

	fields := make(map[string]any, len(entries))
	var latest time.Time
	for k, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %q: %w", k, err)
		}
		fields[k] = data
		if e.ExpiresAt.After(latest) {
			latest = e.ExpiresAt
		}
	}

	_, err := s.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			pipe.ExpireAt(ctx, key, latest)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. Fields that fail to decode are skipped.
func (s *CacheStore) Load(ctx context.Context) (map[string]cache.PersistedEntry, error) {
	raw, err := s.client.rdb.HGetAll(ctx, s.client.cacheKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	out := make(map[string]cache.PersistedEntry, len(raw))
	for k, v := range raw {
		var e cache.PersistedEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.log.Warn("Skipping malformed cache entry", "key", k, "error", err)
			continue
		}
		out[k] = e
	}
	return out, nil
}

var _ cache.Persister = (*CacheStore)(nil)
