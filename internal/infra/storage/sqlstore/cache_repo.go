package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/printguard/internal/infra/cache"
)

// CacheRepo implements cache.Persister on the cache_entries table.
type CacheRepo struct {
	db *DB
}

// NewCacheRepo creates a SQL-backed cache persister.
func NewCacheRepo(db *DB) *CacheRepo {
	return &CacheRepo{db: db}
}

type cacheRow struct {
	Key       string `db:"key"`
	Value     string `db:"value"`
	Category  string `db:"category"`
	ExpiresAt int64  `db:"expires_at"`
}

// Save replaces the stored snapshot in one transaction.
func (r *CacheRepo) Save(ctx context.Context, entries map[string]cache.PersistedEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("failed to clear cache entries: %w", err)
	}

	insert := r.db.Rebind(`INSERT INTO cache_entries (key, value, category, expires_at) VALUES (?, ?, ?, ?)`)
	for key, e := range entries {
		if _, err := tx.ExecContext(ctx, insert, key, string(e.Value), e.Category, e.ExpiresAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to save cache entry %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache snapshot: %w", err)
	}
	return nil
}

// Load returns every stored entry. Expiry filtering is left to the cache.
func (r *CacheRepo) Load(ctx context.Context) (map[string]cache.PersistedEntry, error) {
	var rows []cacheRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT key, value, category, expires_at FROM cache_entries`); err != nil {
		return nil, fmt.Errorf("failed to load cache entries: %w", err)
	}

	out := make(map[string]cache.PersistedEntry, len(rows))
	for _, row := range rows {
		out[row.Key] = cache.PersistedEntry{
			Value:     json.RawMessage(row.Value),
			Category:  row.Category,
			ExpiresAt: time.Unix(0, row.ExpiresAt).UTC(),
		}
	}
	return out, nil
}

// Prune deletes entries that expired before now.
func (r *CacheRepo) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM cache_entries WHERE expires_at <= ?`), now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache entries: %w", err)
	}
	return res.RowsAffected()
}

var _ cache.Persister = (*CacheRepo)(nil)
