package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// PersistedEntry is the serialised form of a cache entry.
type PersistedEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expires_at"`
	Category  string          `json:"category,omitempty"`
}

// Persister stores and restores cache snapshots.
type Persister interface {
	Load(ctx context.Context) (map[string]PersistedEntry, error)
	Save(ctx context.Context, entries map[string]PersistedEntry) error
}

// PersistCache writes every non-expired entry through the persister.
// Concurrent writes race last-write-wins; no transactional guarantee is made.
func (m *Manager) PersistCache(ctx context.Context) domain.Result[int] {
	if m.persister == nil {
		return domain.Fail[int](domain.CodePersistence, "cache: no persister configured")
	}

	snapshot, err := m.snapshot()
	if err != nil {
		return domain.FailErr[int](domain.CodePersistence, err)
	}
	if err := m.persister.Save(ctx, snapshot); err != nil {
		m.log.Warn("Failed to persist cache", "error", err)
		return domain.FailErr[int](domain.CodePersistence, fmt.Errorf("cache: save: %w", err))
	}

	m.log.Debug("Persisted cache", "entries", len(snapshot))
	return domain.OK(len(snapshot))
}

func (m *Manager) snapshot() (map[string]PersistedEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make(map[string]PersistedEntry, len(m.entries))
	for key, e := range m.entries {
		if e.expired(now) {
			continue
		}
		raw, ok := e.value.(json.RawMessage)
		if !ok {
			var err error
			raw, err = json.Marshal(e.value)
			if err != nil {
				return nil, fmt.Errorf("cache: marshal %q: %w", key, err)
			}
		}
		out[key] = PersistedEntry{Value: raw, ExpiresAt: e.expiresAt, Category: e.category}
	}
	return out, nil
}

// LoadCache restores entries from the persister. Expired entries are dropped,
// existing keys are overwritten.
func (m *Manager) LoadCache(ctx context.Context) domain.Result[int] {
	if m.persister == nil {
		return domain.Fail[int](domain.CodePersistence, "cache: no persister configured")
	}

	loaded, err := m.persister.Load(ctx)
	if err != nil {
		m.log.Warn("Failed to load cache", "error", err)
		return domain.FailErr[int](domain.CodePersistence, fmt.Errorf("cache: load: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	restored := 0
	for key, pe := range loaded {
		if key == "" || !now.Before(pe.ExpiresAt) {
			continue
		}
		m.entries[key] = entry{
			value:     pe.Value,
			expiresAt: pe.ExpiresAt,
			category:  pe.Category,
		}
		restored++
	}

	m.log.Debug("Loaded cache", "restored", restored, "dropped", len(loaded)-restored)
	return domain.OK(restored)
}

// MemoryPersister keeps snapshots in process memory.
type MemoryPersister struct {
	mu      sync.Mutex
	entries map[string]PersistedEntry
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{entries: make(map[string]PersistedEntry)}
}

// Load returns a copy of the stored snapshot.
func (p *MemoryPersister) Load(_ context.Context) (map[string]PersistedEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PersistedEntry, len(p.entries))
	for k, v := range p.entries {
		out[k] = v
	}
	return out, nil
}

// Save replaces the stored snapshot.
func (p *MemoryPersister) Save(_ context.Context, entries map[string]PersistedEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]PersistedEntry, len(entries))
	for k, v := range entries {
		p.entries[k] = v
	}
	return nil
}
