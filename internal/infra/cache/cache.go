// Package cache provides the process-wide TTL cache used for discovery results
// and other memoized device lookups.
//
// This package contains:
//   - Manager: keyed store with per-entry expiry and category namespaces
//   - Stats: hit/miss accounting
//   - Persister: snapshot/restore hook for non-expired entries
package cache

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/printguard/internal/metrics"
)

// Config defines cache behavior.
type Config struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	DefaultTTL:    5 * time.Minute,
	SweepInterval: time.Minute,
}

type entry struct {
	value     any
	expiresAt time.Time
	category  string
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Manager is a keyed store with per-entry expiry.
// Reads past expiry behave exactly like misses regardless of sweep timing.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    uint64
	misses  uint64

	cfg       Config
	persister Persister
	log       *slog.Logger
	now       func() time.Time

	stopSweep chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithPersister attaches the backing store used by PersistCache and LoadCache.
func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// withClock is used by tests to control expiry.
func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a cache and starts its expiry sweep when SweepInterval > 0.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig.DefaultTTL
	}
	m := &Manager{
		entries:   make(map[string]entry),
		cfg:       cfg,
		log:       slog.Default().With("component", "cache"),
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop(cfg.SweepInterval)
	}
	return m
}

// Set stores value under key. A non-positive ttl uses the default TTL.
func (m *Manager) Set(key string, value any, ttl time.Duration) {
	m.set(key, "", value, ttl)
}

func (m *Manager) set(key, category string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{
		value:     value,
		expiresAt: m.now().Add(ttl),
		category:  category,
	}
}

// Get returns the value stored under key. Unknown and expired keys are misses.
func (m *Manager) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && e.expired(m.now()) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		m.misses++
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	m.hits++
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.value, true
}

// GetAs returns the value under key converted to T.
// Values restored by LoadCache are held as raw JSON and decoded on first typed read.
func GetAs[T any](m *Manager, key string) (T, bool) {
	var zero T
	v, ok := m.Get(key)
	if !ok {
		return zero, false
	}
	return convert[T](v)
}

func convert[T any](v any) (T, bool) {
	var zero T
	switch typed := v.(type) {
	case T:
		return typed, true
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(typed, &out); err != nil {
			return zero, false
		}
		return out, true
	}
	return zero, false
}

// Invalidate removes a single key.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// ClearAll drops every entry. Counters are kept.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]entry)
}

// Len returns the number of stored entries, expired or not.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the expiry sweep. Safe to call multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopSweep)
	})
	m.wg.Wait()
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("Swept expired cache entries", "count", n)
			}
		case <-m.stopSweep:
			return
		}
	}
}

// Sweep purges expired entries and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvictions.Add(float64(removed))
	}
	return removed
}
