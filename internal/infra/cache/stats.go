package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// entryOverhead approximates the per-entry bookkeeping cost in bytes.
const entryOverhead = 64

// Stats holds cache accounting.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Entries        int
	MemoryEstimate int64 // bytes, approximate
}

// Stats returns current accounting.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var mem int64
	for key, e := range m.entries {
		mem += entryOverhead + int64(len(key)) + int64(len(e.category)) + sizeOf(e.value)
	}

	return Stats{
		Hits:           m.hits,
		Misses:         m.misses,
		Entries:        len(m.entries),
		MemoryEstimate: mem,
	}
}

// HitRate returns hits/(hits+misses), or 1.0 before any lookup was recorded.
func (m *Manager) HitRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := m.hits + m.misses
	if total == 0 {
		return 1.0
	}
	return float64(m.hits) / float64(total)
}

// IsCorrupted runs the self-check over every entry.
func (m *Manager) IsCorrupted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.corruptedLocked()
}

func (m *Manager) corruptedLocked() (corrupted bool) {
	defer func() {
		if r := recover(); r != nil {
			corrupted = true
		}
	}()

	if m.entries == nil {
		return true
	}
	for key, e := range m.entries {
		if key == "" || e.expiresAt.IsZero() {
			return true
		}
		if e.category != "" && !strings.HasPrefix(key, e.category+categorySep) {
			return true
		}
	}
	return false
}

// ClearCorrupted wipes all state and resets counters when the self-check fails.
// It reports whether a wipe happened and never returns an error.
func (m *Manager) ClearCorrupted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.corruptedLocked() {
		return false
	}
	m.log.Warn("Cache self-check failed, clearing state", "entries", len(m.entries))
	m.entries = make(map[string]entry)
	m.hits = 0
	m.misses = 0
	return true
}

// ResetStats zeroes the hit and miss counters.
func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = 0
	m.misses = 0
}

func sizeOf(v any) int64 {
	switch typed := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(typed))
	case []byte:
		return int64(len(typed))
	case json.RawMessage:
		return int64(len(typed))
	case bool:
		return 1
	case int, int64, uint64, float64, time.Duration:
		return 8
	case fmt.Stringer:
		return int64(len(typed.String()))
	}
	if raw, err := json.Marshal(v); err == nil {
		return int64(len(raw))
	}
	return entryOverhead
}
