package cache

import (
	"strings"
	"time"
)

// categorySep joins a category and a key. Categories are prefixes in one store,
// not separate maps.
const categorySep = ":"

// Well-known categories.
const (
	CategoryDiscovery = "discovery"
	CategorySettings  = "settings"
)

// CategoryKey returns the namespaced key for key in category.
func CategoryKey(category, key string) string {
	return category + categorySep + key
}

// SetByCategory stores value under key inside category.
func (m *Manager) SetByCategory(category, key string, value any, ttl time.Duration) {
	m.set(CategoryKey(category, key), category, value, ttl)
}

// GetByCategory reads key from category.
func (m *Manager) GetByCategory(category, key string) (any, bool) {
	return m.Get(CategoryKey(category, key))
}

// GetByCategoryAs reads key from category converted to T.
func GetByCategoryAs[T any](m *Manager, category, key string) (T, bool) {
	return GetAs[T](m, CategoryKey(category, key))
}

// InvalidateByCategory removes key from category.
func (m *Manager) InvalidateByCategory(category, key string) {
	m.Invalidate(CategoryKey(category, key))
}

// ClearCategory removes every key in category and leaves all other keys alone.
func (m *Manager) ClearCategory(category string) int {
	if category == "" {
		return 0
	}
	prefix := category + categorySep

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}
