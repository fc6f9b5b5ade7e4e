package connection

import (
	"context"
	"fmt"
	"slices"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/cache"
)

// Discover returns printers for opts, serving from the discovery cache category
// while the entry is fresh. Concurrent misses for the same key share one
// discoverer call; it is detached from any single caller's cancellation and
// bounded by max(opts.Timeout, ConnectTimeout). Callers always get their own
// copy of the result.
func (m *Manager) Discover(ctx context.Context, opts domain.DiscoveryOptions) domain.Result[[]domain.DeviceDescriptor] {
	key := opts.CacheKey()

	if !opts.Refresh {
		if devices, ok := cache.GetByCategoryAs[[]domain.DeviceDescriptor](m.cache, cache.CategoryDiscovery, key); ok {
			m.log.Debug("Discovery cache hit", "key", key, "devices", len(devices))
			return domain.OK(slices.Clone(devices))
		}
	}

	if m.discoverer == nil {
		return domain.Fail[[]domain.DeviceDescriptor](domain.CodeDiscoveryFailed, "no discoverer configured")
	}

	bound := max(opts.Timeout, m.cfg.ConnectTimeout)
	flight := m.discovery.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bound)
		defer cancel()

		devices, err := m.discoverer.Discover(fctx, opts)
		if err != nil {
			return nil, err
		}
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = m.cfg.DiscoveryTTL
		}
		m.cache.SetByCategory(cache.CategoryDiscovery, key, slices.Clone(devices), ttl)
		return devices, nil
	})

	var v any
	var err error
	select {
	case <-ctx.Done():
		err = fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
		return domain.FailErr[[]domain.DeviceDescriptor](domain.CodeCancelled, err)
	case r := <-flight:
		v, err = r.Val, r.Err
	}
	if err != nil {
		m.log.Warn("Discovery failed", "key", key, "error", err)
		return domain.FailErr[[]domain.DeviceDescriptor](domain.CodeDiscoveryFailed,
			fmt.Errorf("%w: %w", domain.ErrDiscovery, err))
	}

	devices := v.([]domain.DeviceDescriptor)
	m.log.Info("Discovery completed", "key", key, "devices", len(devices))
	return domain.OK(slices.Clone(devices))
}

// InvalidateDiscovery drops every cached discovery result.
func (m *Manager) InvalidateDiscovery() int {
	return m.cache.ClearCategory(cache.CategoryDiscovery)
}
