package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/printguard/internal/infra/cache"
	"github.com/vietddude/printguard/internal/infra/connection"
)

// PoolSource reports connection pool state.
type PoolSource interface {
	GetHealthMetrics() connection.HealthMetrics
	GetPoolStatistics() connection.PoolStats
	GetFailureStatistics() connection.FailureStats
}

// CacheSource reports cache state.
type CacheSource interface {
	Stats() cache.Stats
	HitRate() float64
	IsCorrupted() bool
}

// Checker probes an external dependency such as the database or Redis.
type Checker func(ctx context.Context) error

const (
	defaultMinInterval = 10 * time.Second
	dependencyTimeout  = 3 * time.Second
)

// Monitor aggregates health status from the pool, the cache and dependencies.
type Monitor struct {
	pool        PoolSource
	cache       CacheSource
	checks      map[string]Checker
	minInterval time.Duration
	now         func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCheck registers a named dependency probe.
func WithCheck(name string, c Checker) MonitorOption {
	return func(m *Monitor) { m.checks[name] = c }
}

// WithMinInterval sets how long a report is reused before rechecking.
func WithMinInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.minInterval = d }
}

// NewMonitor creates a new health monitor. cache may be nil.
func NewMonitor(pool PoolSource, cache CacheSource, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		pool:        pool,
		cache:       cache,
		checks:      make(map[string]Checker),
		minInterval: defaultMinInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckHealth builds a report, reusing the previous one inside the minimum interval.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit so health polling does not hammer dependencies
	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.minInterval {
		return *m.lastReport
	}

	report := m.build(ctx)
	m.lastCheck = m.now()
	m.lastReport = &report
	return report
}

func (m *Monitor) build(ctx context.Context) HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Printers:     make(map[string]PrinterHealth),
		CheckedAt:    m.now().UTC(),
	}

	metrics := m.pool.GetHealthMetrics()
	critical := 0
	for _, rec := range metrics.Records {
		ph := PrinterHealth{
			Address:             rec.Address,
			Status:              StatusHealthy,
			Connected:           rec.Connected,
			Healthy:             rec.Healthy,
			ConsecutiveFailures: rec.ConsecutiveFailures,
			Age:                 rec.Age,
		}

		// Evaluate Status
		switch {
		case !rec.Connected:
			ph.Status = StatusCritical
			critical++
		case !rec.Healthy || rec.ConsecutiveFailures > 0:
			ph.Status = StatusDegraded
		}
		report.Printers[rec.Address] = ph
		if ph.Status != StatusHealthy {
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
		}
	}
	// One dead printer degrades the service; losing all of them is critical.
	if len(metrics.Records) > 0 && critical == len(metrics.Records) {
		report.SystemStatus = StatusCritical
	}

	stats := m.pool.GetPoolStatistics()
	failures := m.pool.GetFailureStatistics()
	report.Pool = PoolSummary{
		Size:          stats.Size,
		Opened:        stats.Opened,
		Reused:        stats.Reused,
		Evicted:       stats.Evicted,
		TotalFailures: failures.TotalFailures,
	}

	if m.cache != nil {
		cs := m.cache.Stats()
		report.Cache = CacheHealth{
			Entries:   cs.Entries,
			HitRate:   m.cache.HitRate(),
			Corrupted: m.cache.IsCorrupted(),
		}
		if report.Cache.Corrupted {
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
		}
	}

	if len(m.checks) > 0 {
		report.Dependencies = make(map[string]string, len(m.checks))
		for name, check := range m.checks {
			cctx, cancel := context.WithTimeout(ctx, dependencyTimeout)
			err := check(cctx)
			cancel()
			if err != nil {
				report.Dependencies[name] = err.Error()
				report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
				continue
			}
			report.Dependencies[name] = "ok"
		}
	}

	return report
}

var (
	_ PoolSource  = (*connection.Manager)(nil)
	_ CacheSource = (*cache.Manager)(nil)
)
