package connection

import (
	"context"
	"sort"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/policy"
)

// RecordHealth describes one pooled connection.
type RecordHealth struct {
	Address             string        `json:"address"`
	Healthy             bool          `json:"healthy"`
	Connected           bool          `json:"connected"`
	Age                 time.Duration `json:"age"`
	SinceHealthCheck    time.Duration `json:"since_health_check"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// HealthMetrics summarises pool health.
type HealthMetrics struct {
	Total     int            `json:"total"`
	Healthy   int            `json:"healthy"`
	Unhealthy int            `json:"unhealthy"`
	OldestAge time.Duration  `json:"oldest_age"`
	Records   []RecordHealth `json:"records"`
}

// FailureCount is the failure history of one address.
type FailureCount struct {
	Consecutive   int       `json:"consecutive"`
	Total         int       `json:"total"`
	LastError     string    `json:"last_error,omitempty"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

// FailureStats summarises failures across addresses, pooled or not.
type FailureStats struct {
	Threshold     int                     `json:"threshold"`
	TotalFailures int                     `json:"total_failures"`
	ByAddress     map[string]FailureCount `json:"by_address"`
}

// PoolStats reports pool occupancy and lifetime counters.
type PoolStats struct {
	Size    int    `json:"size"`
	Active  string `json:"active,omitempty"`
	Opened  uint64 `json:"opened"`
	Reused  uint64 `json:"reused"`
	Evicted uint64 `json:"evicted"`
}

// IsConnectionHealthy reports whether address has a healthy, connected record.
func (m *Manager) IsConnectionHealthy(address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[address]
	return ok && rec.healthy && rec.handle.IsConnected()
}

// GetConnectionAge returns how long the record for address has existed,
// or UnknownAge when it is not pooled.
func (m *Manager) GetConnectionAge(address string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[address]
	if !ok {
		return UnknownAge
	}
	return m.now().Sub(rec.createdAt)
}

// ForceHealthCheck actively probes address by reading a cheap setting.
// Data reports the probe result; an unpooled address is a failure.
func (m *Manager) ForceHealthCheck(ctx context.Context, address string) domain.Result[bool] {
	m.mu.RLock()
	rec, ok := m.records[address]
	m.mu.RUnlock()
	if !ok {
		return domain.Fail[bool](domain.CodeNotConnected, "no pooled connection for "+address)
	}

	_, err := policy.NewTimeoutPolicy[string](m.cfg.ProbeTimeout).Execute(ctx, "health_probe",
		func(ctx context.Context) (string, error) {
			if !rec.handle.IsConnected() {
				return "", domain.ErrNotConnected
			}
			return rec.handle.GetSetting(ctx, m.cfg.ProbeSetting)
		})

	if err != nil {
		m.log.Warn("Health probe failed", "address", address, "error", err)
		m.recordFailure(address, err)
		return domain.OK(false)
	}

	m.mu.Lock()
	if current, ok := m.records[address]; ok && current == rec {
		rec.healthy = true
		rec.lastHealthCheck = m.now()
	}
	if f := m.failures[address]; f != nil {
		f.consecutive = 0
	}
	m.mu.Unlock()
	return domain.OK(true)
}

// GetHealthMetrics returns a snapshot of every pooled record.
func (m *Manager) GetHealthMetrics() HealthMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := HealthMetrics{Records: make([]RecordHealth, 0, len(m.records))}
	for addr, rec := range m.records {
		age := now.Sub(rec.createdAt)
		rh := RecordHealth{
			Address:          addr,
			Healthy:          rec.healthy,
			Connected:        rec.handle.IsConnected(),
			Age:              age,
			SinceHealthCheck: now.Sub(rec.lastHealthCheck),
		}
		if f := m.failures[addr]; f != nil {
			rh.ConsecutiveFailures = f.consecutive
		}
		out.Records = append(out.Records, rh)

		out.Total++
		if rh.Healthy && rh.Connected {
			out.Healthy++
		} else {
			out.Unhealthy++
		}
		if age > out.OldestAge {
			out.OldestAge = age
		}
	}
	sort.Slice(out.Records, func(i, j int) bool { return out.Records[i].Address < out.Records[j].Address })
	return out
}

// GetFailureStatistics returns failure counts per address.
func (m *Manager) GetFailureStatistics() FailureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := FailureStats{
		Threshold: m.cfg.FailureThreshold,
		ByAddress: make(map[string]FailureCount, len(m.failures)),
	}
	for addr, f := range m.failures {
		out.ByAddress[addr] = FailureCount{
			Consecutive:   f.consecutive,
			Total:         f.total,
			LastError:     f.lastErr,
			LastFailureAt: f.lastAt,
		}
		out.TotalFailures += f.total
	}
	return out
}

// GetPoolStatistics returns occupancy and lifetime counters.
func (m *Manager) GetPoolStatistics() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return PoolStats{
		Size:    len(m.records),
		Active:  m.active,
		Opened:  m.opened,
		Reused:  m.reused,
		Evicted: m.evicted,
	}
}

// Start launches the background health loop when HealthCheckInterval > 0.
func (m *Manager) Start() {
	if m.cfg.HealthCheckInterval <= 0 {
		return
	}
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.healthCheckLoop()
	})
}

func (m *Manager) healthCheckLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performHealthCheck()
		case <-m.stopHealthCheck:
			return
		}
	}
}

func (m *Manager) performHealthCheck() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopHealthCheck:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, addr := range m.Addresses() {
		if ctx.Err() != nil {
			return
		}
		m.ForceHealthCheck(ctx, addr)
	}
}
