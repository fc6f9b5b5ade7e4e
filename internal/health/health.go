// Package health provides printer pool health monitoring and status reporting
// over HTTP and the gRPC health protocol.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PrinterHealth contains health metrics for one pooled printer.
type PrinterHealth struct {
	Address             string        `json:"address"`
	Status              SystemStatus  `json:"status"`
	Connected           bool          `json:"connected"`
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Age                 time.Duration `json:"age"`
}

// CacheHealth summarises the shared cache.
type CacheHealth struct {
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
	Corrupted bool    `json:"corrupted"`
}

// PoolSummary reports pool occupancy and lifetime counters.
type PoolSummary struct {
	Size          int    `json:"size"`
	Opened        uint64 `json:"opened"`
	Reused        uint64 `json:"reused"`
	Evicted       uint64 `json:"evicted"`
	TotalFailures int    `json:"total_failures"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	Printers     map[string]PrinterHealth `json:"printers"`
	Pool         PoolSummary              `json:"pool"`
	Cache        CacheHealth              `json:"cache"`
	Dependencies map[string]string        `json:"dependencies,omitempty"`
	CheckedAt    time.Time                `json:"checked_at"`
}

func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
