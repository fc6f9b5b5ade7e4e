// Package worker holds background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// JobPruner deletes job log rows older than a cutoff.
type JobPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CachePruner deletes persisted cache rows that expired before now.
type CachePruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Pruner deletes old job history and expired cache rows based on retention policy.
type Pruner struct {
	retention time.Duration
	jobs      JobPruner
	cache     CachePruner
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. Either store may be nil.
func NewPruner(retention time.Duration, jobs JobPruner, cache CachePruner) *Pruner {
	return &Pruner{
		retention: retention,
		jobs:      jobs,
		cache:     cache,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Interval is how often Start prunes: 10% of retention, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass and returns the number of job and cache rows removed.
func (p *Pruner) Prune(ctx context.Context) (jobs, entries int64) {
	now := p.now()

	if p.jobs != nil && p.retention > 0 {
		n, err := p.jobs.PruneBefore(ctx, now.Add(-p.retention))
		if err != nil {
			p.log.Error("Failed to prune job log", "error", err)
		}
		jobs = n
	}

	if p.cache != nil {
		n, err := p.cache.Prune(ctx, now)
		if err != nil {
			p.log.Error("Failed to prune cache entries", "error", err)
		}
		entries = n
	}

	if jobs > 0 || entries > 0 {
		p.log.Debug("Pruned", "jobs", jobs, "cache_entries", entries)
	}
	return jobs, entries
}
