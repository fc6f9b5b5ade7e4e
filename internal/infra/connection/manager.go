// Package connection pools device connections per address.
//
// This package contains:
//   - Manager: address-keyed pool with consecutive-failure eviction
//   - discovery caching through the shared cache.Manager
//   - health introspection and an optional background probe loop
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/cache"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/policy"
	"github.com/vietddude/printguard/internal/metrics"
)

// Config defines pool behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures that evicts a record.
	FailureThreshold    int           `yaml:"failure_threshold"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout"`
	DiscoveryTTL        time.Duration `yaml:"discovery_ttl"`

	// ProbeSetting is read by ForceHealthCheck. It should be cheap for the device.
	ProbeSetting string `yaml:"probe_setting"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	FailureThreshold:    3,
	ConnectTimeout:      10 * time.Second,
	HealthCheckInterval: 30 * time.Second,
	ProbeTimeout:        3 * time.Second,
	DiscoveryTTL:        5 * time.Minute,
	ProbeSetting:        device.SettingHostStatus,
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConfig.ConnectTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultConfig.ProbeTimeout
	}
	if c.DiscoveryTTL <= 0 {
		c.DiscoveryTTL = DefaultConfig.DiscoveryTTL
	}
	if c.ProbeSetting == "" {
		c.ProbeSetting = DefaultConfig.ProbeSetting
	}
	return c
}

// Options tune a single Connect call.
type Options struct {
	// Timeout bounds the connect attempt. Zero uses Config.ConnectTimeout.
	Timeout time.Duration
}

// UnknownAge is returned by GetConnectionAge for addresses not in the pool.
const UnknownAge time.Duration = -1

// record is one pooled connection. Fields are guarded by Manager.mu.
type record struct {
	address         string
	handle          device.Capability
	createdAt       time.Time
	lastHealthCheck time.Time
	healthy         bool
}

// failureCount tracks failures per address, pooled or not.
type failureCount struct {
	consecutive int
	total       int
	lastErr     string
	lastAt      time.Time
}

// Manager is an address-keyed pool of device connections.
// At most one record exists per address.
type Manager struct {
	mu       sync.RWMutex
	records  map[string]*record
	failures map[string]*failureCount
	active   string

	opened  uint64
	reused  uint64
	evicted uint64

	cfg        Config
	factory    device.Factory
	discoverer device.Discoverer
	cache      *cache.Manager
	discovery  singleflight.Group
	onEvent    func(domain.Event)
	log        *slog.Logger
	now        func() time.Time

	stopHealthCheck chan struct{}
	startOnce       sync.Once
	closeOnce       sync.Once
	wg              sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithDiscoverer sets the discovery capability used on cache misses.
func WithDiscoverer(d device.Discoverer) Option {
	return func(m *Manager) { m.discoverer = d }
}

// WithEvents registers a callback for connection lifecycle events.
func WithEvents(fn func(domain.Event)) Option {
	return func(m *Manager) { m.onEvent = fn }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a connection pool. The cache backs discovery results.
func NewManager(cfg Config, factory device.Factory, c *cache.Manager, opts ...Option) *Manager {
	m := &Manager{
		records:         make(map[string]*record),
		failures:        make(map[string]*failureCount),
		cfg:             cfg.withDefaults(),
		factory:         factory,
		cache:           c,
		log:             slog.Default().With("component", "connection"),
		now:             time.Now,
		stopHealthCheck: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect makes address the active connection, reusing a healthy pooled
// record when one exists.
func (m *Manager) Connect(ctx context.Context, address string, opts Options) domain.Result[struct{}] {
	if address == "" {
		return domain.Fail[struct{}](domain.CodeInvalidArgument, "address is required")
	}

	if m.reuse(address) {
		return domain.OK(struct{}{})
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.ConnectTimeout
	}

	handle := m.factory(address)
	_, err := policy.NewTimeoutPolicy[struct{}](timeout).Execute(ctx, "connect",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, handle.Connect(ctx, address)
		})
	if err != nil {
		// The attempt may still be running if it lost the timeout race.
		go func() { _ = handle.Disconnect(context.Background()) }()

		// A caller giving up says nothing about the printer.
		if errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled) {
			return domain.FailErr[struct{}](domain.CodeCancelled,
				fmt.Errorf("%w: %s: %w", domain.ErrConnection, address, err))
		}
		m.recordFailure(address, err)
		m.log.Warn("Connect failed", "address", address, "error", err)
		return domain.FailErr[struct{}](domain.CodeConnectionFailed,
			fmt.Errorf("%w: %s: %w", domain.ErrConnection, address, err))
	}

	m.store(ctx, address, handle)
	return domain.OK(struct{}{})
}

func (m *Manager) reuse(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[address]
	if !ok || !rec.healthy || !rec.handle.IsConnected() {
		return false
	}
	m.active = address
	m.reused++
	metrics.ConnectionReuses.WithLabelValues(address).Inc()
	return true
}

// store inserts a freshly opened handle. If another caller pooled a healthy
// connection for the same address meanwhile, that one wins and ours is closed.
func (m *Manager) store(ctx context.Context, address string, handle device.Capability) {
	now := m.now()

	m.mu.Lock()
	existing, ok := m.records[address]
	if ok && existing.healthy && existing.handle.IsConnected() {
		m.active = address
		m.reused++
		m.mu.Unlock()
		_ = handle.Disconnect(ctx)
		return
	}

	m.records[address] = &record{
		address:         address,
		handle:          handle,
		createdAt:       now,
		lastHealthCheck: now,
		healthy:         true,
	}
	if f := m.failures[address]; f != nil {
		f.consecutive = 0
	}
	m.active = address
	m.opened++
	size := len(m.records)
	m.mu.Unlock()

	if ok {
		_ = existing.handle.Disconnect(ctx)
	}

	metrics.ConnectionsOpened.WithLabelValues(address).Inc()
	metrics.PoolSize.Set(float64(size))
	m.log.Info("Connected", "address", address)
	m.emit(domain.NewEvent(domain.EventConnected, address, ""))
}

// recordFailure increments the consecutive-failure count and evicts the
// record once the threshold is reached.
func (m *Manager) recordFailure(address string, err error) {
	m.mu.Lock()
	f := m.failures[address]
	if f == nil {
		f = &failureCount{}
		m.failures[address] = f
	}
	f.consecutive++
	f.total++
	f.lastErr = err.Error()
	f.lastAt = m.now()

	if rec, ok := m.records[address]; ok {
		rec.healthy = false
	}

	var evicted *record
	if f.consecutive >= m.cfg.FailureThreshold {
		evicted = m.removeLocked(address)
	}
	m.mu.Unlock()

	metrics.ConnectionFailures.WithLabelValues(address).Inc()

	if evicted != nil {
		m.closeRecord(evicted, "failure_threshold")
	}
}

// removeLocked deletes the record for address and returns it. Caller holds mu.
func (m *Manager) removeLocked(address string) *record {
	rec, ok := m.records[address]
	if !ok {
		return nil
	}
	delete(m.records, address)
	if m.active == address {
		m.active = ""
	}
	m.evicted++
	metrics.PoolSize.Set(float64(len(m.records)))
	return rec
}

func (m *Manager) closeRecord(rec *record, reason string) {
	metrics.PoolEvictions.WithLabelValues(reason).Inc()
	if err := rec.handle.Disconnect(context.Background()); err != nil {
		m.log.Debug("Disconnect on eviction failed", "address", rec.address, "error", err)
	}
	m.log.Warn("Connection evicted", "address", rec.address, "reason", reason)
	m.emit(domain.NewEvent(domain.EventEvicted, rec.address, reason))
}

// Disconnect closes and clears the active connection. It never fails.
func (m *Manager) Disconnect(ctx context.Context) domain.Result[struct{}] {
	m.mu.Lock()
	if m.active == "" {
		m.mu.Unlock()
		return domain.OK(struct{}{})
	}
	rec := m.records[m.active]
	delete(m.records, m.active)
	m.active = ""
	size := len(m.records)
	m.mu.Unlock()

	metrics.PoolSize.Set(float64(size))
	if rec != nil {
		if err := rec.handle.Disconnect(ctx); err != nil {
			m.log.Debug("Disconnect failed", "address", rec.address, "error", err)
		}
	}
	return domain.OK(struct{}{})
}

// Active returns the address of the active connection, or "".
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Handle returns the pooled device for address when it is healthy.
func (m *Manager) Handle(address string) (device.Capability, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[address]
	if !ok || !rec.healthy {
		return nil, false
	}
	return rec.handle, true
}

// Addresses lists pooled addresses in sorted order.
func (m *Manager) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.records))
	for addr := range m.records {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// MarkConnectionUnhealthy invalidates a pooled entry immediately, so the next
// Connect opens a fresh connection instead of reusing it.
func (m *Manager) MarkConnectionUnhealthy(address string) {
	m.mu.Lock()
	rec, ok := m.records[address]
	if ok {
		rec.healthy = false
	}
	m.mu.Unlock()

	if ok {
		m.log.Info("Connection marked unhealthy", "address", address)
		m.emit(domain.NewEvent(domain.EventUnhealthy, address, "marked"))
	}
}

// ResetPoolIfNeeded drops every unhealthy record and clears the active
// connection and failure counters. It is safe to call at any time and always succeeds.
func (m *Manager) ResetPoolIfNeeded(ctx context.Context) domain.Result[int] {
	m.mu.Lock()
	var dropped []*record
	for addr, rec := range m.records {
		if !rec.healthy || !rec.handle.IsConnected() {
			dropped = append(dropped, m.removeLocked(addr))
		}
	}
	m.active = ""
	m.failures = make(map[string]*failureCount)
	m.mu.Unlock()

	for _, rec := range dropped {
		m.closeRecord(rec, "reset")
	}
	return domain.OK(len(dropped))
}

// Close stops the health loop and disconnects every pooled connection.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopHealthCheck)
		m.wg.Wait()

		m.mu.Lock()
		records := m.records
		m.records = make(map[string]*record)
		m.active = ""
		m.mu.Unlock()

		for _, rec := range records {
			_ = rec.handle.Disconnect(context.Background())
		}
		metrics.PoolSize.Set(0)
	})
}

func (m *Manager) emit(ev domain.Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}
