// Package service orchestrates connection pooling, readiness, correction and
// transmission for print jobs. A Service is constructed explicitly and owns
// its collaborators; there is no process-wide instance.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/cache"
	"github.com/vietddude/printguard/internal/infra/connection"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/policy"
	"github.com/vietddude/printguard/internal/metrics"
	"github.com/vietddude/printguard/internal/printing/correction"
	"github.com/vietddude/printguard/internal/printing/readiness"
)

// Policies holds the per-operation policy presets.
type Policies struct {
	Connect policy.Config `yaml:"connect"`
	Print   policy.Config `yaml:"print"`
	Status  policy.Config `yaml:"status"`
}

// DefaultPolicies provides sensible defaults.
var DefaultPolicies = Policies{
	Connect: policy.Config{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Timeout:           10 * time.Second,
		RetryOnTimeout:    true,
		RetryOnError:      true,
	},
	Print: policy.Config{
		MaxAttempts:       2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
		Timeout:           30 * time.Second,
		RetryOnTimeout:    false,
		RetryOnError:      true,
	},
	Status: policy.Config{
		MaxAttempts:       1,
		BackoffMultiplier: 1,
		Timeout:           5 * time.Second,
	},
}

// Config wires the service.
type Config struct {
	Cache      cache.Config
	Pool       connection.Config
	Policies   Policies
	Correction correction.Config
}

// PrintOptions tune one print job.
type PrintOptions struct {
	// SkipCorrection sends data without the pre-print correction sequence.
	SkipCorrection bool

	// AllowNotReady sends even when the post-correction check reports not ready.
	AllowNotReady bool
}

// PrintReceipt describes a delivered job.
type PrintReceipt struct {
	JobID       string              `json:"job_id"`
	Address     string              `json:"address"`
	Format      domain.Format       `json:"format"`
	Attempts    int                 `json:"attempts"`
	Elapsed     time.Duration       `json:"elapsed"`
	Corrections []correction.Action `json:"corrections,omitempty"`
}

// Status is the result of a status query.
type Status struct {
	Address   string           `json:"address"`
	Ready     bool             `json:"ready"`
	Readiness readiness.Report `json:"readiness"`
}

// Service is the print pipeline.
type Service struct {
	cfg       Config
	cache     *cache.Manager
	conns     *connection.Manager
	engine    *correction.Engine
	publisher Publisher
	jobs      JobLog
	locks     *keyedMutex
	persist   bool
	log       *slog.Logger
}

type options struct {
	discoverer device.Discoverer
	persister  cache.Persister
	publisher  Publisher
	jobs       JobLog
	commands   correction.Commands
	log        *slog.Logger
}

// Option configures a Service.
type Option func(*options)

// WithDiscoverer sets the discovery capability.
func WithDiscoverer(d device.Discoverer) Option {
	return func(o *options) { o.discoverer = d }
}

// WithPersister sets the cache persistence backend.
func WithPersister(p cache.Persister) Option {
	return func(o *options) { o.persister = p }
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithJobLog records every print outcome.
func WithJobLog(j JobLog) Option {
	return func(o *options) { o.jobs = j }
}

// WithCommands overrides the corrective command catalog.
func WithCommands(c correction.Commands) Option {
	return func(o *options) { o.commands = c }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// New builds a service and its owned collaborators.
func New(cfg Config, factory device.Factory, opts ...Option) *Service {
	o := options{log: slog.Default().With("component", "service")}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = slogPublisher{log: o.log}
	}

	s := &Service{
		cfg:       cfg,
		publisher: o.publisher,
		jobs:      o.jobs,
		locks:     newKeyedMutex(),
		persist:   o.persister != nil,
		log:       o.log,
	}

	var cacheOpts []cache.Option
	if o.persister != nil {
		cacheOpts = append(cacheOpts, cache.WithPersister(o.persister))
	}
	s.cache = cache.NewManager(cfg.Cache, cacheOpts...)

	connOpts := []connection.Option{connection.WithEvents(s.publish)}
	if o.discoverer != nil {
		connOpts = append(connOpts, connection.WithDiscoverer(o.discoverer))
	}
	s.conns = connection.NewManager(cfg.Pool, factory, s.cache, connOpts...)
	s.engine = correction.NewEngine(cfg.Correction, o.commands)
	return s
}

// Start restores the persisted cache and starts the pool health loop.
func (s *Service) Start(ctx context.Context) {
	if s.persist {
		if res := s.cache.LoadCache(ctx); res.Success {
			s.log.Info("Cache restored", "entries", res.Data)
		} else {
			s.log.Warn("Cache restore failed", "error", res.Error)
		}
	}
	s.conns.Start()
}

// Close persists the cache and releases every connection. It never fails.
func (s *Service) Close(ctx context.Context) {
	if s.persist {
		if res := s.cache.PersistCache(ctx); res.Success {
			s.log.Info("Cache persisted", "entries", res.Data)
		} else {
			s.log.Warn("Cache persist failed", "error", res.Error)
		}
	}
	s.conns.Close()
	s.cache.Close()
}

// Pool exposes the connection manager for introspection.
func (s *Service) Pool() *connection.Manager { return s.conns }

// Cache exposes the shared cache.
func (s *Service) Cache() *cache.Manager { return s.cache }

// Engine exposes the correction engine.
func (s *Service) Engine() *correction.Engine { return s.engine }

// Discover lists printers, served from the discovery cache while fresh.
func (s *Service) Discover(ctx context.Context, opts domain.DiscoveryOptions) domain.Result[[]domain.DeviceDescriptor] {
	return s.conns.Discover(ctx, opts)
}

// connect obtains a pooled handle for address under the connect policy.
func (s *Service) connect(ctx context.Context, address string) (device.Capability, error) {
	pc := s.cfg.Policies.Connect
	out := policy.NewRetryPolicy[struct{}](pc).ExecuteResult(ctx, "connect",
		func(ctx context.Context) domain.Result[struct{}] {
			return s.conns.Connect(ctx, address, connection.Options{Timeout: pc.Timeout})
		})
	if out.Err != nil {
		return nil, out.Err
	}
	handle, ok := s.conns.Handle(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotConnected, address)
	}
	return handle, nil
}

func (s *Service) snapshot(dev device.Capability) *readiness.Readiness {
	return readiness.New(dev, readiness.WithReadTimeout(s.cfg.Policies.Status.Timeout))
}

// Print delivers data to the printer at address.
//
// The pipeline is connect, pre-print correction, readiness check on a fresh
// snapshot, then transmission under the print policy. Calls for the same
// address are serialised so a timed-out transmission cannot overlap the next one.
func (s *Service) Print(ctx context.Context, address string, data []byte, opts PrintOptions) domain.Result[PrintReceipt] {
	if address == "" {
		return domain.Fail[PrintReceipt](domain.CodeInvalidArgument, "address is required")
	}
	if len(data) == 0 {
		return domain.Fail[PrintReceipt](domain.CodeInvalidArgument, "label data is empty")
	}

	unlock, err := s.locks.Lock(ctx, address)
	if err != nil {
		return domain.FailErr[PrintReceipt](domain.CodeCancelled, err)
	}
	defer unlock()

	start := time.Now()
	receipt := PrintReceipt{
		JobID:   uuid.NewString(),
		Address: address,
		Format:  domain.DetectFormat(data),
	}
	log := s.log.With("job_id", receipt.JobID, "address", address, "format", receipt.Format)

	fail := func(res domain.Result[PrintReceipt]) domain.Result[PrintReceipt] {
		metrics.PrintJobs.WithLabelValues(formatLabel(receipt.Format), "failure").Inc()
		log.Warn("Print failed", "code", res.Code(), "error", res.Error)
		s.publishJob(domain.EventPrintFail, address, receipt.JobID, string(res.Code()))
		receipt.Elapsed = time.Since(start)
		s.recordJob(receipt, res.Code())
		return res
	}

	dev, err := s.connect(ctx, address)
	if err != nil {
		return fail(domain.FailErr[PrintReceipt](domain.CodeConnectionFailed, err))
	}

	if !opts.SkipCorrection {
		run, res := s.engine.RunForPrinting(ctx, s.snapshot(dev), data)
		for _, a := range run.Actions {
			if a.Applied {
				receipt.Corrections = append(receipt.Corrections, a.Action)
				s.publishJob(domain.EventCorrection, address, receipt.JobID, string(a.Action))
			}
		}
		if !res.Success {
			return fail(domain.Result[PrintReceipt]{Error: res.Error})
		}
	}

	if !opts.AllowNotReady {
		// Corrections may have changed device state, so check on a new snapshot.
		ready, err := s.snapshot(dev).IsReady(ctx)
		if err != nil {
			return fail(domain.FailWith[PrintReceipt](domain.CodeReadinessFailed, err))
		}
		if !ready {
			return fail(domain.Fail[PrintReceipt](domain.CodeNotReady, "printer is not ready"))
		}
	}

	out := policy.FromConfig[struct{}](s.cfg.Policies.Print).Run(ctx, "print",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, dev.Send(ctx, data)
		})
	receipt.Attempts = out.Attempts
	if out.Err != nil {
		if !errors.Is(out.Err, domain.ErrCancelled) {
			s.conns.MarkConnectionUnhealthy(address)
		}
		return fail(domain.FailErr[PrintReceipt](domain.CodePrintFailed, out.Err))
	}

	receipt.Elapsed = time.Since(start)
	metrics.PrintJobs.WithLabelValues(formatLabel(receipt.Format), "success").Inc()
	metrics.PrintLatency.WithLabelValues(formatLabel(receipt.Format)).Observe(receipt.Elapsed.Seconds())
	log.Info("Printed", "attempts", receipt.Attempts, "elapsed", receipt.Elapsed, "corrections", len(receipt.Corrections))
	s.publishJob(domain.EventPrinted, address, receipt.JobID, "")
	s.recordJob(receipt, "")
	return domain.OK(receipt)
}

// Status reads a fresh readiness snapshot of the printer at address.
func (s *Service) Status(ctx context.Context, address string) domain.Result[Status] {
	unlock, err := s.locks.Lock(ctx, address)
	if err != nil {
		return domain.FailErr[Status](domain.CodeCancelled, err)
	}
	defer unlock()

	dev, err := s.connect(ctx, address)
	if err != nil {
		return domain.FailErr[Status](domain.CodeConnectionFailed, err)
	}

	r := s.snapshot(dev)
	ready, err := r.IsReady(ctx)
	if err == nil {
		err = errors.Join(r.EnsureMedia(ctx), r.EnsureLanguage(ctx))
	}
	if err != nil {
		return domain.FailWith[Status](domain.CodeReadinessFailed, err)
	}
	return domain.OK(Status{Address: address, Ready: ready, Readiness: r.Report()})
}

// Recover runs the readiness corrections against the printer at address and
// returns the run report.
func (s *Service) Recover(ctx context.Context, address string) domain.Result[correction.Run] {
	unlock, err := s.locks.Lock(ctx, address)
	if err != nil {
		return domain.FailErr[correction.Run](domain.CodeCancelled, err)
	}
	defer unlock()

	dev, err := s.connect(ctx, address)
	if err != nil {
		return domain.FailErr[correction.Run](domain.CodeConnectionFailed, err)
	}

	run, res := s.engine.RunReadiness(ctx, s.snapshot(dev))
	for _, a := range run.Actions {
		if a.Applied {
			s.publish(domain.NewEvent(domain.EventCorrection, address, string(a.Action)))
		}
	}
	if !res.Success {
		return domain.Result[correction.Run]{Error: res.Error}
	}
	return domain.OK(run)
}

func (s *Service) recordJob(r PrintReceipt, code domain.ErrorCode) {
	if s.jobs == nil {
		return
	}
	rec := domain.JobRecord{
		JobID:     r.JobID,
		Address:   r.Address,
		Format:    r.Format,
		Success:   code == "",
		Code:      code,
		Attempts:  r.Attempts,
		Elapsed:   r.Elapsed,
		CreatedAt: time.Now().UTC(),
	}
	for _, a := range r.Corrections {
		rec.Corrections = append(rec.Corrections, string(a))
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.jobs.Record(ctx, rec); err != nil {
		s.log.Warn("Job log write failed", "job_id", r.JobID, "error", err)
	}
}

func formatLabel(f domain.Format) string {
	if f == domain.FormatUnknown {
		return "unknown"
	}
	return string(f)
}
