// Package control assembles printguard from configuration and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/vietddude/printguard/internal/core/config"
	"github.com/vietddude/printguard/internal/core/worker"
	"github.com/vietddude/printguard/internal/health"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/mqtt"
	redisclient "github.com/vietddude/printguard/internal/infra/redis"
	"github.com/vietddude/printguard/internal/infra/storage/sqlstore"
	"github.com/vietddude/printguard/internal/printing/service"
)

// App owns the print service and every adapter configured around it.
type App struct {
	cfg          *config.AppConfig
	svc          *service.Service
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcServer   *health.GRPCServer
	db           *sqlstore.DB
	jobs         *sqlstore.JobRepo
	redisClient  *redisclient.Client
	mqttPub      *mqtt.Publisher
	pruner       *worker.Pruner
	cancel       context.CancelFunc
	log          *slog.Logger
}

type appOptions struct {
	factory device.Factory
}

// Option configures NewApp.
type Option func(*appOptions)

// WithFactory overrides the device transport. Defaults to raw TCP.
func WithFactory(f device.Factory) Option {
	return func(o *appOptions) { o.factory = f }
}

// NewApp creates an App with all dependencies initialized. Adapters opened
// before a failure are closed again.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (app *App, err error) {
	o := appOptions{factory: device.TCPFactory(cfg.Device.ReadTimeout)}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, log: slog.Default().With("component", "app")}
	defer func() {
		if err != nil {
			a.closeAdapters()
		}
	}()

	// 1. Storage
	if cfg.Database.URL != "" {
		a.db, err = sqlstore.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.log.Info("Database connected", "driver", a.db.Driver())
	}
	if cfg.Redis.URL != "" {
		a.redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.log.Info("Redis connected")
	}

	svcOpts := []service.Option{
		service.WithDiscoverer(device.NewStaticDiscoverer(cfg.Devices)),
	}

	switch cfg.Persistence.Backend {
	case config.PersistRedis:
		svcOpts = append(svcOpts, service.WithPersister(redisclient.NewCacheStore(a.redisClient)))
	case config.PersistDatabase:
		svcOpts = append(svcOpts, service.WithPersister(sqlstore.NewCacheRepo(a.db)))
	}

	if cfg.Persistence.JobLog {
		a.jobs = sqlstore.NewJobRepo(a.db)
		svcOpts = append(svcOpts, service.WithJobLog(a.jobs))
	}

	// 2. Events
	switch cfg.Events.Sink {
	case config.SinkMQTT:
		a.mqttPub, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, service.WithPublisher(a.mqttPub))
	case config.SinkRedis:
		svcOpts = append(svcOpts, service.WithPublisher(redisclient.NewEventPublisher(a.redisClient)))
	}

	// 3. Service
	a.svc = service.New(cfg.Service(), o.factory, svcOpts...)

	// 4. Maintenance
	if a.db != nil {
		var cachePruner worker.CachePruner
		if cfg.Persistence.Backend == config.PersistDatabase {
			cachePruner = sqlstore.NewCacheRepo(a.db)
		}
		var jobPruner worker.JobPruner
		if a.jobs != nil {
			jobPruner = a.jobs
		}
		a.pruner = worker.NewPruner(cfg.Persistence.JobRetention, jobPruner, cachePruner)
	}

	// 5. Health
	var monOpts []health.MonitorOption
	if a.db != nil {
		monOpts = append(monOpts, health.WithCheck("database", a.db.Health))
	}
	if a.redisClient != nil {
		monOpts = append(monOpts, health.WithCheck("redis", a.redisClient.Ping))
	}
	a.healthMon = health.NewMonitor(a.svc.Pool(), a.svc.Cache(), monOpts...)
	a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port)
	if cfg.Server.GRPCPort > 0 {
		a.grpcServer = health.NewGRPCServer(a.healthMon, 0)
	}

	return a, nil
}

// Service returns the print service.
func (a *App) Service() *service.Service { return a.svc }

// Monitor returns the health monitor.
func (a *App) Monitor() *health.Monitor { return a.healthMon }

// Jobs returns the job log, or nil when disabled.
func (a *App) Jobs() *sqlstore.JobRepo { return a.jobs }

// Start starts the service and, when serve is set, the background servers.
// One-shot CLI commands pass serve=false.
func (a *App) Start(ctx context.Context, serve bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.svc.Start(runCtx)
	if !serve {
		return nil
	}

	// Start Health Server
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen for grpc health: %w", err)
		}
		go func() {
			if err := a.grpcServer.Serve(lis); err != nil {
				a.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(runCtx, 15*time.Second)
	}

	// Start Pruner
	if a.pruner != nil {
		go a.pruner.Start(runCtx)
	}

	a.log.Info("Started", "health_port", a.cfg.Server.Port, "grpc_port", a.cfg.Server.GRPCPort)
	return nil
}

// ApplyConfig applies the hot-reloadable sections of a new configuration.
// Only the correction settings change at runtime; other sections need a restart.
func (a *App) ApplyConfig(cfg *config.AppConfig) {
	a.svc.Engine().UpdateConfig(cfg.Correction)
	a.log.Info("Correction settings reloaded",
		"unpause", cfg.Correction.EnableUnpause,
		"clear_errors", cfg.Correction.EnableClearErrors,
		"language_switch", cfg.Correction.EnableLanguageSwitch)
}

// Stop persists state and releases every resource.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping printguard...")

	if a.cancel != nil {
		a.cancel()
	}
	a.svc.Close(ctx)

	var errs []error
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}
	a.closeAdapters()
	return errors.Join(errs...)
}

func (a *App) closeAdapters() {
	if a.mqttPub != nil {
		_ = a.mqttPub.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
