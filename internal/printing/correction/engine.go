// Package correction issues idempotent corrective commands that move a printer
// out of known-bad states before printing.
package correction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/policy"
	"github.com/vietddude/printguard/internal/metrics"
	"github.com/vietddude/printguard/internal/printing/readiness"
)

// Commands is the catalog of corrective command payloads.
type Commands interface {
	Unpause() []byte
	ClearErrors() []byte
	Calibrate() []byte
	ClearBuffer(format domain.Format) []byte
	SwitchLanguage(format domain.Format) []byte
}

// Config gates each corrective action and bounds command delivery.
type Config struct {
	EnableUnpause        bool `yaml:"enable_unpause"`
	EnableClearErrors    bool `yaml:"enable_clear_errors"`
	EnableCalibration    bool `yaml:"enable_calibration"`
	EnableBufferClear    bool `yaml:"enable_buffer_clear"`
	EnableLanguageSwitch bool `yaml:"enable_language_switch"`

	// MaxAttempts bounds delivery of each command.
	MaxAttempts  int           `yaml:"max_attempts"`
	AttemptDelay time.Duration `yaml:"attempt_delay"`

	// DrainDelay is waited after a buffer clear. CPCL waits twice as long.
	DrainDelay time.Duration `yaml:"drain_delay"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	EnableUnpause:        true,
	EnableClearErrors:    true,
	EnableCalibration:    false,
	EnableBufferClear:    false,
	EnableLanguageSwitch: true,
	MaxAttempts:          2,
	AttemptDelay:         200 * time.Millisecond,
	DrainDelay:           100 * time.Millisecond,
}

// Engine applies corrections described by its Config.
type Engine struct {
	mu       sync.RWMutex
	cfg      Config
	last     Run
	commands Commands
	log      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine. A nil commands catalog uses device.SGDCommands.
func NewEngine(cfg Config, commands Commands, opts ...Option) *Engine {
	if commands == nil {
		commands = device.SGDCommands{}
	}
	e := &Engine{
		cfg:      cfg,
		last:     Run{State: StateIdle},
		commands: commands,
		log:      slog.Default().With("component", "correction"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfig replaces the configuration for subsequent runs.
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.log.Info("Correction config updated",
		"unpause", cfg.EnableUnpause,
		"clear_errors", cfg.EnableClearErrors,
		"calibration", cfg.EnableCalibration,
		"buffer_clear", cfg.EnableBufferClear,
		"language_switch", cfg.EnableLanguageSwitch)
}

// LastRun returns the report of the most recent run.
func (e *Engine) LastRun() Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last.clone()
}

func (e *Engine) finish(run *Run, err error) Run {
	run.Finished = time.Now()
	if err != nil {
		run.Error = err.Error()
		_ = run.transition(StateFailed, err.Error())
	} else {
		_ = run.transition(StateSettled, "")
	}

	e.mu.Lock()
	e.last = run.clone()
	e.mu.Unlock()
	return run.clone()
}

// CorrectReadiness unpauses, clears errors and calibrates as each concern
// requires. A failed read or command is logged and treated as no correction
// for that concern; it never stops the remaining concerns.
// Data reports whether any correction was applied.
func (e *Engine) CorrectReadiness(ctx context.Context, r *readiness.Readiness) domain.Result[bool] {
	_, res := e.RunReadiness(ctx, r)
	return res
}

// RunReadiness is CorrectReadiness that also returns the report of this run.
// Use it instead of LastRun when the engine is shared between printers.
func (e *Engine) RunReadiness(ctx context.Context, r *readiness.Readiness) (Run, domain.Result[bool]) {
	cfg := e.Config()
	run := newRun("readiness")
	_ = run.transition(StateInspecting, "")

	concerns := []struct {
		enabled bool
		action  Action
		needed  func(context.Context) (bool, error)
		payload []byte
	}{
		{cfg.EnableUnpause, ActionUnpause, r.Paused, e.commands.Unpause()},
		{cfg.EnableClearErrors, ActionClearErrors, r.HasErrors, e.commands.ClearErrors()},
		{cfg.EnableCalibration, ActionCalibrate, negate(r.HasMedia), e.commands.Calibrate()},
	}

	for _, c := range concerns {
		if !c.enabled {
			continue
		}
		needed, err := c.needed(ctx)
		if err != nil {
			e.log.Warn("Correction check failed", "action", c.action, "error", err)
			metrics.Corrections.WithLabelValues(string(c.action), "check_failed").Inc()
			continue
		}
		if !needed {
			continue
		}
		if _, err := e.apply(ctx, run, r.Device(), cfg, c.action, c.payload); err != nil {
			e.log.Warn("Correction failed", "action", c.action, "error", err)
		}
		_ = run.transition(StateInspecting, "")
	}

	return e.finish(run, nil), domain.OK(run.Applied())
}

// CorrectForPrinting prepares the printer for data: clears the buffer, switches
// language on mismatch, unpauses and clears errors. The CPCL buffer is always
// cleared; ZPL only when EnableBufferClear is set. Any read or command failure
// aborts the sequence.
//
// The snapshot is read once, so after a language switch r still reports the
// previous language. Check the result on a new snapshot.
func (e *Engine) CorrectForPrinting(ctx context.Context, r *readiness.Readiness, data []byte) domain.Result[bool] {
	_, res := e.RunForPrinting(ctx, r, data)
	return res
}

// RunForPrinting is CorrectForPrinting that also returns the report of this run.
func (e *Engine) RunForPrinting(ctx context.Context, r *readiness.Readiness, data []byte) (Run, domain.Result[bool]) {
	cfg := e.Config()
	run := newRun("printing")
	_ = run.transition(StateInspecting, "")
	dev := r.Device()
	format := domain.DetectFormat(data)

	fail := func(code domain.ErrorCode, err error) (Run, domain.Result[bool]) {
		err = fmt.Errorf("%w: %w", domain.ErrCorrectionFailed, err)
		report := e.finish(run, err)
		e.log.Warn("Pre-print correction aborted", "format", format, "error", err)
		return report, domain.FailWith[bool](code, err)
	}

	if format == domain.FormatCPCL || (format == domain.FormatZPL && cfg.EnableBufferClear) {
		if _, err := e.apply(ctx, run, dev, cfg, ActionClearBuffer, e.commands.ClearBuffer(format)); err != nil {
			return fail(domain.CodeCorrectionFailed, err)
		}
		drain := cfg.DrainDelay
		if format == domain.FormatCPCL {
			drain *= 2
		}
		if err := sleep(ctx, drain); err != nil {
			return fail(domain.CodeCancelled, err)
		}
		_ = run.transition(StateInspecting, "")
	}

	if cfg.EnableLanguageSwitch && format != domain.FormatUnknown {
		current, err := r.Language(ctx)
		if err != nil {
			return fail(domain.CodeReadinessFailed, err)
		}
		if current != domain.FormatUnknown && current != format {
			if _, err := e.apply(ctx, run, dev, cfg, ActionSwitchLanguage, e.commands.SwitchLanguage(format)); err != nil {
				return fail(domain.CodeCorrectionFailed, err)
			}
			_ = run.transition(StateInspecting, "")
		}
	}

	steps := []struct {
		enabled bool
		action  Action
		needed  func(context.Context) (bool, error)
		payload []byte
	}{
		{cfg.EnableUnpause, ActionUnpause, r.Paused, e.commands.Unpause()},
		{cfg.EnableClearErrors, ActionClearErrors, r.HasErrors, e.commands.ClearErrors()},
	}
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		needed, err := s.needed(ctx)
		if err != nil {
			return fail(domain.CodeReadinessFailed, err)
		}
		if !needed {
			continue
		}
		if _, err := e.apply(ctx, run, dev, cfg, s.action, s.payload); err != nil {
			return fail(domain.CodeCorrectionFailed, err)
		}
		_ = run.transition(StateInspecting, "")
	}

	return e.finish(run, nil), domain.OK(run.Applied())
}

// SwitchLanguageForData reports whether printing data may proceed.
// It returns true without sending anything when switching is disabled, the
// data format is undetectable, the device language is unknown or unreadable,
// or the languages already match. On mismatch it issues one switch command and
// returns whether delivery succeeded.
func (e *Engine) SwitchLanguageForData(ctx context.Context, r *readiness.Readiness, data []byte) bool {
	cfg := e.Config()
	if !cfg.EnableLanguageSwitch {
		return true
	}
	format := domain.DetectFormat(data)
	if format == domain.FormatUnknown {
		return true
	}
	current, err := r.Language(ctx)
	if err != nil {
		e.log.Debug("Device language unreadable, assuming compatible", "error", err)
		return true
	}
	if current == domain.FormatUnknown || current == format {
		return true
	}

	run := newRun("language")
	_ = run.transition(StateInspecting, "")
	_, err = e.apply(ctx, run, r.Device(), cfg, ActionSwitchLanguage, e.commands.SwitchLanguage(format))
	e.finish(run, err)
	return err == nil
}

// apply sends one corrective command through a bounded retry.
func (e *Engine) apply(
	ctx context.Context,
	run *Run,
	dev device.Capability,
	cfg Config,
	action Action,
	payload []byte,
) (int, error) {
	_ = run.transition(StateCorrecting, string(action))

	if len(payload) == 0 {
		err := fmt.Errorf("no command for %s", action)
		run.Actions = append(run.Actions, ActionResult{Action: action, Error: err.Error()})
		metrics.Corrections.WithLabelValues(string(action), "failure").Inc()
		return 0, err
	}

	retry := policy.NewRetryPolicy[struct{}](policy.Config{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.AttemptDelay,
		MaxDelay:          cfg.AttemptDelay,
		BackoffMultiplier: 1,
		RetryOnTimeout:    true,
		RetryOnError:      true,
	})
	out := retry.Execute(ctx, "correction_"+string(action), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, dev.Send(ctx, payload)
	})

	result := ActionResult{Action: action, Applied: out.Success(), Attempts: out.Attempts}
	if out.Err != nil {
		result.Error = out.Err.Error()
		metrics.Corrections.WithLabelValues(string(action), "failure").Inc()
	} else {
		metrics.Corrections.WithLabelValues(string(action), "applied").Inc()
		e.log.Info("Correction applied", "action", action, "attempts", out.Attempts)
	}
	run.Actions = append(run.Actions, result)
	return out.Attempts, out.Err
}

func negate(fn func(context.Context) (bool, error)) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		v, err := fn(ctx)
		return !v, err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
