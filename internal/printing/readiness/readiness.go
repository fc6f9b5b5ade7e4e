// Package readiness models a per-session, field-granular snapshot of printer
// status. Each field is read from the device at most once per snapshot; build a
// new snapshot for fresh values.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/policy"
)

// Readiness is a lazily evaluated status snapshot of one printer.
// It is safe for concurrent use; concurrent getters for the same field share one read.
type Readiness struct {
	mu          sync.Mutex
	dev         device.Capability
	readTimeout time.Duration
	log         *slog.Logger

	connection Field[bool]
	media      Field[bool]
	head       Field[bool]
	pause      Field[bool]
	errors     Field[bool]
	language   Field[domain.Format]
}

// Option configures a Readiness.
type Option func(*Readiness)

// WithReadTimeout bounds each setting read.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Readiness) { r.readTimeout = d }
}

// New creates an empty snapshot over dev.
func New(dev device.Capability, opts ...Option) *Readiness {
	r := &Readiness{
		dev: dev,
		log: slog.Default().With("component", "readiness"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Device returns the capability the snapshot reads through.
func (r *Readiness) Device() device.Capability {
	return r.dev
}

// readSetting performs one device read. Caller holds mu.
func (r *Readiness) readSetting(ctx context.Context, key string) (string, error) {
	read := func(ctx context.Context) (string, error) {
		return r.dev.GetSetting(ctx, key)
	}

	var v string
	var err error
	if r.readTimeout > 0 {
		v, err = policy.NewTimeoutPolicy[string](r.readTimeout).Execute(ctx, key, read)
	} else {
		v, err = read(ctx)
	}
	if err != nil {
		r.log.Debug("Readiness read failed", "key", key, "error", err)
		return "", fmt.Errorf("%w: %s: %w", domain.ErrReadinessRead, key, err)
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(v), `"`)), nil
}

// readBool loads a setting-backed field once. Caller holds mu.
func (r *Readiness) readBool(ctx context.Context, f *Field[bool], key string, derive func(string) bool) (bool, error) {
	if f.checked {
		return f.value, nil
	}
	raw, err := r.readSetting(ctx, key)
	if err != nil {
		return false, err
	}
	*f = checked(raw, derive(raw))
	return f.value, nil
}

// Connected reports whether the device link is up.
func (r *Readiness) Connected(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connection.checked {
		up := r.dev.IsConnected()
		r.connection = checked(strconv.FormatBool(up), up)
	}
	return r.connection.value, nil
}

// HasMedia reports whether media is loaded.
func (r *Readiness) HasMedia(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBool(ctx, &r.media, device.SettingMediaStatus, deriveHasMedia)
}

// HeadClosed reports whether the print head latch is closed.
func (r *Readiness) HeadClosed(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBool(ctx, &r.head, device.SettingHeadLatch, deriveHeadClosed)
}

// Paused reports whether the printer is paused.
func (r *Readiness) Paused(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBool(ctx, &r.pause, device.SettingPause, derivePaused)
}

// HasErrors reports whether the printer reports a host error condition.
func (r *Readiness) HasErrors(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBool(ctx, &r.errors, device.SettingHostStatus, deriveHasErrors)
}

// Language returns the command language the printer currently interprets.
func (r *Readiness) Language(ctx context.Context) (domain.Format, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.language.checked {
		return r.language.value, nil
	}
	raw, err := r.readSetting(ctx, device.SettingLanguages)
	if err != nil {
		return domain.FormatUnknown, err
	}
	r.language = checked(raw, domain.ParseLanguage(raw))
	return r.language.value, nil
}

// Seeding: each SetCached call applies only while the field is Unchecked and
// reports whether it did.

// SetCachedConnection seeds the connection field.
func (r *Readiness) SetCachedConnection(connected bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seed(&r.connection, strconv.FormatBool(connected), connected)
}

func (r *Readiness) SetCachedMedia(raw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seed(&r.media, raw, deriveHasMedia(raw))
}

func (r *Readiness) SetCachedHead(raw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seed(&r.head, raw, deriveHeadClosed(raw))
}

func (r *Readiness) SetCachedPause(raw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seed(&r.pause, raw, derivePaused(raw))
}

func (r *Readiness) SetCachedErrors(raw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seed(&r.errors, raw, deriveHasErrors(raw))
}

func (r *Readiness) SetCachedLanguage(raw string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seed(&r.language, raw, domain.ParseLanguage(raw))
}

func seed[T any](f *Field[T], raw string, value T) bool {
	if f.checked {
		return false
	}
	*f = checked(raw, value)
	return true
}

func (r *Readiness) WasConnectionRead() bool { return r.snapshot().Connection.Checked }
func (r *Readiness) WasMediaRead() bool      { return r.snapshot().Media.Checked }
func (r *Readiness) WasHeadRead() bool       { return r.snapshot().Head.Checked }
func (r *Readiness) WasPauseRead() bool      { return r.snapshot().Pause.Checked }
func (r *Readiness) WasErrorsRead() bool     { return r.snapshot().Errors.Checked }
func (r *Readiness) WasLanguageRead() bool   { return r.snapshot().Language.Checked }

// EnsureConnection forces the connection field to be read.
func (r *Readiness) EnsureConnection(ctx context.Context) error {
	_, err := r.Connected(ctx)
	return err
}

// EnsureMedia forces the media field to be read.
func (r *Readiness) EnsureMedia(ctx context.Context) error {
	_, err := r.HasMedia(ctx)
	return err
}

// EnsureHead forces the head field to be read.
func (r *Readiness) EnsureHead(ctx context.Context) error {
	_, err := r.HeadClosed(ctx)
	return err
}

// EnsurePause forces the pause field to be read.
func (r *Readiness) EnsurePause(ctx context.Context) error {
	_, err := r.Paused(ctx)
	return err
}

// EnsureErrors forces the host error field to be read.
func (r *Readiness) EnsureErrors(ctx context.Context) error {
	_, err := r.HasErrors(ctx)
	return err
}

// EnsureLanguage forces the language field to be read.
func (r *Readiness) EnsureLanguage(ctx context.Context) error {
	_, err := r.Language(ctx)
	return err
}

// IsReady reports connected, free of errors, head closed and not paused.
// Media is not part of readiness; missing media is handled by calibration.
// A disconnected device is not ready and no further fields are read.
func (r *Readiness) IsReady(ctx context.Context) (bool, error) {
	connected, err := r.Connected(ctx)
	if err != nil || !connected {
		return false, err
	}
	for _, ensure := range []func(context.Context) error{r.EnsureErrors, r.EnsureHead, r.EnsurePause} {
		if err := ensure(ctx); err != nil {
			return false, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.errors.value && r.head.value && !r.pause.value, nil
}

func deriveHasMedia(raw string) bool {
	v := strings.ToLower(raw)
	return v != "" && !strings.Contains(v, "out")
}

func deriveHeadClosed(raw string) bool {
	switch strings.ToLower(raw) {
	case "ok", "closed", "close":
		return true
	}
	return false
}

func derivePaused(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "on", "paused", "yes":
		return true
	}
	return false
}

func deriveHasErrors(raw string) bool {
	switch strings.ToLower(raw) {
	case "", "ok", "ready", "0", "none", "no errors":
		return false
	}
	return true
}
