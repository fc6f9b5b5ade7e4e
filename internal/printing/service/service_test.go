package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/cache"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/device/devicetest"
	"github.com/vietddude/printguard/internal/infra/policy"
	"github.com/vietddude/printguard/internal/printing/correction"
)

const (
	addr     = "10.0.0.21"
	zplLabel = "^XA^FO20,20^FDship^FS^XZ"
)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

func (p *recordingPublisher) has(kind domain.EventKind) bool {
	for _, k := range p.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func testConfig() Config {
	fast := policy.Config{
		MaxAttempts:       2,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
		Timeout:           time.Second,
		RetryOnTimeout:    true,
		RetryOnError:      true,
	}
	return Config{
		Cache:    cache.Config{DefaultTTL: time.Minute},
		Policies: Policies{Connect: fast, Print: fast, Status: policy.Config{Timeout: time.Second}},
		Correction: correction.Config{
			EnableUnpause:        true,
			EnableClearErrors:    true,
			EnableLanguageSwitch: true,
			MaxAttempts:          1,
		},
	}
}

func newTestService(t *testing.T, pool *devicetest.Pool, opts ...Option) (*Service, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub)}, opts...)
	s := New(testConfig(), pool.Factory(), opts...)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, pub
}

// =============================================================================
// Print
// =============================================================================

func TestPrint_Delivers(t *testing.T) {
	pool := devicetest.NewPool()
	s, pub := newTestService(t, pool)

	res := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})

	if !res.Success {
		t.Fatalf("print failed: %+v", res.Error)
	}
	rc := res.Data
	if rc.JobID == "" || rc.Format != domain.FormatZPL || rc.Attempts != 1 || len(rc.Corrections) != 0 {
		t.Fatalf("unexpected receipt %+v", rc)
	}
	sent := pool.Get(addr).Sent()
	if len(sent) != 1 || string(sent[0]) != zplLabel {
		t.Fatalf("unexpected payloads %q", sent)
	}
	if !pub.has(domain.EventConnected) || !pub.has(domain.EventPrinted) {
		t.Fatalf("missing events %v", pub.kinds())
	}
}

func TestPrint_CorrectsPausedPrinter(t *testing.T) {
	pool := devicetest.NewPool()
	unpause := device.SGDCommands{}.Unpause()
	pool.New = func(string) *devicetest.Fake {
		f := devicetest.Ready()
		f.Set(device.SettingPause, "1")
		f.OnSend = func(f *devicetest.Fake, data []byte) {
			if bytes.Equal(data, unpause) {
				f.Set(device.SettingPause, "0")
			}
		}
		return f
	}
	s, pub := newTestService(t, pool)

	res := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})

	if !res.Success {
		t.Fatalf("print failed: %+v", res.Error)
	}
	if len(res.Data.Corrections) != 1 || res.Data.Corrections[0] != correction.ActionUnpause {
		t.Fatalf("expected unpause correction, got %v", res.Data.Corrections)
	}
	if !pub.has(domain.EventCorrection) {
		t.Fatalf("missing correction event %v", pub.kinds())
	}
}

func TestPrint_NotReadyIsRejected(t *testing.T) {
	pool := devicetest.NewPool()
	pool.New = func(string) *devicetest.Fake {
		f := devicetest.Ready()
		f.Set(device.SettingHeadLatch, "open")
		return f
	}
	s, _ := newTestService(t, pool)

	res := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})
	if res.Success || res.Code() != domain.CodeNotReady {
		t.Fatalf("expected not ready, got %+v", res)
	}
	if len(pool.Get(addr).Sent()) != 0 {
		t.Fatal("label sent to a printer that is not ready")
	}

	res = s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{AllowNotReady: true})
	if !res.Success {
		t.Fatalf("AllowNotReady should send anyway: %+v", res)
	}
}

func TestPrint_SendFailureMarksConnectionUnhealthy(t *testing.T) {
	pool := devicetest.NewPool()
	pool.New = func(string) *devicetest.Fake {
		f := devicetest.Ready()
		f.SendErr = devicetest.ErrInjected
		return f
	}
	s, pub := newTestService(t, pool)

	res := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Data.Attempts != 0 && res.Data.Attempts != 2 {
		t.Fatalf("unexpected attempts %d", res.Data.Attempts)
	}
	if s.Pool().IsConnectionHealthy(addr) {
		t.Fatal("pooled connection should be unhealthy after a send failure")
	}
	if !pub.has(domain.EventPrintFail) || !pub.has(domain.EventUnhealthy) {
		t.Fatalf("missing events %v", pub.kinds())
	}
}

func TestPrint_ConnectFailure(t *testing.T) {
	pool := devicetest.NewPool()
	pool.New = func(string) *devicetest.Fake {
		f := devicetest.Ready()
		f.ConnectErr = devicetest.ErrInjected
		return f
	}
	s, _ := newTestService(t, pool)

	res := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})
	if res.Success || res.Code() != domain.CodeRetryExhausted {
		t.Fatalf("expected exhausted connect, got %+v", res)
	}
	if got := s.Pool().GetFailureStatistics().ByAddress[addr].Total; got != 2 {
		t.Fatalf("expected 2 connect failures, got %d", got)
	}
}

func TestPrint_InvalidArguments(t *testing.T) {
	s, _ := newTestService(t, devicetest.NewPool())
	ctx := context.Background()

	if res := s.Print(ctx, "", []byte(zplLabel), PrintOptions{}); res.Code() != domain.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %+v", res)
	}
	if res := s.Print(ctx, addr, nil, PrintOptions{}); res.Code() != domain.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %+v", res)
	}
}

func TestPrint_SerialisedPerAddress(t *testing.T) {
	pool := devicetest.NewPool()
	var inFlight, maxInFlight atomic.Int32
	pool.New = func(string) *devicetest.Fake {
		f := devicetest.Ready()
		f.OnSend = func(*devicetest.Fake, []byte) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}
		return f
	}
	s, _ := newTestService(t, pool)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{SkipCorrection: true})
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Fatalf("expected serialised sends, saw %d concurrent", maxInFlight.Load())
	}
	if s.locks.size() != 0 {
		t.Fatalf("address locks leaked: %d", s.locks.size())
	}
}

// =============================================================================
// Status / Recover / Configure
// =============================================================================

type memoryJobLog struct {
	mu   sync.Mutex
	recs []domain.JobRecord
}

func (l *memoryJobLog) Record(_ context.Context, rec domain.JobRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, rec)
	return nil
}

func TestPrint_RecordsJobOutcomes(t *testing.T) {
	pool := devicetest.NewPool()
	jobs := &memoryJobLog{}
	s, _ := newTestService(t, pool, WithJobLog(jobs))

	ok := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})
	pool.Get(addr).Set(device.SettingHeadLatch, "open")
	bad := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})

	if !ok.Success || bad.Success {
		t.Fatalf("unexpected results %+v %+v", ok, bad)
	}
	if len(jobs.recs) != 2 {
		t.Fatalf("expected 2 job records, got %d", len(jobs.recs))
	}
	first, second := jobs.recs[0], jobs.recs[1]
	if first.JobID != ok.Data.JobID || !first.Success || first.Code != "" || first.Attempts != 1 {
		t.Fatalf("unexpected success record %+v", first)
	}
	if second.Success || second.Code != domain.CodeNotReady || second.Address != addr {
		t.Fatalf("unexpected failure record %+v", second)
	}
}

func TestStatus(t *testing.T) {
	pool := devicetest.NewPool()
	s, _ := newTestService(t, pool)

	res := s.Status(context.Background(), addr)
	if !res.Success || !res.Data.Ready {
		t.Fatalf("unexpected status %+v", res)
	}
	if res.Data.Readiness.Media.Value != "true" || res.Data.Readiness.Language.Value != "zpl" {
		t.Fatalf("unexpected report %+v", res.Data.Readiness)
	}

	pool.Get(addr).FailSetting(device.SettingPause, devicetest.ErrInjected)
	if res := s.Status(context.Background(), addr); res.Code() != domain.CodeReadinessFailed {
		t.Fatalf("expected readiness failure, got %+v", res)
	}
}

func TestRecover(t *testing.T) {
	pool := devicetest.NewPool()
	pool.New = func(string) *devicetest.Fake {
		f := devicetest.Ready()
		f.Set(device.SettingHostStatus, "ribbon out")
		return f
	}
	s, _ := newTestService(t, pool)

	res := s.Recover(context.Background(), addr)
	if !res.Success {
		t.Fatalf("recover failed: %+v", res.Error)
	}
	if len(res.Data.Actions) != 1 || res.Data.Actions[0].Action != correction.ActionClearErrors {
		t.Fatalf("unexpected run %+v", res.Data)
	}
}

func TestRecover_ReportsOwnRunPerAddress(t *testing.T) {
	const (
		paused  = "10.0.0.31"
		errored = "10.0.0.32"
	)
	pool := devicetest.NewPool()
	pool.New = func(address string) *devicetest.Fake {
		f := devicetest.Ready()
		if address == paused {
			f.Set(device.SettingPause, "1")
		} else {
			f.Set(device.SettingHostStatus, "ribbon out")
		}
		return f
	}
	s, _ := newTestService(t, pool)

	want := map[string]correction.Action{
		paused:  correction.ActionUnpause,
		errored: correction.ActionClearErrors,
	}
	var wg sync.WaitGroup
	errs := make(chan string, 2*50)
	for address, action := range want {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				res := s.Recover(context.Background(), address)
				if !res.Success {
					errs <- address + ": " + res.Error.Message
					return
				}
				if len(res.Data.Actions) != 1 || res.Data.Actions[0].Action != action {
					errs <- address + ": got actions of another printer"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestPrint_CorrectionsBelongToJobAddress(t *testing.T) {
	const other = "10.0.0.33"
	pool := devicetest.NewPool()
	pool.New = func(address string) *devicetest.Fake {
		f := devicetest.Ready()
		if address == other {
			f.Set(device.SettingHostStatus, "ribbon out")
		}
		return f
	}
	s, _ := newTestService(t, pool)

	// A recovery on another printer runs while this job corrects nothing.
	if res := s.Recover(context.Background(), other); !res.Success {
		t.Fatalf("recover: %+v", res.Error)
	}
	res := s.Print(context.Background(), addr, []byte(zplLabel), PrintOptions{})
	if !res.Success {
		t.Fatalf("print failed: %+v", res.Error)
	}
	if len(res.Data.Corrections) != 0 {
		t.Fatalf("job reported corrections it never made: %v", res.Data.Corrections)
	}
	if last := s.Engine().LastRun(); last.Mode != "printing" {
		t.Fatalf("LastRun should still track the latest run, got mode %q", last.Mode)
	}
}

func TestConfigure(t *testing.T) {
	pool := devicetest.NewPool()
	s, _ := newTestService(t, pool)
	darkness := 25

	res := s.Configure(context.Background(), addr, MediaSettings{Darkness: &darkness, MediaType: "label"})
	if !res.Success {
		t.Fatalf("configure failed: %+v", res.Error)
	}
	sent := string(pool.Get(addr).Sent()[0])
	if !strings.Contains(sent, `"media.sense_mode" "gap"`) || !strings.Contains(sent, `"print.tone" "25"`) {
		t.Fatalf("unexpected payload %q", sent)
	}

	if res := s.Configure(context.Background(), addr, MediaSettings{MediaType: "ribbon"}); res.Code() != domain.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %+v", res)
	}
	if res := s.Configure(context.Background(), addr, MediaSettings{}); res.Code() != domain.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %+v", res)
	}
}

// =============================================================================
// Discovery persistence
// =============================================================================

func TestDiscoveryCacheSurvivesRestart(t *testing.T) {
	persister := cache.NewMemoryPersister()
	disc := &devicetest.Discoverer{Devices: []domain.DeviceDescriptor{
		{Name: "dock-1", Address: addr, Transport: domain.TransportNetwork},
	}}
	ctx := context.Background()

	first := New(testConfig(), devicetest.NewPool().Factory(), WithPersister(persister), WithDiscoverer(disc))
	first.Start(ctx)
	if res := first.Discover(ctx, domain.DiscoveryOptions{}); !res.Success {
		t.Fatalf("discover failed: %+v", res.Error)
	}
	first.Close(ctx)

	second := New(testConfig(), devicetest.NewPool().Factory(), WithPersister(persister), WithDiscoverer(disc))
	second.Start(ctx)
	defer second.Close(ctx)

	res := second.Discover(ctx, domain.DiscoveryOptions{})
	if !res.Success || len(res.Data) != 1 || res.Data[0].Name != "dock-1" {
		t.Fatalf("unexpected devices %+v", res)
	}
	if disc.Calls() != 1 {
		t.Fatalf("restored cache should serve discovery, calls=%d", disc.Calls())
	}
}

// =============================================================================
// keyedMutex
// =============================================================================

func TestKeyedMutex_CancelWhileWaiting(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), addr)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, addr); err == nil {
		t.Fatal("expected cancellation while waiting")
	}

	other, err := k.Lock(context.Background(), "10.0.0.99")
	if err != nil {
		t.Fatalf("different address should not block: %v", err)
	}
	other()
	unlock()

	if k.size() != 0 {
		t.Fatalf("expected no slots, got %d", k.size())
	}
}
