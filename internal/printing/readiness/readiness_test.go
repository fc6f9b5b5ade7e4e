package readiness

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/device/devicetest"
)

func connectedFake(t *testing.T, settings map[string]string) *devicetest.Fake {
	t.Helper()
	f := devicetest.Ready()
	for k, v := range settings {
		f.Set(k, v)
	}
	if err := f.Connect(context.Background(), "10.0.0.21"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return f
}

func TestReadiness_ReadsOnce(t *testing.T) {
	dev := connectedFake(t, nil)
	r := New(dev)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if has, err := r.HasMedia(ctx); err != nil || !has {
			t.Fatalf("HasMedia = %v, %v", has, err)
		}
	}
	if n := dev.Reads(device.SettingMediaStatus); n != 1 {
		t.Fatalf("expected one read, got %d", n)
	}

	// A changed device value is not observed by the same snapshot.
	dev.Set(device.SettingMediaStatus, "out")
	if has, _ := r.HasMedia(ctx); !has {
		t.Fatal("snapshot re-read a checked field")
	}
	if has, _ := New(dev).HasMedia(ctx); has {
		t.Fatal("new snapshot should observe the new value")
	}
}

func TestReadiness_SetCachedAvoidsRead(t *testing.T) {
	dev := connectedFake(t, nil)
	r := New(dev)
	ctx := context.Background()

	if !r.SetCachedPause("1") {
		t.Fatal("seeding an unchecked field should apply")
	}
	if r.SetCachedPause("0") {
		t.Fatal("seeding a checked field must not apply")
	}

	paused, err := r.Paused(ctx)
	if err != nil || !paused {
		t.Fatalf("Paused = %v, %v", paused, err)
	}
	if n := dev.Reads(device.SettingPause); n != 0 {
		t.Fatalf("seeded field triggered %d reads", n)
	}
	if !r.WasPauseRead() || r.WasHeadRead() {
		t.Fatal("read tracking is wrong")
	}
}

func TestReadiness_ReadFailureLeavesUnchecked(t *testing.T) {
	dev := connectedFake(t, nil)
	dev.FailSetting(device.SettingHeadLatch, devicetest.ErrInjected)
	r := New(dev)
	ctx := context.Background()

	if _, err := r.HeadClosed(ctx); !errors.Is(err, domain.ErrReadinessRead) {
		t.Fatalf("expected ErrReadinessRead, got %v", err)
	}
	if r.WasHeadRead() {
		t.Fatal("failed read must leave the field unchecked")
	}

	dev.FailSetting(device.SettingHeadLatch, nil)
	if err := r.EnsureHead(ctx); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if n := dev.Reads(device.SettingHeadLatch); n != 2 {
		t.Fatalf("expected 2 reads, got %d", n)
	}
}

func TestReadiness_IsReady(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]string
		want     bool
	}{
		{"ready", nil, true},
		{"paused", map[string]string{device.SettingPause: "1"}, false},
		{"head open", map[string]string{device.SettingHeadLatch: "open"}, false},
		{"host error", map[string]string{device.SettingHostStatus: "paper jam"}, false},
		{"no media is still ready", map[string]string{device.SettingMediaStatus: "out"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := connectedFake(t, tt.settings)
			r := New(dev)

			ready, err := r.IsReady(context.Background())
			if err != nil {
				t.Fatalf("IsReady: %v", err)
			}
			if ready != tt.want {
				t.Fatalf("IsReady = %v, want %v (%s)", ready, tt.want, r)
			}
			if r.WasMediaRead() || r.WasLanguageRead() {
				t.Fatal("IsReady read fields it does not depend on")
			}
		})
	}
}

func TestReadiness_IsReadyDisconnected(t *testing.T) {
	dev := devicetest.Ready()
	r := New(dev)

	ready, err := r.IsReady(context.Background())
	if err != nil || ready {
		t.Fatalf("IsReady = %v, %v", ready, err)
	}
	if r.WasPauseRead() {
		t.Fatal("disconnected device should not be queried")
	}
}

func TestReadiness_RendersUnchecked(t *testing.T) {
	dev := connectedFake(t, map[string]string{device.SettingPause: "0"})
	r := New(dev)

	if _, err := r.Paused(context.Background()); err != nil {
		t.Fatalf("Paused: %v", err)
	}

	m := r.ToMap()
	if m["paused"] != "false" {
		t.Fatalf("checked false rendered as %q", m["paused"])
	}
	for _, key := range []string{"connected", "has_media", "head_closed", "has_errors", "language"} {
		if m[key] != Unchecked {
			t.Fatalf("%s rendered as %q, want %q", key, m[key], Unchecked)
		}
	}
	if s := r.String(); !strings.Contains(s, "paused=false") || !strings.Contains(s, "head_closed=unchecked") {
		t.Fatalf("unexpected String(): %s", s)
	}

	rep := r.Report()
	if !rep.Pause.Checked || rep.Pause.Raw != "0" || rep.Head.Checked {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestReadiness_Language(t *testing.T) {
	dev := connectedFake(t, map[string]string{device.SettingLanguages: `"line_print"`})
	r := New(dev)

	lang, err := r.Language(context.Background())
	if err != nil || lang != domain.FormatCPCL {
		t.Fatalf("Language = %q, %v", lang, err)
	}
	if got := r.ToMap()["language"]; got != "cpcl" {
		t.Fatalf("language rendered as %q", got)
	}
}
