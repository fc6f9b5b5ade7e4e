package correction

import (
	"bytes"
	"context"
	"testing"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/device"
	"github.com/vietddude/printguard/internal/infra/device/devicetest"
	"github.com/vietddude/printguard/internal/printing/readiness"
)

var cmds = device.SGDCommands{}

const (
	zplLabel  = "^XA^FO20,20^FDship^FS^XZ"
	cpclLabel = "! 0 200 200 210 1\r\nTEXT 4 0 30 40 ship\r\nPRINT\r\n"
)

func allEnabled() Config {
	return Config{
		EnableUnpause:        true,
		EnableClearErrors:    true,
		EnableCalibration:    true,
		EnableBufferClear:    true,
		EnableLanguageSwitch: true,
		MaxAttempts:          3,
	}
}

// selectiveDevice fails sends whose payload matches fail.
type selectiveDevice struct {
	*devicetest.Fake
	fail  []byte
	tries int
}

func (d *selectiveDevice) Send(ctx context.Context, data []byte) error {
	if bytes.Equal(data, d.fail) {
		d.tries++
		return devicetest.ErrInjected
	}
	return d.Fake.Send(ctx, data)
}

func fakeWith(t *testing.T, settings map[string]string) *devicetest.Fake {
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

func sentContains(sent [][]byte, payload []byte) bool {
	for _, s := range sent {
		if bytes.Equal(s, payload) {
			return true
		}
	}
	return false
}

// =============================================================================
// CorrectReadiness
// =============================================================================

func TestCorrectReadiness_NothingToDo(t *testing.T) {
	dev := fakeWith(t, nil)
	e := NewEngine(allEnabled(), nil)

	res := e.CorrectReadiness(context.Background(), readiness.New(dev))
	if !res.Success || res.Data {
		t.Fatalf("expected success without corrections, got %+v", res)
	}
	if len(dev.Sent()) != 0 {
		t.Fatalf("unexpected commands %q", dev.Sent())
	}
	if run := e.LastRun(); run.State != StateSettled {
		t.Fatalf("expected settled run, got %s", run.State)
	}
}

func TestCorrectReadiness_AppliesEachConcern(t *testing.T) {
	dev := fakeWith(t, map[string]string{
		device.SettingPause:       "1",
		device.SettingHostStatus:  "head too hot",
		device.SettingMediaStatus: "out",
	})
	e := NewEngine(allEnabled(), nil)

	res := e.CorrectReadiness(context.Background(), readiness.New(dev))
	if !res.Success || !res.Data {
		t.Fatalf("expected corrections applied, got %+v", res)
	}

	sent := dev.Sent()
	want := [][]byte{cmds.Unpause(), cmds.ClearErrors(), cmds.Calibrate()}
	if len(sent) != len(want) {
		t.Fatalf("expected %d commands, got %q", len(want), sent)
	}
	for i := range want {
		if !bytes.Equal(sent[i], want[i]) {
			t.Fatalf("command %d = %q, want %q", i, sent[i], want[i])
		}
	}
}

func TestCorrectReadiness_FailSoftPerAction(t *testing.T) {
	fake := fakeWith(t, map[string]string{
		device.SettingPause:       "1",
		device.SettingHostStatus:  "error",
		device.SettingMediaStatus: "out",
	})
	fake.FailSetting(device.SettingPause, devicetest.ErrInjected)
	dev := &selectiveDevice{Fake: fake, fail: cmds.ClearErrors()}
	r := readiness.New(dev)

	res := NewEngine(allEnabled(), nil).CorrectReadiness(context.Background(), r)

	if !res.Success || !res.Data {
		t.Fatalf("expected calibration to still apply, got %+v", res)
	}
	sent := fake.Sent()
	if len(sent) != 1 || !bytes.Equal(sent[0], cmds.Calibrate()) {
		t.Fatalf("expected only calibrate to be delivered, got %q", sent)
	}
	if dev.tries != 3 {
		t.Fatalf("expected clear-errors to be tried MaxAttempts times, got %d", dev.tries)
	}
}

func TestCorrectReadiness_RespectsFlags(t *testing.T) {
	dev := fakeWith(t, map[string]string{
		device.SettingPause:       "1",
		device.SettingMediaStatus: "out",
	})
	cfg := allEnabled()
	cfg.EnableUnpause = false
	cfg.EnableCalibration = false
	r := readiness.New(dev)

	res := NewEngine(cfg, nil).CorrectReadiness(context.Background(), r)

	if !res.Success || res.Data || len(dev.Sent()) != 0 {
		t.Fatalf("disabled actions ran: %+v %q", res, dev.Sent())
	}
	if r.WasPauseRead() || r.WasMediaRead() {
		t.Fatal("disabled concerns should not be read")
	}
}

// =============================================================================
// CorrectForPrinting
// =============================================================================

func TestCorrectForPrinting_CPCLAlwaysClearsBuffer(t *testing.T) {
	dev := fakeWith(t, map[string]string{device.SettingLanguages: "line_print"})
	cfg := allEnabled()
	cfg.EnableBufferClear = false

	res := NewEngine(cfg, nil).CorrectForPrinting(context.Background(), readiness.New(dev), []byte(cpclLabel))

	if !res.Success || !res.Data {
		t.Fatalf("expected buffer clear, got %+v", res)
	}
	if !sentContains(dev.Sent(), cmds.ClearBuffer(domain.FormatCPCL)) {
		t.Fatalf("cpcl buffer not cleared: %q", dev.Sent())
	}
}

func TestCorrectForPrinting_ZPLBufferClearHonoursFlag(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		dev := fakeWith(t, nil)
		cfg := allEnabled()
		cfg.EnableBufferClear = enabled

		res := NewEngine(cfg, nil).CorrectForPrinting(context.Background(), readiness.New(dev), []byte(zplLabel))
		if !res.Success {
			t.Fatalf("enabled=%v: unexpected failure %+v", enabled, res)
		}
		if got := sentContains(dev.Sent(), cmds.ClearBuffer(domain.FormatZPL)); got != enabled {
			t.Fatalf("enabled=%v: buffer clear sent=%v", enabled, got)
		}
	}
}

func TestCorrectForPrinting_SwitchesLanguageOnMismatch(t *testing.T) {
	dev := fakeWith(t, map[string]string{device.SettingLanguages: "zpl"})
	cfg := allEnabled()
	cfg.EnableBufferClear = false

	res := NewEngine(cfg, nil).CorrectForPrinting(context.Background(), readiness.New(dev), []byte(cpclLabel))

	if !res.Success {
		t.Fatalf("unexpected failure %+v", res)
	}
	if !sentContains(dev.Sent(), cmds.SwitchLanguage(domain.FormatCPCL)) {
		t.Fatalf("language not switched: %q", dev.Sent())
	}
}

func TestCorrectForPrinting_FailFastOnReadError(t *testing.T) {
	dev := fakeWith(t, map[string]string{device.SettingHostStatus: "error"})
	dev.FailSetting(device.SettingPause, devicetest.ErrInjected)
	e := NewEngine(allEnabled(), nil)

	res := e.CorrectForPrinting(context.Background(), readiness.New(dev), []byte(zplLabel))

	if res.Success || res.Code() != domain.CodeReadinessFailed {
		t.Fatalf("expected readiness failure, got %+v", res)
	}
	if sentContains(dev.Sent(), cmds.ClearErrors()) {
		t.Fatal("sequence continued after a read failure")
	}
	run := e.LastRun()
	if run.State != StateFailed || run.Error == "" {
		t.Fatalf("expected failed run, got %+v", run)
	}
}

func TestCorrectForPrinting_FailFastOnCommandError(t *testing.T) {
	fake := fakeWith(t, map[string]string{device.SettingPause: "1", device.SettingHostStatus: "error"})
	dev := &selectiveDevice{Fake: fake, fail: cmds.Unpause()}

	res := NewEngine(allEnabled(), nil).CorrectForPrinting(context.Background(), readiness.New(dev), []byte(zplLabel))

	if res.Success || res.Code() != domain.CodeCorrectionFailed {
		t.Fatalf("expected correction failure, got %+v", res)
	}
	if sentContains(fake.Sent(), cmds.ClearErrors()) {
		t.Fatal("clear-errors ran after unpause failed")
	}
}

func TestRunReports_AreIndependentOfLastRun(t *testing.T) {
	paused := fakeWith(t, map[string]string{device.SettingPause: "1"})
	errored := fakeWith(t, map[string]string{device.SettingHostStatus: "error"})
	e := NewEngine(allEnabled(), nil)

	first, res := e.RunReadiness(context.Background(), readiness.New(paused))
	if !res.Success {
		t.Fatalf("first run: %+v", res)
	}
	second, res := e.RunForPrinting(context.Background(), readiness.New(errored), []byte(zplLabel))
	if !res.Success {
		t.Fatalf("second run: %+v", res)
	}

	if len(first.Actions) != 1 || first.Actions[0].Action != ActionUnpause {
		t.Fatalf("first report changed by a later run: %+v", first.Actions)
	}
	if len(second.Actions) != 1 || second.Actions[0].Action != ActionClearErrors {
		t.Fatalf("unexpected second report: %+v", second.Actions)
	}
	if last := e.LastRun(); last.Mode != second.Mode || len(last.Actions) != 1 {
		t.Fatalf("LastRun should match the latest run, got %+v", last)
	}
}

func TestCorrectForPrinting_LanguageSwitchLeavesSnapshotUntouched(t *testing.T) {
	dev := fakeWith(t, map[string]string{device.SettingLanguages: "line_print"})
	r := readiness.New(dev)

	res := NewEngine(allEnabled(), nil).CorrectForPrinting(context.Background(), r, []byte(zplLabel))
	if !res.Success || !res.Data {
		t.Fatalf("expected language switch, got %+v", res)
	}
	if lang, _ := r.Language(context.Background()); lang != domain.FormatCPCL {
		t.Fatalf("snapshot is read once, expected stale cpcl, got %s", lang)
	}
	if reads := dev.Reads(device.SettingLanguages); reads != 1 {
		t.Fatalf("expected 1 language read, got %d", reads)
	}
}

// =============================================================================
// SwitchLanguageForData
// =============================================================================

func TestSwitchLanguageForData(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		language  string
		readErr   bool
		data      string
		wantSends int
	}{
		{"matching language", true, "zpl", false, zplLabel, 0},
		{"disabled", false, "line_print", false, zplLabel, 0},
		{"undetectable data", true, "line_print", false, "hello", 0},
		{"unknown device language", true, "epl", false, zplLabel, 0},
		{"unreadable language", true, "zpl", true, cpclLabel, 0},
		{"mismatch", true, "line_print", false, zplLabel, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := fakeWith(t, map[string]string{device.SettingLanguages: tt.language})
			if tt.readErr {
				dev.FailSetting(device.SettingLanguages, devicetest.ErrInjected)
			}
			cfg := allEnabled()
			cfg.EnableLanguageSwitch = tt.enabled

			ok := NewEngine(cfg, nil).SwitchLanguageForData(context.Background(), readiness.New(dev), []byte(tt.data))

			if !ok {
				t.Fatal("expected proceed")
			}
			if got := len(dev.Sent()); got != tt.wantSends {
				t.Fatalf("expected %d commands, got %d (%q)", tt.wantSends, got, dev.Sent())
			}
		})
	}
}

func TestSwitchLanguageForData_SendFailure(t *testing.T) {
	fake := fakeWith(t, map[string]string{device.SettingLanguages: "zpl"})
	dev := &selectiveDevice{Fake: fake, fail: cmds.SwitchLanguage(domain.FormatCPCL)}

	if NewEngine(allEnabled(), nil).SwitchLanguageForData(context.Background(), readiness.New(dev), []byte(cpclLabel)) {
		t.Fatal("expected false when the switch command cannot be delivered")
	}
}

// =============================================================================
// State machine
// =============================================================================

func TestCanTransition(t *testing.T) {
	valid := [][2]State{
		{StateIdle, StateInspecting},
		{StateInspecting, StateCorrecting},
		{StateCorrecting, StateInspecting},
		{StateCorrecting, StateFailed},
		{StateSettled, StateIdle},
	}
	for _, tr := range valid {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be valid", tr[0], tr[1])
		}
	}
	invalid := [][2]State{
		{StateIdle, StateCorrecting},
		{StateSettled, StateCorrecting},
		{StateFailed, StateSettled},
	}
	for _, tr := range invalid {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be invalid", tr[0], tr[1])
		}
	}
}

func TestLastRun_RecordsTransitions(t *testing.T) {
	dev := fakeWith(t, map[string]string{device.SettingPause: "1"})
	e := NewEngine(allEnabled(), nil)

	e.CorrectReadiness(context.Background(), readiness.New(dev))

	run := e.LastRun()
	if run.Mode != "readiness" || len(run.Actions) != 1 || run.Actions[0].Action != ActionUnpause {
		t.Fatalf("unexpected run %+v", run)
	}
	for _, tr := range run.Transitions {
		if !CanTransition(tr.From, tr.To) {
			t.Fatalf("run recorded invalid transition %s -> %s", tr.From, tr.To)
		}
	}
	if run.Transitions[0].From != StateIdle || run.State != StateSettled {
		t.Fatalf("unexpected lifecycle %+v", run.Transitions)
	}
}

func TestUpdateConfig(t *testing.T) {
	e := NewEngine(DefaultConfig, nil)
	cfg := DefaultConfig
	cfg.EnableCalibration = true

	e.UpdateConfig(cfg)

	if !e.Config().EnableCalibration {
		t.Fatal("config not updated")
	}
}
