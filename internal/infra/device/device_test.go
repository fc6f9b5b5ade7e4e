package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// fakePrinter answers SGD getvar lines from a map and records everything else.
type fakePrinter struct {
	ln       net.Listener
	settings map[string]string
	received chan []byte
}

func newFakePrinter(t *testing.T, settings map[string]string) *fakePrinter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePrinter{ln: ln, settings: settings, received: make(chan []byte, 16)}
	go p.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *fakePrinter) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go p.handle(conn)
	}
}

func (p *fakePrinter) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if strings.HasPrefix(line, "! U1 getvar") {
				parts := strings.Split(line, `"`)
				if len(parts) >= 2 {
					_, _ = conn.Write([]byte(`"` + p.settings[parts[1]] + `"`))
				}
			} else {
				p.received <- []byte(line)
			}
		}
		if err != nil {
			return
		}
	}
}

func TestTCPDevice_GetSettingAndSend(t *testing.T) {
	printer := newFakePrinter(t, map[string]string{SettingLanguages: "zpl"})
	ctx := context.Background()

	dev := NewTCPDevice(time.Second)
	if err := dev.Connect(ctx, printer.ln.Addr().String()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer dev.Disconnect(ctx)

	if !dev.IsConnected() {
		t.Fatal("expected connected")
	}

	lang, err := dev.GetSetting(ctx, SettingLanguages)
	if err != nil {
		t.Fatalf("getvar: %v", err)
	}
	if lang != "zpl" {
		t.Fatalf("expected zpl, got %q", lang)
	}

	payload := []byte("^XA^FDhello^FS^XZ\n")
	if err := dev.Send(ctx, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-printer.received:
		if !bytes.Equal(got, payload) {
			t.Fatalf("printer received %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("printer received nothing")
	}
}

func TestTCPDevice_NotConnected(t *testing.T) {
	dev := NewTCPDevice(0)
	ctx := context.Background()

	if err := dev.Send(ctx, []byte("x")); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := dev.GetSetting(ctx, SettingPause); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := dev.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect without connection should succeed: %v", err)
	}
}

func TestTCPDevice_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	err = NewTCPDevice(0).Connect(context.Background(), addr)
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestHostPort(t *testing.T) {
	if got := HostPort("10.0.0.5"); got != "10.0.0.5:9100" {
		t.Fatalf("got %s", got)
	}
	if got := HostPort("10.0.0.5:6101"); got != "10.0.0.5:6101" {
		t.Fatalf("got %s", got)
	}
}

func TestStaticDiscoverer_ReturnsReachable(t *testing.T) {
	printer := newFakePrinter(t, nil)

	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := dead.Addr().String()
	_ = dead.Close()

	d := NewStaticDiscoverer([]domain.DeviceDescriptor{
		{Name: "dock-1", Address: printer.ln.Addr().String(), Transport: domain.TransportNetwork},
		{Name: "dock-2", Address: deadAddr, Transport: domain.TransportNetwork},
		{Name: "handheld", Address: "AC:3F:A4:00:00:01", Transport: domain.TransportBluetooth},
	})

	found, err := d.Discover(context.Background(), domain.DiscoveryOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(found) != 2 || found[0].Name != "dock-1" || found[1].Name != "handheld" {
		t.Fatalf("unexpected devices: %+v", found)
	}

	found, _ = d.Discover(context.Background(), domain.DiscoveryOptions{Transport: domain.TransportBluetooth})
	if len(found) != 1 || found[0].Name != "handheld" {
		t.Fatalf("transport filter ignored: %+v", found)
	}
}

func TestSGDCommands(t *testing.T) {
	var c SGDCommands

	if got := string(c.Calibrate()); got != "~jc^xa^jus^xz" {
		t.Fatalf("calibrate: %q", got)
	}
	if got := string(c.SwitchLanguage(domain.FormatCPCL)); !strings.Contains(got, `"line_print"`) {
		t.Fatalf("switch to cpcl: %q", got)
	}
	if c.SwitchLanguage(domain.FormatUnknown) != nil {
		t.Fatal("unknown format must not produce a command")
	}
	if got := string(c.SetDarkness(500)); !strings.Contains(got, `"200"`) {
		t.Fatalf("darkness not clamped: %q", got)
	}
	if got := string(c.SetMediaType(MediaBlackMark)); !strings.Contains(got, `"bar"`) || !strings.HasSuffix(got, "~jc^xa^jus^xz") {
		t.Fatalf("blackmark profile: %q", got)
	}
	if _, err := ParseMediaType("ribbon"); err == nil {
		t.Fatal("expected error for unknown media type")
	}
}
