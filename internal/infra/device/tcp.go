package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// DefaultPort is the raw printing port.
const DefaultPort = "9100"

// DefaultReadTimeout bounds a getvar response when ctx carries no deadline.
const DefaultReadTimeout = 2 * time.Second

// TCPDevice talks to a printer over a raw socket.
type TCPDevice struct {
	mu          sync.Mutex
	conn        net.Conn
	dialer      net.Dialer
	readTimeout time.Duration
}

// NewTCPDevice creates an unconnected socket device.
func NewTCPDevice(readTimeout time.Duration) *TCPDevice {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &TCPDevice{readTimeout: readTimeout}
}

// TCPFactory returns a Factory producing socket devices.
func TCPFactory(readTimeout time.Duration) Factory {
	return func(string) Capability { return NewTCPDevice(readTimeout) }
}

// HostPort appends the raw printing port when address has none.
func HostPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, DefaultPort)
}

func (d *TCPDevice) Connect(ctx context.Context, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return nil
	}
	conn, err := d.dialer.DialContext(ctx, "tcp", HostPort(address))
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", domain.ErrConnection, address, err)
	}
	d.conn = conn
	return nil
}

func (d *TCPDevice) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *TCPDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

func (d *TCPDevice) Send(ctx context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return domain.ErrNotConnected
	}
	if err := d.write(ctx, data); err != nil {
		return d.fail(err)
	}
	return nil
}

// GetSetting sends an SGD getvar and waits for the quoted answer.
func (d *TCPDevice) GetSetting(ctx context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return "", domain.ErrNotConnected
	}
	if err := d.write(ctx, GetVar(key)); err != nil {
		return "", d.fail(err)
	}

	deadline := time.Now().Add(d.readTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return "", d.fail(err)
	}

	var resp []byte
	buf := make([]byte, 256)
	for bytes.Count(resp, []byte(`"`)) < 2 {
		n, err := d.conn.Read(buf)
		resp = append(resp, buf[:n]...)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && len(resp) > 0 {
				break
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return "", fmt.Errorf("getvar %s: %w", key, domain.ErrTimeout)
			}
			return "", d.fail(err)
		}
	}
	return string(bytes.Trim(bytes.TrimSpace(resp), `"`)), nil
}

func (d *TCPDevice) write(ctx context.Context, data []byte) error {
	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := d.conn.Write(data)
	return err
}

// fail drops a broken socket so IsConnected reports the truth.
func (d *TCPDevice) fail(err error) error {
	_ = d.conn.Close()
	d.conn = nil
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}
