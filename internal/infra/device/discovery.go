package device

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/printguard/internal/core/domain"
)

// DefaultProbeTimeout bounds each reachability probe.
const DefaultProbeTimeout = 2 * time.Second

// StaticDiscoverer reports configured printers that answer a TCP dial.
// Non-network entries are listed as configured without probing.
type StaticDiscoverer struct {
	devices []domain.DeviceDescriptor
	dialer  net.Dialer
	log     *slog.Logger
}

// NewStaticDiscoverer creates a discoverer over a fixed device list.
func NewStaticDiscoverer(devices []domain.DeviceDescriptor) *StaticDiscoverer {
	return &StaticDiscoverer{
		devices: append([]domain.DeviceDescriptor(nil), devices...),
		log:     slog.Default().With("component", "discovery"),
	}
}

// Discover probes every matching device in parallel and returns the reachable
// ones in configuration order.
func (s *StaticDiscoverer) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.DeviceDescriptor, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	reachable := make([]bool, len(s.devices))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, dev := range s.devices {
		if opts.Transport != "" && dev.Transport != opts.Transport {
			continue
		}
		if dev.Transport != domain.TransportNetwork {
			reachable[i] = true
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			conn, err := s.dialer.DialContext(probeCtx, "tcp", HostPort(dev.Address))
			if err != nil {
				s.log.Debug("Probe failed", "address", dev.Address, "error", err)
				return nil
			}
			_ = conn.Close()

			mu.Lock()
			reachable[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found []domain.DeviceDescriptor
	for i, ok := range reachable {
		if ok {
			found = append(found, s.devices[i])
		}
	}
	return found, nil
}
