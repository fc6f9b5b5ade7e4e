// Package device defines the capabilities the resilience layer consumes from a
// platform printer binding, plus a minimal raw TCP binding.
//
// This package contains:
//   - Capability: one connection to one printer
//   - Discoverer: printer discovery
//   - SGDCommands: the reference corrective command catalog
//   - TCPDevice / StaticDiscoverer: socket binding used by the command line tool
package device

import (
	"context"

	"github.com/vietddude/printguard/internal/core/domain"
)

// Setting keys read through Capability.GetSetting.
const (
	SettingMediaStatus  = "media.status"
	SettingHeadLatch    = "head.latch"
	SettingPause        = "device.pause"
	SettingHostStatus   = "device.host_status"
	SettingLanguages    = "device.languages"
	SettingFriendlyName = "device.friendly_name"
)

// Capability is a single printer connection provided by a platform binding.
// Implementations are not required to be safe for concurrent use; callers
// serialise commands per device.
type Capability interface {
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Send(ctx context.Context, data []byte) error
	GetSetting(ctx context.Context, key string) (string, error)
}

// Factory creates an unconnected Capability for an address.
type Factory func(address string) Capability

// Discoverer finds printers reachable through a transport.
type Discoverer interface {
	Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.DeviceDescriptor, error)
}

// DiscovererFunc adapts a function to the Discoverer interface.
type DiscovererFunc func(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.DeviceDescriptor, error)

// Discover calls f.
func (f DiscovererFunc) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.DeviceDescriptor, error) {
	return f(ctx, opts)
}
