package domain

import "time"

// Transport identifies how a printer is reached.
type Transport string

const (
	TransportNetwork   Transport = "network"
	TransportBluetooth Transport = "bluetooth"
)

// DeviceDescriptor describes a discovered printer.
type DeviceDescriptor struct {
	Name      string    `json:"name"      yaml:"name"`
	Address   string    `json:"address"   yaml:"address"`
	Transport Transport `json:"transport" yaml:"transport"`
	Model     string    `json:"model,omitempty" yaml:"model"`
}

// DiscoveryOptions controls a discovery pass.
type DiscoveryOptions struct {
	Transport Transport
	Timeout   time.Duration

	// CacheTTL overrides the discovery cache lifetime. Zero uses the manager default.
	CacheTTL time.Duration

	// Refresh skips the cache lookup and always runs discovery.
	Refresh bool
}

// CacheKey identifies this discovery request inside the discovery cache category.
func (o DiscoveryOptions) CacheKey() string {
	if o.Transport == "" {
		return "all"
	}
	return string(o.Transport)
}
