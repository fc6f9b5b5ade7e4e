// Package devicetest provides an in-memory printer for tests.
package devicetest

import (
	"context"
	"errors"
	"sync"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/device"
)

// ErrInjected is the default failure returned by a Fake when a failure is armed.
var ErrInjected = errors.New("devicetest: injected failure")

// Fake is a scripted printer. Settings are served from a map and every
// interaction is recorded. It is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	Address   string
	connected bool
	settings  map[string]string

	// ConnectErr, SendErr and SettingErr are returned while non-nil.
	ConnectErr error
	SendErr    error
	SettingErr map[string]error

	// OnSend is invoked with each payload after it is recorded. It may mutate
	// settings through Set to emulate device reactions.
	OnSend func(f *Fake, data []byte)

	connects    int
	disconnects int
	reads       map[string]int
	sent        [][]byte
}

// New creates a connected-capable fake with the given settings.
func New(settings map[string]string) *Fake {
	s := make(map[string]string, len(settings))
	for k, v := range settings {
		s[k] = v
	}
	return &Fake{
		settings:   s,
		SettingErr: make(map[string]error),
		reads:      make(map[string]int),
	}
}

// Ready returns a fake reporting a printer with nothing to correct.
func Ready() *Fake {
	return New(map[string]string{
		device.SettingMediaStatus: "ok",
		device.SettingHeadLatch:   "ok",
		device.SettingPause:       "0",
		device.SettingHostStatus:  "ok",
		device.SettingLanguages:   "zpl",
	})
}

func (f *Fake) Connect(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Address = address
	f.connected = true
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnects++
	f.connected = false
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return domain.ErrNotConnected
	}
	if f.SendErr != nil {
		err := f.SendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(f, data)
	}
	return nil
}

func (f *Fake) GetSetting(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads[key]++
	if !f.connected {
		return "", domain.ErrNotConnected
	}
	if err := f.SettingErr[key]; err != nil {
		return "", err
	}
	return f.settings[key], nil
}

// Set changes a setting value.
func (f *Fake) Set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
}

// FailSetting arms a read failure for key. A nil err clears it.
func (f *Fake) FailSetting(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.SettingErr, key)
		return
	}
	f.SettingErr[key] = err
}

// SetConnected forces the connection flag, emulating a dropped link.
func (f *Fake) SetConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

// Reads returns how many times key was read.
func (f *Fake) Reads(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[key]
}

// Sent returns a copy of every payload sent.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// Connects returns the number of Connect calls.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Disconnects returns the number of Disconnect calls.
func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// Pool hands out fakes per address and remembers them.
type Pool struct {
	mu    sync.Mutex
	fakes map[string]*Fake
	New   func(address string) *Fake
}

// NewPool creates a pool whose fakes start from Ready.
func NewPool() *Pool {
	return &Pool{
		fakes: make(map[string]*Fake),
		New:   func(string) *Fake { return Ready() },
	}
}

// Factory returns a device.Factory that creates a fresh fake for each call and
// records the latest fake per address.
func (p *Pool) Factory() device.Factory {
	return func(address string) device.Capability {
		p.mu.Lock()
		defer p.mu.Unlock()
		f := p.New(address)
		p.fakes[address] = f
		return f
	}
}

// Get returns the latest fake built for address.
func (p *Pool) Get(address string) *Fake {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fakes[address]
}

// Discoverer counts calls and returns a fixed device list.
type Discoverer struct {
	mu      sync.Mutex
	Devices []domain.DeviceDescriptor
	Err     error
	calls   int
}

func (d *Discoverer) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.DeviceDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, d.Err
	}
	return append([]domain.DeviceDescriptor(nil), d.Devices...), nil
}

// Calls returns the number of Discover calls.
func (d *Discoverer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
