// Package manager tracks the set of attached controllers: enumeration,
// opening, per-device lifecycle events, player slot assignment and the
// consumer-facing poll/command surface.
package manager

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/joyline/joycore/device"
	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/internal/log"
	"github.com/joyline/joycore/report"
)

// Options configures a Manager. Enumerate and Open default to the real HID
// stack; tests substitute fakes.
type Options struct {
	Device device.Options

	Enumerate func() ([]hid.DeviceInfo, error)
	Open      func(hid.DeviceInfo) (hid.Transport, error)

	Logger *slog.Logger
	Raw    log.RawLogger
}

// eventBuffer bounds the consumer event channel; when the consumer lags,
// the oldest event is dropped in favor of the newest.
const eventBuffer = 16

// Manager owns all open devices. Safe for concurrent use.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*device.Device // by device path
	players map[int]string            // player slot -> device path
	closed  bool

	events chan device.Event
}

// New creates a Manager. Close must be called to release all handles.
func New(opts Options) *Manager {
	if opts.Enumerate == nil {
		opts.Enumerate = hid.Enumerate
	}
	if opts.Open == nil {
		opts.Open = hid.Open
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Raw == nil {
		opts.Raw = log.NewRaw(nil)
	}
	return &Manager{
		opts:    opts,
		logger:  opts.Logger,
		devices: make(map[string]*device.Device),
		players: make(map[int]string),
		events:  make(chan device.Event, eventBuffer),
	}
}

// ListDevices enumerates attached controllers, opened or not.
func (m *Manager) ListDevices() ([]hid.DeviceInfo, error) {
	return m.opts.Enumerate()
}

// Open acquires the device and starts its state machine. Opening an
// already-open path fails with hid.ErrBusy.
func (m *Manager) Open(info hid.DeviceInfo) (*device.Device, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, hid.ErrDisconnected
	}
	if _, exists := m.devices[info.Path]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("already open %s: %w", info.Path, hid.ErrBusy)
	}
	// A slot reservation for the same path means another Open is already
	// in flight.
	for _, p := range m.players {
		if p == info.Path {
			m.mu.Unlock()
			return nil, fmt.Errorf("already open %s: %w", info.Path, hid.ErrBusy)
		}
	}
	// Reserve the slot before dropping the lock so a concurrent Open
	// cannot observe the same slot as free.
	player := m.freePlayerSlotLocked()
	m.players[player] = info.Path
	m.mu.Unlock()

	tr, err := m.opts.Open(info)
	if err != nil {
		m.releasePlayerSlot(player, info.Path)
		return nil, err
	}

	devOpts := m.opts.Device
	devOpts.Logger = m.logger
	devOpts.Raw = m.opts.Raw
	devOpts.Notify = func(ev device.Event) { m.handleEvent(info.Path, player, ev) }

	dev := device.New(info, tr, devOpts)

	m.mu.Lock()
	if m.closed {
		delete(m.players, player)
		m.mu.Unlock()
		_ = dev.Close()
		return nil, hid.ErrDisconnected
	}
	m.devices[info.Path] = dev
	m.mu.Unlock()

	dev.Start()
	m.logger.Info("device opened", "path", info.Path, "serial", info.Serial, "player", player)
	return dev, nil
}

// Rescan enumerates and opens every controller not already tracked,
// returning how many new devices were opened. Open failures on individual
// devices are logged and skipped so one bad device cannot stall hotplug.
func (m *Manager) Rescan() (int, error) {
	infos, err := m.opts.Enumerate()
	if err != nil {
		return 0, err
	}

	opened := 0
	for _, info := range infos {
		m.mu.Lock()
		_, exists := m.devices[info.Path]
		m.mu.Unlock()
		if exists {
			continue
		}
		if _, err := m.Open(info); err != nil {
			m.logger.Warn("open failed", "path", info.Path, "error", err)
			continue
		}
		opened++
	}
	return opened, nil
}

// Devices returns the currently tracked devices, ordered by path.
func (m *Manager) Devices() []*device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.devices))
	for p := range m.devices {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]*device.Device, 0, len(paths))
	for _, p := range paths {
		out = append(out, m.devices[p])
	}
	return out
}

// Get returns the tracked device for a path, or nil.
func (m *Manager) Get(path string) *device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[path]
}

// PollState returns the latest snapshot for the device at path.
func (m *Manager) PollState(path string) (*device.ControllerState, error) {
	dev := m.Get(path)
	if dev == nil {
		return nil, fmt.Errorf("poll %s: %w", path, hid.ErrNotFound)
	}
	return dev.Snapshot(), nil
}

// SendCommand submits an output command to the device at path.
func (m *Manager) SendCommand(path string, cmd device.Command) error {
	dev := m.Get(path)
	if dev == nil {
		return fmt.Errorf("send %s: %w", path, hid.ErrNotFound)
	}
	return dev.Send(cmd)
}

// Events is the consumer's lifecycle stream. Events are dropped oldest
// first if the consumer stops reading.
func (m *Manager) Events() <-chan device.Event {
	return m.events
}

// Close tears down every device and stops event delivery.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	devices := make([]*device.Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*device.Device)
	m.players = make(map[int]string)
	m.mu.Unlock()

	for _, d := range devices {
		_ = d.Close()
	}
	close(m.events)
	return nil
}

// handleEvent runs on the device goroutine: it keeps the registry in sync
// and forwards the event to the consumer without blocking.
func (m *Manager) handleEvent(path string, player int, ev device.Event) {
	switch ev.Type {
	case device.EventConnected:
		// Light the LEDs matching the assigned player slot, the way the
		// console numbers controllers in connect order.
		if dev := m.Get(path); dev != nil {
			if err := dev.Send(device.SetPlayerLights{Pattern: report.PlayerLightsPattern(player)}); err != nil {
				m.logger.Warn("player lights", "path", path, "error", err)
			}
		}
	}

	// The send must happen under the lock: Close marks the manager closed
	// in its own critical section before it closes the channel, so a send
	// here can never race the close.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if ev.Type == device.EventDisconnected {
		delete(m.devices, path)
		if m.players[player] == path {
			delete(m.players, player)
		}
	}

	select {
	case m.events <- ev:
	default:
		// Consumer is behind; drop the oldest event to keep the newest.
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- ev:
		default:
		}
	}
}

// releasePlayerSlot undoes a reservation made in Open when the open fails.
func (m *Manager) releasePlayerSlot(player int, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[player] == path {
		delete(m.players, player)
	}
}

// freePlayerSlotLocked returns the smallest unassigned 1-based player slot.
func (m *Manager) freePlayerSlotLocked() int {
	for i := 1; ; i++ {
		if _, taken := m.players[i]; !taken {
			return i
		}
	}
}
