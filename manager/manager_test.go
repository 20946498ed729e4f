package manager_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joyline/joycore/device"
	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/internal/hidtest"
	"github.com/joyline/joycore/manager"
	"github.com/joyline/joycore/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus emulates the HID enumeration side: a fixed set of attached
// controllers and a fresh transport per open, the way reopening a real
// device hands back a new OS handle.
type fakeBus struct {
	mu         sync.Mutex
	attached   []hid.DeviceInfo
	transports map[string]*hidtest.Transport
}

func newFakeBus(infos ...hid.DeviceInfo) *fakeBus {
	return &fakeBus{attached: infos, transports: map[string]*hidtest.Transport{}}
}

func (b *fakeBus) enumerate() ([]hid.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]hid.DeviceInfo(nil), b.attached...), nil
}

func (b *fakeBus) open(info hid.DeviceInfo) (hid.Transport, error) {
	deviceType := byte(0x01)
	if info.ProductID == hid.ProductJoyConRight {
		deviceType = 0x02
	}
	tr := hidtest.New(deviceType)
	b.mu.Lock()
	b.transports[info.Path] = tr
	b.mu.Unlock()
	return tr, nil
}

func (b *fakeBus) transport(path string) *hidtest.Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transports[path]
}

func joyConPair() (hid.DeviceInfo, hid.DeviceInfo) {
	left := hid.DeviceInfo{
		Path: "fake/left", VendorID: hid.VendorNintendo,
		ProductID: hid.ProductJoyConLeft, Serial: "serial-left",
	}
	right := hid.DeviceInfo{
		Path: "fake/right", VendorID: hid.VendorNintendo,
		ProductID: hid.ProductJoyConRight, Serial: "serial-right",
	}
	return left, right
}

func newManager(t *testing.T, bus *fakeBus) *manager.Manager {
	t.Helper()
	m := manager.New(manager.Options{
		Device: device.Options{
			ReadTimeout: 20 * time.Millisecond,
			AckTimeout:  250 * time.Millisecond,
		},
		Enumerate: bus.enumerate,
		Open:      bus.open,
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitEvent reads events until one of the wanted type arrives.
func waitEvent(t *testing.T, m *manager.Manager, want device.EventType) device.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-m.Events():
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", want)
		}
	}
}

func keepStreaming(bus *fakeBus, paths ...string) func() {
	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				for _, p := range paths {
					if tr := bus.transport(p); tr != nil {
						tr.TryInject(hidtest.StandardReport(nil))
					}
				}
			}
		}
	}()
	return func() { close(stop) }
}

func TestRescanOpensAllAttached(t *testing.T) {
	left, right := joyConPair()
	bus := newFakeBus(left, right)
	m := newManager(t, bus)
	stop := keepStreaming(bus, left.Path, right.Path)
	defer stop()

	opened, err := m.Rescan()
	require.NoError(t, err)
	assert.Equal(t, 2, opened)

	first := waitEvent(t, m, device.EventConnected)
	second := waitEvent(t, m, device.EventConnected)
	serials := []string{first.Serial, second.Serial}
	assert.ElementsMatch(t, []string{"serial-left", "serial-right"}, serials)

	require.Len(t, m.Devices(), 2)

	// A second rescan finds nothing new.
	opened, err = m.Rescan()
	require.NoError(t, err)
	assert.Zero(t, opened)
}

func TestPlayerSlotsLightInConnectOrder(t *testing.T) {
	left, right := joyConPair()
	bus := newFakeBus(left, right)
	m := newManager(t, bus)
	stop := keepStreaming(bus, left.Path, right.Path)
	defer stop()

	_, err := m.Rescan()
	require.NoError(t, err)
	waitEvent(t, m, device.EventConnected)
	waitEvent(t, m, device.EventConnected)

	// Enumeration order assigns slots: player 1 lights one LED, player 2
	// lights two.
	require.Eventually(t, func() bool {
		return len(bus.transport(left.Path).SubcommandWrites(report.SubcommandSetPlayerLights)) == 1 &&
			len(bus.transport(right.Path).SubcommandWrites(report.SubcommandSetPlayerLights)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	leftLights := bus.transport(left.Path).SubcommandWrites(report.SubcommandSetPlayerLights)[0]
	rightLights := bus.transport(right.Path).SubcommandWrites(report.SubcommandSetPlayerLights)[0]
	assert.Equal(t, report.PlayerLightsPattern(1), leftLights[11])
	assert.Equal(t, report.PlayerLightsPattern(2), rightLights[11])
}

func TestOpenTwiceIsBusy(t *testing.T) {
	left, _ := joyConPair()
	bus := newFakeBus(left)
	m := newManager(t, bus)
	stop := keepStreaming(bus, left.Path)
	defer stop()

	_, err := m.Open(left)
	require.NoError(t, err)

	_, err = m.Open(left)
	assert.ErrorIs(t, err, hid.ErrBusy)
}

func TestPollAndSendUnknownPath(t *testing.T) {
	bus := newFakeBus()
	m := newManager(t, bus)

	_, err := m.PollState("no/such/device")
	assert.ErrorIs(t, err, hid.ErrNotFound)

	err = m.SendCommand("no/such/device", device.SetRumble{})
	assert.ErrorIs(t, err, hid.ErrNotFound)
}

func TestPollStateReflectsReports(t *testing.T) {
	left, _ := joyConPair()
	bus := newFakeBus(left)
	m := newManager(t, bus)
	stop := keepStreaming(bus, left.Path)
	defer stop()

	_, err := m.Rescan()
	require.NoError(t, err)
	waitEvent(t, m, device.EventConnected)

	held := hidtest.StandardReport(func(b []byte) {
		b[3] = 0x08 // A held
	})
	require.Eventually(t, func() bool {
		bus.transport(left.Path).TryInject(held)
		s, err := m.PollState(left.Path)
		return err == nil && s.Buttons.Get(report.ButtonA)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectedDeviceLeavesRegistry(t *testing.T) {
	left, _ := joyConPair()
	bus := newFakeBus(left)
	m := newManager(t, bus)

	stop := keepStreaming(bus, left.Path)
	_, err := m.Rescan()
	require.NoError(t, err)
	waitEvent(t, m, device.EventConnected)

	// Go silent: the device times out and drops off.
	stop()
	ev := waitEvent(t, m, device.EventDisconnected)
	assert.Equal(t, left.Path, ev.Path)

	require.Eventually(t, func() bool { return m.Get(left.Path) == nil },
		2*time.Second, 5*time.Millisecond)

	// The next rescan picks it back up with a fresh handle, and the slot
	// freed by the disconnect is reused.
	stop2 := keepStreaming(bus, left.Path)
	defer stop2()
	opened, err := m.Rescan()
	require.NoError(t, err)
	assert.Equal(t, 1, opened)
	ev = waitEvent(t, m, device.EventConnected)
	assert.Equal(t, "serial-left", ev.Serial)
}

func TestConcurrentOpensGetDistinctSlots(t *testing.T) {
	left, right := joyConPair()
	bus := newFakeBus(left, right)

	var entered sync.WaitGroup
	entered.Add(2)
	release := make(chan struct{})
	m := manager.New(manager.Options{
		Device: device.Options{
			ReadTimeout: 20 * time.Millisecond,
			AckTimeout:  250 * time.Millisecond,
		},
		Enumerate: bus.enumerate,
		Open: func(info hid.DeviceInfo) (hid.Transport, error) {
			// Hold both opens at the same point so their slot
			// assignments overlap.
			entered.Done()
			<-release
			return bus.open(info)
		},
	})
	t.Cleanup(func() { _ = m.Close() })
	stop := keepStreaming(bus, left.Path, right.Path)
	defer stop()

	errs := make(chan error, 2)
	for _, info := range []hid.DeviceInfo{left, right} {
		go func(info hid.DeviceInfo) {
			_, err := m.Open(info)
			errs <- err
		}(info)
	}
	entered.Wait()
	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	waitEvent(t, m, device.EventConnected)
	waitEvent(t, m, device.EventConnected)

	require.Eventually(t, func() bool {
		return len(bus.transport(left.Path).SubcommandWrites(report.SubcommandSetPlayerLights)) == 1 &&
			len(bus.transport(right.Path).SubcommandWrites(report.SubcommandSetPlayerLights)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Both controllers must light different patterns; overlapping opens
	// must not hand out the same slot twice.
	patterns := []byte{
		bus.transport(left.Path).SubcommandWrites(report.SubcommandSetPlayerLights)[0][11],
		bus.transport(right.Path).SubcommandWrites(report.SubcommandSetPlayerLights)[0][11],
	}
	assert.ElementsMatch(t, []byte{report.PlayerLightsPattern(1), report.PlayerLightsPattern(2)}, patterns)
}

func TestFailedOpenReleasesSlot(t *testing.T) {
	left, right := joyConPair()
	bus := newFakeBus(left, right)
	openErr := errors.New("no handle")
	failNext := true
	m := manager.New(manager.Options{
		Device: device.Options{
			ReadTimeout: 20 * time.Millisecond,
			AckTimeout:  250 * time.Millisecond,
		},
		Enumerate: bus.enumerate,
		Open: func(info hid.DeviceInfo) (hid.Transport, error) {
			if failNext {
				failNext = false
				return nil, openErr
			}
			return bus.open(info)
		},
	})
	t.Cleanup(func() { _ = m.Close() })

	_, err := m.Open(left)
	require.ErrorIs(t, err, openErr)

	stop := keepStreaming(bus, right.Path)
	defer stop()
	_, err = m.Open(right)
	require.NoError(t, err)
	waitEvent(t, m, device.EventConnected)

	// The slot reserved by the failed open is free again, so the next
	// controller still becomes player one.
	require.Eventually(t, func() bool {
		return len(bus.transport(right.Path).SubcommandWrites(report.SubcommandSetPlayerLights)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	lights := bus.transport(right.Path).SubcommandWrites(report.SubcommandSetPlayerLights)[0]
	assert.Equal(t, report.PlayerLightsPattern(1), lights[11])
}

func TestCloseRacesSelfDisconnect(t *testing.T) {
	// A device that drops off on its own delivers its disconnect event
	// from its loop goroutine; tearing the manager down at the same
	// moment must never send on the closed event channel.
	for i := 0; i < 25; i++ {
		left, _ := joyConPair()
		bus := newFakeBus(left)
		m := manager.New(manager.Options{
			Device: device.Options{
				ReadTimeout: 5 * time.Millisecond,
				AckTimeout:  250 * time.Millisecond,
			},
			Enumerate: bus.enumerate,
			Open:      bus.open,
		})
		stop := keepStreaming(bus, left.Path)
		_, err := m.Rescan()
		require.NoError(t, err)
		waitEvent(t, m, device.EventConnected)

		// Go silent so the device disconnects itself, with a varying
		// head start before the teardown.
		stop()
		time.Sleep(time.Duration(i%8) * time.Millisecond)
		require.NotPanics(t, func() { _ = m.Close() })
		for range m.Events() {
		}
	}
}

func TestCloseEndsEventStream(t *testing.T) {
	left, _ := joyConPair()
	bus := newFakeBus(left)
	m := newManager(t, bus)
	stop := keepStreaming(bus, left.Path)
	defer stop()

	_, err := m.Rescan()
	require.NoError(t, err)
	waitEvent(t, m, device.EventConnected)

	require.NoError(t, m.Close())
	assert.True(t, bus.transport(left.Path).Closed())

	// The event channel drains and then closes.
	for {
		if _, ok := <-m.Events(); !ok {
			break
		}
	}
	assert.Empty(t, m.Devices())
}
