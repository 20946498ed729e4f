package device_test

import (
	"sync"
	"testing"
	"time"

	"github.com/joyline/joycore/device"
	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/internal/hidtest"
	"github.com/joyline/joycore/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventSink collects lifecycle events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []device.Event
}

func (s *eventSink) notify(ev device.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) ofType(t device.EventType) []device.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []device.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func leftJoyConInfo() hid.DeviceInfo {
	return hid.DeviceInfo{
		Path:      "fake/0",
		VendorID:  hid.VendorNintendo,
		ProductID: hid.ProductJoyConLeft,
		Serial:    "94:58:cb:00:00:01",
	}
}

func startDevice(t *testing.T, f *hidtest.Transport, sink *eventSink, mut func(*device.Options)) *device.Device {
	t.Helper()
	opts := device.Options{
		ReadTimeout: 50 * time.Millisecond,
		AckTimeout:  250 * time.Millisecond,
	}
	if sink != nil {
		opts.Notify = sink.notify
	}
	if mut != nil {
		mut(&opts)
	}
	d := device.New(leftJoyConInfo(), f, opts)
	d.Start()
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitForState(t *testing.T, d *device.Device, want device.State) {
	t.Helper()
	require.Eventually(t, func() bool { return d.State() == want },
		2*time.Second, 5*time.Millisecond, "state %s never reached (now %s)", want, d.State())
}

func TestHandshakeReachesStreaming(t *testing.T) {
	f := hidtest.New(0x01)
	sink := &eventSink{}
	d := startDevice(t, f, sink, nil)

	waitForState(t, d, device.StateStreaming)

	// One connected event, fired from StateReady.
	connected := sink.ofType(device.EventConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, device.StateReady, connected[0].State)
	assert.Equal(t, hid.KindJoyConLeft, connected[0].Kind)
	assert.Equal(t, "94:58:cb:00:00:01", connected[0].Serial)

	// The init sequence issued each required subcommand exactly once.
	for _, sc := range []report.Subcommand{
		report.SubcommandRequestDeviceInfo,
		report.SubcommandSetShipmentState,
		report.SubcommandEnableVibration,
		report.SubcommandEnableIMU,
		report.SubcommandSetInputReportMode,
	} {
		assert.Len(t, f.SubcommandWrites(sc), 1, "subcommand %s", sc)
	}

	s := d.Snapshot()
	assert.Equal(t, "3.72", s.Firmware)
	assert.True(t, s.IMUEnabled)
}

func TestDisableIMUSkipsEnable(t *testing.T) {
	f := hidtest.New(0x01)
	d := startDevice(t, f, nil, func(o *device.Options) { o.DisableIMU = true })

	waitForState(t, d, device.StateStreaming)
	assert.Empty(t, f.SubcommandWrites(report.SubcommandEnableIMU))
	assert.False(t, d.Snapshot().IMUEnabled)
}

func TestPublishNormalizesAgainstCalibration(t *testing.T) {
	f := hidtest.New(0x01)
	// Factory left calibration: center (2048, 2048), min 500, max 3600.
	f.SPI[0x603D] = hidtest.StickBlock(1552, 1552, 2048, 2048, 1548, 1548)
	d := startDevice(t, f, nil, nil)
	waitForState(t, d, device.StateStreaming)

	f.Inject(hidtest.StandardReport(func(b []byte) {
		b[1] = 7    // timer
		b[3] = 0x08 // A held
	}))

	require.Eventually(t, func() bool { return d.Snapshot().Buttons.Get(report.ButtonA) },
		time.Second, 5*time.Millisecond)

	s := d.Snapshot()
	assert.Zero(t, s.LeftX)
	assert.Zero(t, s.LeftY)
	assert.True(t, s.JustPressed(report.ButtonA))
	assert.Equal(t, 8, s.Battery)
	assert.False(t, s.Charging)
	assert.Equal(t, byte(7), s.Timer)

	// Full deflection reaches exactly +1 after the deadzone rescale.
	f.Inject(hidtest.StandardReport(func(b []byte) {
		b[3] = 0x08
		report.Pack12(b[6:9], 3600, 3600)
	}))
	require.Eventually(t, func() bool { return d.Snapshot().LeftX == 1 },
		time.Second, 5*time.Millisecond)
	s = d.Snapshot()
	assert.Equal(t, 1.0, s.LeftY)
	// A was already held, so there is no fresh press edge.
	assert.False(t, s.JustPressed(report.ButtonA))
	assert.True(t, s.Held(report.ButtonA))
}

func TestMalformedReportKeepsLastState(t *testing.T) {
	f := hidtest.New(0x01)
	d := startDevice(t, f, nil, nil)
	waitForState(t, d, device.StateStreaming)

	f.Inject(hidtest.StandardReport(func(b []byte) { b[3] = 0x08 }))
	require.Eventually(t, func() bool { return d.Snapshot().Buttons.Get(report.ButtonA) },
		time.Second, 5*time.Millisecond)
	before := d.Snapshot()

	f.Inject([]byte{0x99, 0xDE, 0xAD})
	require.Eventually(t, func() bool { return d.MalformedReports() >= 1 },
		time.Second, 5*time.Millisecond)

	assert.Equal(t, device.StateStreaming, d.State())
	assert.Same(t, before, d.Snapshot())
}

func TestConsecutiveTimeoutsDisconnect(t *testing.T) {
	f := hidtest.New(0x01)
	sink := &eventSink{}
	d := startDevice(t, f, sink, func(o *device.Options) { o.ReadTimeout = 20 * time.Millisecond })
	waitForState(t, d, device.StateStreaming)

	// Stop feeding reports; three consecutive read timeouts end the session.
	waitForState(t, d, device.StateDisconnected)

	require.Eventually(t, func() bool { return len(sink.ofType(device.EventDisconnected)) == 1 },
		time.Second, 5*time.Millisecond)
	disconnected := sink.ofType(device.EventDisconnected)
	require.Len(t, disconnected, 1)
	assert.ErrorIs(t, disconnected[0].Err, hid.ErrTimeout)
	assert.True(t, f.Closed())

	// Disconnection is terminal and idempotent: no second event shows up
	// and commands are refused.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.ofType(device.EventDisconnected), 1)
	assert.ErrorIs(t, d.Send(device.SetRumble{}), device.ErrNotReady)
}

func TestSendBeforeStartRejected(t *testing.T) {
	f := hidtest.New(0x01)
	d := device.New(leftJoyConInfo(), f, device.Options{})

	err := d.Send(device.SetPlayerLights{Pattern: 0x01})
	assert.ErrorIs(t, err, device.ErrNotReady)
	require.NoError(t, d.Close())
}

func TestPlayerLightsCommandWritten(t *testing.T) {
	f := hidtest.New(0x01)
	d := startDevice(t, f, nil, nil)
	waitForState(t, d, device.StateStreaming)

	require.NoError(t, d.Send(device.SetPlayerLights{Pattern: 0x03}))

	require.Eventually(t, func() bool { return len(f.SubcommandWrites(report.SubcommandSetPlayerLights)) == 1 },
		time.Second, 5*time.Millisecond)
	w := f.SubcommandWrites(report.SubcommandSetPlayerLights)[0]
	assert.Equal(t, byte(0x03), w[11])

	require.Eventually(t, func() bool { return d.Snapshot().PlayerLights == 0x03 },
		time.Second, 5*time.Millisecond)
}

func TestRumbleCommandWritten(t *testing.T) {
	f := hidtest.New(0x01)
	d := startDevice(t, f, nil, nil)
	waitForState(t, d, device.StateStreaming)

	pulse := report.Resonant(160, 0.5)
	require.NoError(t, d.Send(device.SetRumble{Left: pulse, Right: pulse}))

	require.Eventually(t, func() bool { return d.Snapshot().RumbleActive },
		time.Second, 5*time.Millisecond)

	var rumble [][]byte
	for _, w := range f.Writes() {
		if len(w) > 0 && w[0] == report.OutputRumbleOnly {
			rumble = append(rumble, w)
		}
	}
	require.Len(t, rumble, 1)
	want := report.Encode(pulse, pulse)
	assert.Equal(t, want[:], rumble[0][2:10])

	// Returning to the neutral waveform clears the active flag.
	require.NoError(t, d.Send(device.SetRumble{
		Left:  report.VibrationNeutral,
		Right: report.VibrationNeutral,
	}))
	require.Eventually(t, func() bool { return !d.Snapshot().RumbleActive },
		time.Second, 5*time.Millisecond)
}

func TestQueueOverflowPolicy(t *testing.T) {
	f := hidtest.New(0x01)
	// A long read timeout keeps the loop parked in Read while the queue
	// fills; nothing drains between the Send calls below.
	d := startDevice(t, f, nil, func(o *device.Options) { o.ReadTimeout = 2 * time.Second })
	waitForState(t, d, device.StateStreaming)
	time.Sleep(50 * time.Millisecond)

	// Fill the queue with rumble only: a non-rumble command is refused.
	for i := 0; i < 8; i++ {
		require.NoError(t, d.Send(device.SetRumble{}))
	}
	assert.ErrorIs(t, d.Send(device.SetPlayerLights{Pattern: 0x01}), device.ErrQueueFull)

	// Another rumble is still accepted; the oldest queued rumble is dropped.
	assert.NoError(t, d.Send(device.SetRumble{Left: report.Resonant(320, 1)}))
}

func TestQueueOverflowDropsOldestNonRumble(t *testing.T) {
	f := hidtest.New(0x01)
	d := startDevice(t, f, nil, func(o *device.Options) { o.ReadTimeout = 2 * time.Second })
	waitForState(t, d, device.StateStreaming)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, d.Send(device.SetPlayerLights{Pattern: 0x01}))
	for i := 0; i < 7; i++ {
		require.NoError(t, d.Send(device.SetRumble{}))
	}
	// Queue is full but holds a non-rumble command, so room is made.
	assert.NoError(t, d.Send(device.SetImuEnabled{Enabled: false}))
}

func TestUnackedSubcommandFailsHandshake(t *testing.T) {
	f := hidtest.New(0x01)
	f.NoAck[report.SubcommandSetShipmentState] = true
	sink := &eventSink{}
	d := startDevice(t, f, sink, func(o *device.Options) {
		o.ReadTimeout = 10 * time.Millisecond
		o.AckTimeout = 30 * time.Millisecond
	})

	waitForState(t, d, device.StateDisconnected)

	errs := sink.ofType(device.EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, hid.ErrTimeout)
	// The request was retried before giving up.
	assert.Len(t, f.SubcommandWrites(report.SubcommandSetShipmentState), 3)
	assert.Empty(t, sink.ofType(device.EventConnected))
}

func TestExchangeErrorReflectsFinalAttempt(t *testing.T) {
	// Rejections on early attempts must not mask the timeout that
	// actually ends the exchange.
	f := hidtest.New(0x01)
	f.Reject[report.SubcommandRequestDeviceInfo] = 2
	f.NoAck[report.SubcommandRequestDeviceInfo] = true
	sink := &eventSink{}
	d := startDevice(t, f, sink, func(o *device.Options) {
		o.ReadTimeout = 10 * time.Millisecond
		o.AckTimeout = 30 * time.Millisecond
	})

	waitForState(t, d, device.StateDisconnected)

	errs := sink.ofType(device.EventError)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, hid.ErrTimeout)
	assert.Len(t, f.SubcommandWrites(report.SubcommandRequestDeviceInfo), 3)
}

func TestRejectedSubcommandSurfaced(t *testing.T) {
	f := hidtest.New(0x01)
	f.Reject[report.SubcommandRequestDeviceInfo] = 3
	sink := &eventSink{}
	d := startDevice(t, f, sink, func(o *device.Options) {
		o.ReadTimeout = 10 * time.Millisecond
		o.AckTimeout = 30 * time.Millisecond
	})

	waitForState(t, d, device.StateDisconnected)

	errs := sink.ofType(device.EventError)
	require.Len(t, errs, 1)
	assert.NotErrorIs(t, errs[0].Err, hid.ErrTimeout)
	assert.Contains(t, errs[0].Err.Error(), "rejected")
}

func TestCloseIsIdempotent(t *testing.T) {
	f := hidtest.New(0x01)
	d := startDevice(t, f, nil, nil)
	waitForState(t, d, device.StateStreaming)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, device.StateDisconnected, d.State())
}

func TestStaleReplyDiscarded(t *testing.T) {
	f := hidtest.New(0x01)
	// Seed a stale reply ahead of the handshake: the device info exchange
	// must skip it and still complete against the matching reply.
	f.Inject(f.Reply(report.SubcommandSetHomeLight, nil))
	d := startDevice(t, f, nil, nil)

	waitForState(t, d, device.StateStreaming)
	assert.Equal(t, "3.72", d.Snapshot().Firmware)
}
