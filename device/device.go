// Package device implements the per-controller state machine: it owns the
// transport handle, runs the initialization subcommand sequence, streams and
// publishes input state, and drains outgoing commands.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joyline/joycore/calib"
	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/internal/log"
	"github.com/joyline/joycore/report"
)

// Options configures one device. The zero value gets sensible defaults from
// applyDefaults.
type Options struct {
	// Deadzone is the stick deadzone fraction. Default 0.1.
	Deadzone float64

	// ReadTimeout bounds a single transport read. Default 200ms.
	ReadTimeout time.Duration

	// AckTimeout bounds one wait for a subcommand acknowledgement before
	// the request is retried. Default 500ms.
	AckTimeout time.Duration

	// Retries is how many times an unacknowledged initialization
	// subcommand is reissued before the device fails. Default 3.
	Retries int

	// EnableIMU requests inertial data during initialization. Default true
	// (disable with the explicit false in NewOptions-style literals by
	// setting DisableIMU).
	DisableIMU bool

	// Notify receives lifecycle events. Called from the device goroutine;
	// must not block. Optional.
	Notify func(Event)

	Logger *slog.Logger
	Raw    log.RawLogger
}

func (o *Options) applyDefaults() {
	if o.Deadzone == 0 {
		o.Deadzone = calib.DefaultDeadzone
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 200 * time.Millisecond
	}
	if o.AckTimeout == 0 {
		o.AckTimeout = 500 * time.Millisecond
	}
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Raw == nil {
		o.Raw = log.NewRaw(nil)
	}
}

// maxReadTimeouts is how many consecutive streaming read timeouts are
// tolerated before the device is treated as gone.
const maxReadTimeouts = 3

// Device is one open controller. Create with New, drive with Start, stop
// with Close. All I/O happens on the device's own goroutine.
type Device struct {
	info   hid.DeviceInfo
	tr     hid.Transport
	opts   Options
	logger *slog.Logger
	raw    log.RawLogger

	enc report.Encoder // loop-owned

	mu     sync.Mutex
	state  State
	queue  []Command
	closed bool

	// kind starts from the product ID and is refined by the device-info
	// reply during handshake. Loop-owned after Start.
	kind     hid.Kind
	firmware string
	profile  *calib.Profile

	snapshot  atomic.Pointer[ControllerState]
	malformed atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started bool
}

// New wraps an open transport. The device stays in StateDisconnected until
// Start is called; the transport is owned by the device from here on and is
// closed on every exit path.
func New(info hid.DeviceInfo, tr hid.Transport, opts Options) *Device {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		info:   info,
		tr:     tr,
		opts:   opts,
		logger: opts.Logger.With("device", info.Serial, "kind", info.Kind().String()),
		raw:    opts.Raw,
		kind:   info.Kind(),
		state:  StateDisconnected,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.snapshot.Store(&ControllerState{Kind: d.kind, Serial: info.Serial})
	return d
}

// Info returns the enumeration record this device was opened from.
func (d *Device) Info() hid.DeviceInfo { return d.info }

// Kind returns the controller kind, refined by the handshake when known.
func (d *Device) Kind() hid.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.kind
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Snapshot returns the latest published ControllerState. The returned value
// is immutable; successive calls may return the same pointer until a new
// report is processed.
func (d *Device) Snapshot() *ControllerState {
	return d.snapshot.Load()
}

// MalformedReports returns how many undecodable reports were dropped.
func (d *Device) MalformedReports() uint64 { return d.malformed.Load() }

// Start launches the device goroutine: handshake, calibration, then the
// streaming loop. Start may be called once.
func (d *Device) Start() {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.state = StateHandshaking
	d.mu.Unlock()
	go d.run()
}

// Close tears the device down: the in-flight read aborts within the
// transport's own timeout, the loop exits and the handle is released.
// Close is idempotent and returns after the loop has finished.
func (d *Device) Close() error {
	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	started := d.started
	d.mu.Unlock()

	d.cancel()
	if !started {
		// No loop to unwind; release the handle here.
		if !alreadyClosed {
			d.transitionDisconnected(nil)
		}
		return d.tr.Close()
	}
	<-d.done
	return nil
}

// Send submits an output command. Commands are accepted only in StateReady
// and StateStreaming; otherwise ErrNotReady is returned and nothing is
// written. When the queue is full the oldest non-rumble command is dropped
// to make room; if only rumble is queued and the new command is not rumble,
// the new command is rejected with ErrQueueFull.
func (d *Device) Send(cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.acceptsCommands() {
		return fmt.Errorf("state %s: %w", d.state, ErrNotReady)
	}

	if len(d.queue) >= commandQueueCap {
		dropped := false
		for i, q := range d.queue {
			if _, isRumble := q.(SetRumble); !isRumble {
				d.queue = append(d.queue[:i], d.queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			if _, isRumble := cmd.(SetRumble); !isRumble {
				return ErrQueueFull
			}
			d.queue = d.queue[1:]
		}
	}
	d.queue = append(d.queue, cmd)
	return nil
}

// run is the device goroutine body.
func (d *Device) run() {
	defer close(d.done)
	defer d.tr.Close()

	if err := d.handshake(); err != nil {
		d.fail(fmt.Errorf("handshake: %w", err))
		return
	}

	d.setState(StateCalibrating)
	if err := d.loadCalibration(); err != nil {
		d.fail(fmt.Errorf("calibration: %w", err))
		return
	}

	d.setState(StateReady)
	d.notify(Event{Type: EventConnected, State: StateReady})

	if _, err := d.exchange(report.SubcommandSetInputReportMode, []byte{report.InputReportModeStandard}); err != nil {
		d.fail(fmt.Errorf("enable streaming: %w", err))
		return
	}
	d.setState(StateStreaming)
	d.logger.Info("streaming", "firmware", d.firmware)

	d.stream()
}

// handshake identifies the controller and prepares it for streaming.
func (d *Device) handshake() error {
	rep, err := d.exchange(report.SubcommandRequestDeviceInfo, nil)
	if err != nil {
		return err
	}
	d.applyDeviceInfo(rep.ReplyData)

	if _, err := d.exchange(report.SubcommandSetShipmentState, []byte{0x00}); err != nil {
		return err
	}
	if _, err := d.exchange(report.SubcommandEnableVibration, []byte{0x01}); err != nil {
		return err
	}
	if !d.opts.DisableIMU {
		if _, err := d.exchange(report.SubcommandEnableIMU, []byte{0x01}); err != nil {
			return err
		}
	}
	return nil
}

// applyDeviceInfo parses the RequestDeviceInfo reply: firmware version in
// bytes 0-1, controller type in byte 2.
func (d *Device) applyDeviceInfo(data []byte) {
	if len(data) < 3 {
		return
	}
	kind := d.kind
	switch data[2] {
	case 0x01:
		kind = hid.KindJoyConLeft
	case 0x02:
		kind = hid.KindJoyConRight
	case 0x03:
		kind = hid.KindProController
	}
	fw := fmt.Sprintf("%d.%02d", data[0], data[1])

	d.mu.Lock()
	d.kind = kind
	d.firmware = fw
	d.mu.Unlock()
	d.logger.Debug("device identified", "kind", kind.String(), "firmware", fw)
}

// loadCalibration fetches the calibration profile and the cosmetic colors,
// then seeds the published snapshot.
func (d *Device) loadCalibration() error {
	profile, err := calib.Load(d.ctx, d, d.kind)
	if err != nil {
		return err
	}
	d.profile = profile

	base := &ControllerState{
		Kind:       d.kind,
		Serial:     d.info.Serial,
		Firmware:   d.firmware,
		IMUEnabled: !d.opts.DisableIMU,
		UpdatedAt:  time.Now(),
	}
	body, buttons, err := calib.LoadColors(d.ctx, d)
	if err != nil {
		// Colors are cosmetic; a failed read is not fatal.
		d.logger.Warn("color read failed", "error", err)
	} else {
		base.BodyColor = color.RGBA{R: body[0], G: body[1], B: body[2], A: 255}
		base.ButtonColor = color.RGBA{R: buttons[0], G: buttons[1], B: buttons[2], A: 255}
	}
	d.snapshot.Store(base)
	return nil
}

// SPIRead implements calib.SPIReader on top of the read-memory subcommand.
// The reply must echo the requested address and length; a mismatched echo
// is a stale or corrupt reply.
func (d *Device) SPIRead(ctx context.Context, addr uint32, n byte) ([]byte, error) {
	if n > report.SPIMaxRead {
		return nil, fmt.Errorf("spi read of %d bytes: %w", n, hid.ErrUnsupported)
	}
	rep, err := d.exchange(report.SubcommandSPIFlashRead, report.SPIReadArgs(addr, n))
	if err != nil {
		return nil, err
	}
	if len(rep.ReplyData) < 5+int(n) {
		return nil, fmt.Errorf("spi reply truncated: %w", report.ErrMalformedReport)
	}
	if binary.LittleEndian.Uint32(rep.ReplyData[0:4]) != addr || rep.ReplyData[4] != n {
		return nil, fmt.Errorf("spi reply echo mismatch: %w", report.ErrMalformedReport)
	}
	return rep.ReplyData[5 : 5+int(n)], nil
}

// exchange writes one subcommand and waits for its acknowledgement,
// reissuing the request up to Retries times. Replies for other subcommands
// are stale responses: discarded, never fatal. Streaming input reports that
// arrive meanwhile are ignored.
func (d *Device) exchange(sc report.Subcommand, args []byte) (*report.InputReport, error) {
	buf := make([]byte, 256)
	var lastErr error

	for attempt := 0; attempt < d.opts.Retries; attempt++ {
		// Each attempt reports its own outcome; an earlier rejection must
		// not mask a later timeout.
		lastErr = nil
		if err := d.ctx.Err(); err != nil {
			return nil, hid.ErrDisconnected
		}

		pkt := d.enc.EncodeSubcommand(sc, args, report.RumbleNeutral)
		d.raw.Log(false, pkt)
		if _, err := d.tr.Write(pkt); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(d.opts.AckTimeout)
		for time.Now().Before(deadline) {
			if err := d.ctx.Err(); err != nil {
				return nil, hid.ErrDisconnected
			}
			n, err := d.tr.Read(buf, d.opts.ReadTimeout)
			if errors.Is(err, hid.ErrTimeout) {
				continue
			}
			if err != nil {
				return nil, err
			}
			d.raw.Log(true, buf[:n])

			rep, derr := report.Decode(buf[:n])
			if derr != nil {
				d.malformed.Add(1)
				continue
			}
			if rep.ID != report.InputSubcommandReply {
				continue
			}
			if rep.ReplyTo != sc {
				d.logger.Log(d.ctx, log.LevelTrace, "stale subcommand reply",
					"want", sc.String(), "got", rep.ReplyTo.String())
				continue
			}
			if !rep.Acked {
				lastErr = fmt.Errorf("subcommand %s rejected by device", sc)
				break
			}
			return rep, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("subcommand %s: no acknowledgement: %w", sc, hid.ErrTimeout)
		}
	}
	return nil, lastErr
}

// stream is the steady-state read/decode/normalize/publish loop.
func (d *Device) stream() {
	buf := make([]byte, 256)
	timeouts := 0

	for {
		select {
		case <-d.ctx.Done():
			d.transitionDisconnected(nil)
			return
		default:
		}

		if err := d.drainCommands(); err != nil {
			d.fail(fmt.Errorf("command write: %w", err))
			return
		}

		n, err := d.tr.Read(buf, d.opts.ReadTimeout)
		if errors.Is(err, hid.ErrTimeout) {
			timeouts++
			if timeouts >= maxReadTimeouts {
				d.transitionDisconnected(fmt.Errorf("no reports after %d reads: %w", timeouts, hid.ErrTimeout))
				return
			}
			continue
		}
		if err != nil {
			d.transitionDisconnected(err)
			return
		}
		timeouts = 0
		d.raw.Log(true, buf[:n])

		rep, derr := report.Decode(buf[:n])
		if derr != nil {
			// A bad report is dropped; the published state stays at the
			// last fully-processed report.
			d.malformed.Add(1)
			d.logger.Log(d.ctx, log.LevelTrace, "dropped malformed report", "error", derr)
			continue
		}
		d.publish(rep)
	}
}

// drainCommands pops everything queued and writes it out.
func (d *Device) drainCommands() error {
	d.mu.Lock()
	cmds := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, cmd := range cmds {
		if err := d.writeCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) writeCommand(cmd Command) error {
	switch c := cmd.(type) {
	case SetRumble:
		pkt := d.enc.EncodeRumble(report.Encode(c.Left, c.Right))
		d.raw.Log(false, pkt)
		if _, err := d.tr.Write(pkt); err != nil {
			return err
		}
		d.mutateSnapshot(func(s *ControllerState) { s.RumbleActive = c.active() })

	case SetPlayerLights:
		pkt := d.enc.EncodeSubcommand(report.SubcommandSetPlayerLights, []byte{c.Pattern}, report.RumbleNeutral)
		d.raw.Log(false, pkt)
		if _, err := d.tr.Write(pkt); err != nil {
			return err
		}
		d.mutateSnapshot(func(s *ControllerState) { s.PlayerLights = c.Pattern })

	case SetImuEnabled:
		arg := byte(0x00)
		if c.Enabled {
			arg = 0x01
		}
		pkt := d.enc.EncodeSubcommand(report.SubcommandEnableIMU, []byte{arg}, report.RumbleNeutral)
		d.raw.Log(false, pkt)
		if _, err := d.tr.Write(pkt); err != nil {
			return err
		}
		d.mutateSnapshot(func(s *ControllerState) {
			s.IMUEnabled = c.Enabled
			if !c.Enabled {
				s.Accel = [3]float64{}
				s.Gyro = [3]float64{}
			}
		})

	case RequestCalibration:
		profile, err := calib.Load(d.ctx, d, d.kind)
		if err != nil {
			// Keep the profile we have; a reload failure mid-session is
			// not worth dropping the connection for.
			d.logger.Warn("calibration reload failed", "error", err)
			return nil
		}
		d.profile = profile
		d.logger.Info("calibration reloaded")
	}
	return nil
}

// publish turns one decoded report into the next ControllerState snapshot.
// The snapshot is replaced wholesale so readers never see partial updates.
func (d *Device) publish(rep *report.InputReport) {
	if rep.ID == report.InputSimple {
		// Push reports only occur before streaming mode is active.
		return
	}

	prev := d.snapshot.Load()
	next := *prev

	next.Buttons = rep.Buttons
	next.Pressed, next.Released = calib.ButtonEdges(prev.Buttons, rep.Buttons)

	if d.kind.HasLeftStick() {
		next.LeftX, next.LeftY = calib.NormalizeStick(rep.LeftStick, d.profile.Left, d.opts.Deadzone)
	}
	if d.kind.HasRightStick() {
		next.RightX, next.RightY = calib.NormalizeStick(rep.RightStick, d.profile.Right, d.opts.Deadzone)
	}

	if rep.HasIMU && next.IMUEnabled {
		// Sub-frames are oldest first; the last one is the freshest sample.
		sample := calib.NormalizeIMU(rep.IMU[2], d.profile.IMU)
		next.Accel = sample.Accel
		next.Gyro = sample.Gyro
	}

	next.Battery = rep.Battery
	next.Charging = rep.Charging
	next.Timer = rep.Timer
	next.UpdatedAt = time.Now()

	d.snapshot.Store(&next)
}

// mutateSnapshot applies a small output-status change as a fresh snapshot.
func (d *Device) mutateSnapshot(fn func(*ControllerState)) {
	next := *d.snapshot.Load()
	fn(&next)
	d.snapshot.Store(&next)
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.logger.Debug("state", "state", s.String())
}

// fail routes an unrecoverable error through StateError and then performs
// the disconnect cleanup.
func (d *Device) fail(err error) {
	d.logger.Error("device failed", "error", err)
	d.setState(StateError)
	d.notify(Event{Type: EventError, State: StateError, Err: err})
	d.transitionDisconnected(err)
}

// transitionDisconnected moves to StateDisconnected exactly once, releasing
// the transport and rejecting queued commands. Later calls are no-ops, so a
// fourth read timeout after disconnection has no further effect.
func (d *Device) transitionDisconnected(err error) {
	d.mu.Lock()
	if d.state == StateDisconnected && d.started {
		d.mu.Unlock()
		return
	}
	wasDisconnected := d.state == StateDisconnected && !d.started
	d.state = StateDisconnected
	d.queue = nil
	d.mu.Unlock()

	_ = d.tr.Close()
	if wasDisconnected {
		return
	}
	if err != nil {
		d.logger.Warn("disconnected", "error", err)
	} else {
		d.logger.Info("disconnected")
	}
	d.notify(Event{Type: EventDisconnected, State: StateDisconnected, Err: err})
}

func (d *Device) notify(ev Event) {
	ev.Serial = d.info.Serial
	ev.Path = d.info.Path
	ev.Kind = d.Kind()
	if d.opts.Notify != nil {
		d.opts.Notify(ev)
	}
}
