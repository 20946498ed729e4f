package device

import (
	"errors"

	"github.com/joyline/joycore/report"
)

// ErrNotReady is returned for commands submitted while the device is not in
// a state that accepts them. Such commands are never queued.
var ErrNotReady = errors.New("device: not ready")

// ErrQueueFull is returned when the command queue is saturated with
// higher-priority work and the submitted command would be the one dropped.
var ErrQueueFull = errors.New("device: command queue full")

// commandQueueCap bounds the outgoing command queue. The device loop drains
// it between reads, so it only fills when the consumer outruns the report
// rate.
const commandQueueCap = 8

// Command is an output request for the controller. The concrete types form
// a closed union; each is consumed exactly once by the device loop.
type Command interface {
	isCommand()
}

// SetPlayerLights sets the four player LEDs to the given bitmask. The low
// nibble selects solid LEDs, the high nibble flashing ones (see
// report.PlayerLightsPattern).
type SetPlayerLights struct {
	Pattern byte
}

// SetRumble plays a waveform on both actuators. Rumble has priority over
// other commands when the queue is full.
type SetRumble struct {
	Left  report.Vibration
	Right report.Vibration
}

// SetImuEnabled switches the inertial sensor on or off. While off,
// published snapshots keep zero IMU values.
type SetImuEnabled struct {
	Enabled bool
}

// RequestCalibration reloads the calibration profile from the device. A
// failed reload keeps the previous profile and is not fatal.
type RequestCalibration struct{}

func (SetPlayerLights) isCommand()    {}
func (SetRumble) isCommand()          {}
func (SetImuEnabled) isCommand()      {}
func (RequestCalibration) isCommand() {}

// active reports whether the rumble command actually moves an actuator.
func (c SetRumble) active() bool {
	return c.Left.HiAmp > 0 || c.Left.LoAmp > 0 || c.Right.HiAmp > 0 || c.Right.LoAmp > 0
}
