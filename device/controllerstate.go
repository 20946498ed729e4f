package device

import (
	"image/color"
	"time"

	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/report"
)

// ControllerState is the latest fully-processed view of one controller.
// The device loop is its only writer and publishes complete snapshots
// atomically; a reader never observes a partially-updated state. Edge
// fields (Pressed, Released) describe the transition into this snapshot
// relative to the previous one.
type ControllerState struct {
	Kind     hid.Kind
	Serial   string
	Firmware string

	// Buttons is the raw held mask; Pressed and Released are the buttons
	// that changed going into this snapshot.
	Buttons  report.ButtonState
	Pressed  report.ButtonState
	Released report.ButtonState

	// Calibrated stick deflections in [-1, 1] per axis. A Joy-Con exposes
	// only the stick its side carries; the other stays zero.
	LeftX, LeftY   float64
	RightX, RightY float64

	// IMU in physical units: acceleration in g, angular velocity in rad/s.
	// Zero while the IMU is disabled.
	Accel [3]float64
	Gyro  [3]float64

	// Battery level 0..8; Charging while externally powered.
	Battery  int
	Charging bool

	// Shell and button plastic colors from device memory. Alpha is 255
	// once the colors have been read.
	BodyColor   color.RGBA
	ButtonColor color.RGBA

	// Output status as last commanded.
	PlayerLights byte
	RumbleActive bool
	IMUEnabled   bool

	// Timer is the device's own report counter, useful for spotting
	// dropped reports.
	Timer     byte
	UpdatedAt time.Time
}

// Held reports whether the given button is down in this snapshot.
func (s *ControllerState) Held(b report.Button) bool { return s.Buttons.Get(b) }

// JustPressed reports whether the button went down on this snapshot.
func (s *ControllerState) JustPressed(b report.Button) bool { return s.Pressed.Get(b) }

// JustReleased reports whether the button came up on this snapshot.
func (s *ControllerState) JustReleased(b report.Button) bool { return s.Released.Get(b) }
