// Package report implements the Joy-Con HID report codec: decoding raw input
// report buffers into typed structures and encoding output reports
// (rumble, subcommands) into fixed-size byte buffers.
//
// Field positions follow the community-documented Joy-Con wire format and
// are treated as a fixed binary contract. A buffer that deviates from it
// produces ErrMalformedReport, never a panic.
package report

import "errors"

// ErrMalformedReport is returned when a buffer does not match any known
// report layout. The report is dropped; a single malformed report is not
// fatal to a session.
var ErrMalformedReport = errors.New("report: malformed report")

// Input report IDs (byte 0 of a device-to-host report).
const (
	// InputSubcommandReply carries an ack and reply payload for a previously
	// issued subcommand, plus a full button/stick snapshot.
	InputSubcommandReply byte = 0x21

	// InputStandardFull is the 60 Hz streaming report with buttons, sticks
	// and three IMU sub-frames.
	InputStandardFull byte = 0x30

	// InputSimple is the low-rate push report sent before streaming mode is
	// enabled. It carries a reduced button mask and a hat value.
	InputSimple byte = 0x3F
)

// Output report IDs (byte 0 of a host-to-device report).
const (
	// OutputRumbleSubcommand carries rumble data and one subcommand.
	OutputRumbleSubcommand byte = 0x01

	// OutputRumbleOnly carries rumble data without a subcommand.
	OutputRumbleOnly byte = 0x10
)

// Report sizes over Bluetooth. Both directions use fixed-length buffers;
// shorter input buffers are rejected as malformed.
const (
	InputReportLength  = 49
	OutputReportLength = 49

	// imuFrameLength is one accel+gyro sub-frame: 6 little-endian int16.
	imuFrameLength = 12
)

// Subcommand identifies a vendor-specific request carried in an 0x01 output
// report.
type Subcommand byte

const (
	SubcommandRequestDeviceInfo  Subcommand = 0x02
	SubcommandSetInputReportMode Subcommand = 0x03
	SubcommandSetShipmentState   Subcommand = 0x08
	SubcommandSPIFlashRead       Subcommand = 0x10
	SubcommandSetPlayerLights    Subcommand = 0x30
	SubcommandSetHomeLight       Subcommand = 0x38
	SubcommandEnableIMU          Subcommand = 0x40
	SubcommandEnableVibration    Subcommand = 0x48
)

func (s Subcommand) String() string {
	switch s {
	case SubcommandRequestDeviceInfo:
		return "RequestDeviceInfo"
	case SubcommandSetInputReportMode:
		return "SetInputReportMode"
	case SubcommandSetShipmentState:
		return "SetShipmentState"
	case SubcommandSPIFlashRead:
		return "SPIFlashRead"
	case SubcommandSetPlayerLights:
		return "SetPlayerLights"
	case SubcommandSetHomeLight:
		return "SetHomeLight"
	case SubcommandEnableIMU:
		return "EnableIMU"
	case SubcommandEnableVibration:
		return "EnableVibration"
	default:
		return "Unknown"
	}
}

// InputReportModeStandard is the SetInputReportMode argument that switches
// the controller into 60 Hz streaming (0x30 reports).
const InputReportModeStandard byte = 0x30

// Unpack12 splits three packed bytes into two 12-bit little-endian values.
// This packing is shared by stick axes in input reports and stick
// calibration blocks in SPI flash.
func Unpack12(b []byte) (uint16, uint16) {
	lo := uint16(b[0]) | uint16(b[1]&0x0F)<<8
	hi := uint16(b[1])>>4 | uint16(b[2])<<4
	return lo, hi
}

// Pack12 is the inverse of Unpack12.
func Pack12(b []byte, lo, hi uint16) {
	b[0] = byte(lo)
	b[1] = byte(lo>>8)&0x0F | byte(hi&0x0F)<<4
	b[2] = byte(hi >> 4)
}

// PlayerLightsPattern returns the LED bitmask for a 1-based player number:
// player N lights the first N of the four LEDs. Numbers outside 1..4 flash
// all four LEDs (upper nibble selects flashing).
func PlayerLightsPattern(player int) byte {
	if player >= 1 && player <= 4 {
		return byte(1<<player - 1)
	}
	return 0xF0
}
