package report

import (
	"encoding/binary"
	"fmt"
)

// StickRaw holds one stick's unpacked 12-bit axes. Range is 0..4095 with
// roughly 2048 at center; exact center and range come from calibration.
type StickRaw struct {
	X, Y uint16
}

// IMUFrame is one accelerometer+gyroscope sub-frame. A standard report
// carries three frames sampled 5 ms apart, oldest first.
type IMUFrame struct {
	AccelX, AccelY, AccelZ int16
	GyroX, GyroY, GyroZ    int16
}

// InputReport is the decoded form of one raw input report. It is an
// immutable snapshot valid for a single read cycle.
type InputReport struct {
	ID    byte
	Timer byte

	// Battery level 0 (empty) to 8 (full); Charging is set while powered.
	Battery  int
	Charging bool
	ConnInfo byte

	Buttons    ButtonState
	LeftStick  StickRaw
	RightStick StickRaw

	VibratorAck byte

	// IMU sub-frames, oldest first. Valid only when HasIMU is set
	// (streaming reports with the IMU enabled).
	IMU    [3]IMUFrame
	HasIMU bool

	// Subcommand reply fields, set only for InputSubcommandReply.
	Acked     bool
	ReplyTo   Subcommand
	ReplyData []byte

	// Simple-report fields, set only for InputSimple.
	PushButtons uint16
	Hat         byte
}

// Decode parses one raw input report buffer. The buffer must begin with a
// known report ID and be long enough for that report type; anything else is
// ErrMalformedReport.
func Decode(buf []byte) (*InputReport, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty buffer: %w", ErrMalformedReport)
	}
	switch buf[0] {
	case InputStandardFull:
		return decodeStandard(buf)
	case InputSubcommandReply:
		return decodeSubcommandReply(buf)
	case InputSimple:
		return decodeSimple(buf)
	default:
		return nil, fmt.Errorf("unknown report ID 0x%02X: %w", buf[0], ErrMalformedReport)
	}
}

// decodeCommon extracts the prefix shared by 0x21 and 0x30 reports:
// timer, battery nibble, buttons and both sticks.
func decodeCommon(buf []byte) *InputReport {
	r := &InputReport{
		ID:          buf[0],
		Timer:       buf[1],
		Battery:     int(buf[2]>>4) &^ 1,
		Charging:    buf[2]>>4&1 != 0,
		ConnInfo:    buf[2] & 0x0F,
		Buttons:     ButtonsFromSlice(buf[3:6]),
		VibratorAck: buf[12],
	}
	r.LeftStick.X, r.LeftStick.Y = Unpack12(buf[6:9])
	r.RightStick.X, r.RightStick.Y = Unpack12(buf[9:12])
	return r
}

func decodeStandard(buf []byte) (*InputReport, error) {
	if len(buf) < 13 {
		return nil, fmt.Errorf("standard report too short (%d bytes): %w", len(buf), ErrMalformedReport)
	}
	r := decodeCommon(buf)
	if len(buf) >= 13+3*imuFrameLength {
		for i := range r.IMU {
			off := 13 + i*imuFrameLength
			r.IMU[i] = decodeIMUFrame(buf[off : off+imuFrameLength])
		}
		r.HasIMU = true
	}
	return r, nil
}

func decodeSubcommandReply(buf []byte) (*InputReport, error) {
	if len(buf) < 15 {
		return nil, fmt.Errorf("subcommand reply too short (%d bytes): %w", len(buf), ErrMalformedReport)
	}
	r := decodeCommon(buf)
	r.Acked = buf[13]&0x80 != 0
	r.ReplyTo = Subcommand(buf[14])
	if len(buf) > 15 {
		r.ReplyData = append([]byte(nil), buf[15:]...)
	}
	return r, nil
}

func decodeSimple(buf []byte) (*InputReport, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("simple report too short (%d bytes): %w", len(buf), ErrMalformedReport)
	}
	return &InputReport{
		ID:          buf[0],
		PushButtons: binary.LittleEndian.Uint16(buf[1:3]),
		Hat:         buf[3],
	}, nil
}

func decodeIMUFrame(b []byte) IMUFrame {
	i16 := func(off int) int16 { return int16(binary.LittleEndian.Uint16(b[off : off+2])) }
	return IMUFrame{
		AccelX: i16(0), AccelY: i16(2), AccelZ: i16(4),
		GyroX: i16(6), GyroY: i16(8), GyroZ: i16(10),
	}
}
