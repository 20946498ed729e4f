// Package calib loads per-device calibration from the controller's SPI
// flash and normalizes raw report values into physical units: stick axes in
// [-1, 1] with a configurable deadzone, IMU samples in g and rad/s.
package calib

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/report"
)

// SPI flash addresses of the calibration areas.
const (
	spiFactoryIMU        uint32 = 0x6020
	spiFactoryStickLeft  uint32 = 0x603D
	spiFactoryStickRight uint32 = 0x6046
	spiUserStickLeftMag  uint32 = 0x8010
	spiUserStickLeft     uint32 = 0x8012
	spiUserStickRightMag uint32 = 0x801B
	spiUserStickRight    uint32 = 0x801D
	spiColors            uint32 = 0x6050

	stickBlockLen = 9
	imuBlockLen   = 24
)

// userCalMagic marks a user calibration block as written. Blank flash
// reads back 0xFF 0xFF.
var userCalMagic = [2]byte{0xB2, 0xA1}

// StickCalibration holds one stick's absolute center and travel bounds in
// raw 12-bit units.
type StickCalibration struct {
	CenterX, CenterY uint16
	MinX, MinY       uint16
	MaxX, MaxY       uint16
}

// IMUCalibration holds the IMU zero offsets in raw units.
type IMUCalibration struct {
	AccelOrigin [3]int16
	GyroOrigin  [3]int16
}

// Profile is the per-device calibration set, fetched once during
// initialization and shared read-only for the device's lifetime.
type Profile struct {
	Left  StickCalibration
	Right StickCalibration
	IMU   IMUCalibration

	// UserLeft/UserRight record whether a user calibration block overrode
	// the factory one.
	UserLeft  bool
	UserRight bool
}

// defaultStick is used when a calibration block is blank. Center and range
// match a typical factory-fresh stick.
var defaultStick = StickCalibration{
	CenterX: 2048, CenterY: 2048,
	MinX: 512, MinY: 512,
	MaxX: 3584, MaxY: 3584,
}

// DefaultProfile returns a profile with nominal values, used when the
// device has no readable calibration.
func DefaultProfile() *Profile {
	return &Profile{Left: defaultStick, Right: defaultStick}
}

// SPIReader reads a span of the controller's SPI flash. The device state
// machine implements this on top of the read-memory subcommand.
type SPIReader interface {
	SPIRead(ctx context.Context, addr uint32, n byte) ([]byte, error)
}

// Retry schedule for SPI reads during initialization.
var loadBackoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// Load fetches the calibration profile for the given controller kind. Each
// SPI read is retried up to three times with exponential backoff before the
// whole load fails; a failed load is fatal to initialization. Blank
// calibration blocks fall back to defaults and are not an error.
func Load(ctx context.Context, r SPIReader, kind hid.Kind) (*Profile, error) {
	p := DefaultProfile()

	if kind.HasLeftStick() {
		c, user, err := loadStick(ctx, r, spiFactoryStickLeft, spiUserStickLeftMag, spiUserStickLeft, false)
		if err != nil {
			return nil, fmt.Errorf("left stick calibration: %w", err)
		}
		p.Left, p.UserLeft = c, user
	}
	if kind.HasRightStick() {
		c, user, err := loadStick(ctx, r, spiFactoryStickRight, spiUserStickRightMag, spiUserStickRight, true)
		if err != nil {
			return nil, fmt.Errorf("right stick calibration: %w", err)
		}
		p.Right, p.UserRight = c, user
	}

	imuRaw, err := readWithRetry(ctx, r, spiFactoryIMU, imuBlockLen)
	if err != nil {
		return nil, fmt.Errorf("imu calibration: %w", err)
	}
	if !blank(imuRaw) {
		p.IMU = parseIMUBlock(imuRaw)
	}
	return p, nil
}

// LoadColors reads the shell and button colors. Color data is cosmetic;
// a blank block yields the default gray and no error.
func LoadColors(ctx context.Context, r SPIReader) (body, buttons [3]uint8, err error) {
	raw, err := readWithRetry(ctx, r, spiColors, 6)
	if err != nil {
		return body, buttons, err
	}
	if blank(raw) {
		return [3]uint8{0x82, 0x82, 0x82}, [3]uint8{0x0F, 0x0F, 0x0F}, nil
	}
	copy(body[:], raw[0:3])
	copy(buttons[:], raw[3:6])
	return body, buttons, nil
}

// loadStick prefers the user calibration block when its magic is present,
// otherwise reads the factory block.
func loadStick(ctx context.Context, r SPIReader, factory, userMagic, user uint32, right bool) (StickCalibration, bool, error) {
	magic, err := readWithRetry(ctx, r, userMagic, 2)
	if err != nil {
		return StickCalibration{}, false, err
	}
	addr, isUser := factory, false
	if magic[0] == userCalMagic[0] && magic[1] == userCalMagic[1] {
		addr, isUser = user, true
	}

	raw, err := readWithRetry(ctx, r, addr, stickBlockLen)
	if err != nil {
		return StickCalibration{}, false, err
	}
	if blank(raw) {
		return defaultStick, false, nil
	}
	return parseStickBlock(raw, right), isUser, nil
}

func readWithRetry(ctx context.Context, r SPIReader, addr uint32, n byte) ([]byte, error) {
	var lastErr error
	for attempt, wait := range loadBackoff {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		data, err := r.SPIRead(ctx, addr, n)
		if err == nil {
			if len(data) < int(n) {
				return nil, fmt.Errorf("spi read 0x%04X: short reply: %w", addr, hid.ErrUnsupported)
			}
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("spi read 0x%04X after %d attempts: %w", addr, len(loadBackoff), lastErr)
}

// parseStickBlock decodes a 9-byte stick calibration block: three 12-bit
// pairs. The factory layout stores them in different orders per side:
// left is (above-center, center, below-center), right is (center,
// below-center, above-center).
func parseStickBlock(b []byte, right bool) StickCalibration {
	p0x, p0y := report.Unpack12(b[0:3])
	p1x, p1y := report.Unpack12(b[3:6])
	p2x, p2y := report.Unpack12(b[6:9])

	var cx, cy, above, aboveY, below, belowY uint16
	if right {
		cx, cy = p0x, p0y
		below, belowY = p1x, p1y
		above, aboveY = p2x, p2y
	} else {
		above, aboveY = p0x, p0y
		cx, cy = p1x, p1y
		below, belowY = p2x, p2y
	}
	return StickCalibration{
		CenterX: cx, CenterY: cy,
		MinX: cx - below, MinY: cy - belowY,
		MaxX: cx + above, MaxY: cy + aboveY,
	}
}

// parseIMUBlock decodes the 24-byte factory IMU block: accel origin,
// accel sensitivity, gyro origin, gyro sensitivity as little-endian int16
// triples. Only the origins feed normalization; sensitivity uses the fixed
// full-scale constants.
func parseIMUBlock(b []byte) IMUCalibration {
	i16 := func(off int) int16 { return int16(binary.LittleEndian.Uint16(b[off : off+2])) }
	var c IMUCalibration
	for i := 0; i < 3; i++ {
		c.AccelOrigin[i] = i16(i * 2)
		c.GyroOrigin[i] = i16(12 + i*2)
	}
	return c
}

func blank(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}
