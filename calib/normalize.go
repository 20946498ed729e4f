package calib

import (
	"math"

	"github.com/joyline/joycore/report"
)

// DefaultDeadzone is the fraction of stick travel around center mapped to
// exactly zero when no deadzone is configured.
const DefaultDeadzone = 0.1

// Fixed IMU sensitivity at the ranges the driver configures (±8 G, ±2000
// °/s), applied after bias subtraction.
const (
	accelScaleG   = 0.000244       // g per LSB
	gyroScaleDegS = 0.06103        // °/s per LSB
	degToRad      = math.Pi / 180.0
)

// IMUSample is one IMU frame in physical units.
type IMUSample struct {
	// Accel is acceleration per axis in g.
	Accel [3]float64
	// Gyro is angular velocity per axis in rad/s.
	Gyro [3]float64
}

// NormalizeStick maps a raw stick sample through the calibration's
// center/min/max into [-1, 1] per axis. Values within deadzone of center
// map to exactly 0; beyond it the remaining travel is rescaled so full
// deflection stays 1.
func NormalizeStick(raw report.StickRaw, c StickCalibration, deadzone float64) (x, y float64) {
	x = normalizeAxis(raw.X, c.CenterX, c.MinX, c.MaxX, deadzone)
	y = normalizeAxis(raw.Y, c.CenterY, c.MinY, c.MaxY, deadzone)
	return x, y
}

func normalizeAxis(raw, center, min, max uint16, deadzone float64) float64 {
	d := float64(raw) - float64(center)
	var v float64
	if d >= 0 {
		if span := float64(max) - float64(center); span > 0 {
			v = d / span
		}
	} else {
		if span := float64(center) - float64(min); span > 0 {
			v = d / span
		}
	}
	v = math.Max(-1, math.Min(1, v))

	if math.Abs(v) < deadzone {
		return 0
	}
	if deadzone > 0 && deadzone < 1 {
		sign := 1.0
		if v < 0 {
			sign = -1
		}
		v = sign * (math.Abs(v) - deadzone) / (1 - deadzone)
	}
	return v
}

// NormalizeIMU converts one raw IMU frame into physical units by
// subtracting the calibrated zero offsets and applying the fixed
// full-scale sensitivity.
func NormalizeIMU(f report.IMUFrame, c IMUCalibration) IMUSample {
	var s IMUSample
	rawAccel := [3]int16{f.AccelX, f.AccelY, f.AccelZ}
	rawGyro := [3]int16{f.GyroX, f.GyroY, f.GyroZ}
	for i := 0; i < 3; i++ {
		s.Accel[i] = float64(rawAccel[i]-c.AccelOrigin[i]) * accelScaleG
		s.Gyro[i] = float64(rawGyro[i]-c.GyroOrigin[i]) * gyroScaleDegS * degToRad
	}
	return s
}

// ButtonEdges derives edge-triggered transitions between two button masks:
// pressed holds buttons down now but not before, released the inverse.
func ButtonEdges(prev, cur report.ButtonState) (pressed, released report.ButtonState) {
	diff := prev.DiffMask(cur)
	pressed = diff.Intersect(cur)
	released = diff.Intersect(prev)
	return pressed, released
}
