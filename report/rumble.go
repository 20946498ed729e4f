package report

import "math"

// RumbleData is the packed 8-byte rumble payload of an output report:
// 4 bytes for the left actuator followed by 4 for the right.
type RumbleData [8]byte

// RumbleNeutral commands both actuators off (320 Hz / 160 Hz carriers at
// zero amplitude, the documented rest encoding).
var RumbleNeutral = RumbleData{0x00, 0x01, 0x40, 0x40, 0x00, 0x01, 0x40, 0x40}

// Vibration describes one actuator's dual-band waveform in physical units.
// The hardware plays a high band and a low band simultaneously; each has a
// carrier frequency in Hz and an amplitude in [0, 1].
type Vibration struct {
	HiFreq float64
	HiAmp  float64
	LoFreq float64
	LoAmp  float64
}

// VibrationNeutral is the rest waveform (carriers present, zero amplitude).
var VibrationNeutral = Vibration{HiFreq: 320, HiAmp: 0, LoFreq: 160, LoAmp: 0}

// Resonant is a convenience waveform driving both bands around freq at the
// given amplitude, the way a single-frequency buzz is usually requested.
func Resonant(freq, amp float64) Vibration {
	return Vibration{HiFreq: freq, HiAmp: amp, LoFreq: freq / 2, LoAmp: amp}
}

// Frequency and amplitude bounds accepted by the encoder. Out-of-range
// requests are clamped, not rejected.
const (
	minFreq = 40.875885
	maxFreq = 1252.572266
)

// EncodeVibration packs one actuator's waveform into its 4-byte wire form.
//
// Frequencies map through round(32*log2(f/10)); the high band stores
// (enc-0x60)*4 across bytes 0-1 and the low band stores enc-0x40 in byte 2.
// Amplitude maps through a piecewise log curve; the high-band amplitude
// lands in byte 1 and the low-band amplitude in bytes 2-3.
func EncodeVibration(v Vibration) [4]byte {
	hf := encodeFreq(v.HiFreq)
	lf := encodeFreq(v.LoFreq)
	ha := encodeAmp(v.HiAmp)
	la := encodeAmp(v.LoAmp)

	hfWord := (uint16(hf) - 0x60) * 4

	var b [4]byte
	b[0] = byte(hfWord)
	b[1] = byte(hfWord>>8) + ha*2
	b[2] = lf - 0x40
	if la&1 != 0 {
		b[2] += 0x80
	}
	b[3] = 0x40 + la/2
	return b
}

// Encode packs a left/right actuator pair into the 8-byte rumble payload.
func Encode(left, right Vibration) RumbleData {
	var d RumbleData
	l := EncodeVibration(left)
	r := EncodeVibration(right)
	copy(d[0:4], l[:])
	copy(d[4:8], r[:])
	return d
}

func encodeFreq(freq float64) byte {
	f := math.Min(math.Max(freq, minFreq), maxFreq)
	return byte(math.Round(math.Log2(f/10.0) * 32))
}

// encodeAmp maps amplitude [0,1] to the wire scale, 0 to 0x64. The curve is
// a piecewise log fit of the documented amplitude table; below the actuator's
// motion threshold the encoding is zero.
func encodeAmp(amp float64) byte {
	a := math.Min(math.Max(amp, 0), 1)
	var v float64
	switch {
	case a > 0.23:
		v = math.Log2(a*8.7) * 32
	case a > 0.01:
		v = math.Log2(a*17) * 16
	}
	if v < 0 {
		v = 0
	}
	return byte(math.Round(v))
}
