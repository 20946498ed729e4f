// Package hidtest provides a scripted controller for tests: a Transport
// that acknowledges subcommands, serves a fake SPI flash image and delivers
// injected streaming reports.
package hidtest

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/joyline/joycore/hid"
	"github.com/joyline/joycore/report"
)

// Transport emulates one controller behind the hid.Transport interface.
// Reads block until a report is available or the timeout elapses; writes of
// subcommand reports produce an acknowledgement on the next read.
type Transport struct {
	// DeviceType is byte 2 of the device info reply (1 left Joy-Con,
	// 2 right Joy-Con, 3 Pro Controller).
	DeviceType byte

	// SPI maps flash addresses to data; unmapped spans read back 0xFF,
	// like unprogrammed flash.
	SPI map[uint32][]byte

	// NoAck suppresses the acknowledgement for the listed subcommands.
	NoAck map[report.Subcommand]bool

	// Reject answers the next N writes of a subcommand with the ack bit
	// clear, then falls through to NoAck or a normal acknowledgement.
	Reject map[report.Subcommand]int

	inbox chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

// New returns a Transport emulating the given device type.
func New(deviceType byte) *Transport {
	return &Transport{
		DeviceType: deviceType,
		SPI:        map[uint32][]byte{},
		NoAck:      map[report.Subcommand]bool{},
		Reject:     map[report.Subcommand]int{},
		inbox:      make(chan []byte, 64),
	}
}

func (f *Transport) Read(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, hid.ErrDisconnected
	}
	select {
	case buf := <-f.inbox:
		return copy(p, buf), nil
	case <-time.After(timeout):
		return 0, hid.ErrTimeout
	}
}

func (f *Transport) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, hid.ErrDisconnected
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	reject := false
	if len(p) >= 11 && p[0] == report.OutputRumbleSubcommand {
		sc := report.Subcommand(p[10])
		if f.Reject[sc] > 0 {
			f.Reject[sc]--
			reject = true
		}
	}
	f.mu.Unlock()

	if len(p) < 11 || p[0] != report.OutputRumbleSubcommand {
		return len(p), nil
	}
	sc := report.Subcommand(p[10])
	if reject {
		buf := f.Reply(sc, p[11:])
		buf[13] = 0x00
		f.inbox <- buf
		return len(p), nil
	}
	if f.NoAck[sc] {
		return len(p), nil
	}
	f.inbox <- f.Reply(sc, p[11:])
	return len(p), nil
}

func (f *Transport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (f *Transport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reply builds the 0x21 acknowledgement report for one subcommand.
func (f *Transport) Reply(sc report.Subcommand, args []byte) []byte {
	buf := make([]byte, report.InputReportLength)
	buf[0] = report.InputSubcommandReply
	buf[2] = 0x80 // battery 8, no charge
	buf[13] = 0x80
	buf[14] = byte(sc)

	switch sc {
	case report.SubcommandRequestDeviceInfo:
		buf[15] = 3 // firmware 3.72
		buf[16] = 72
		buf[17] = f.DeviceType
	case report.SubcommandSPIFlashRead:
		addr := binary.LittleEndian.Uint32(args[0:4])
		n := args[4]
		copy(buf[15:20], args[0:5])
		copy(buf[20:], f.spiSpan(addr, n))
	}
	return buf
}

func (f *Transport) spiSpan(addr uint32, n byte) []byte {
	if d, ok := f.SPI[addr]; ok {
		return d
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}

// Inject delivers one raw input report to the device under test.
func (f *Transport) Inject(buf []byte) {
	f.inbox <- buf
}

// TryInject delivers a report without blocking. It reports false when the
// inbox is full, which a report pump treats as backpressure and skips.
func (f *Transport) TryInject(buf []byte) bool {
	select {
	case f.inbox <- buf:
		return true
	default:
		return false
	}
}

// Writes returns a copy of every report written so far.
func (f *Transport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	for i, w := range f.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// SubcommandWrites returns every written 0x01 report carrying the given
// subcommand.
func (f *Transport) SubcommandWrites(sc report.Subcommand) [][]byte {
	var out [][]byte
	for _, w := range f.Writes() {
		if len(w) > 10 && w[0] == report.OutputRumbleSubcommand && report.Subcommand(w[10]) == sc {
			out = append(out, w)
		}
	}
	return out
}

// StandardReport builds a 49-byte 0x30 streaming report with centered
// sticks and a full battery, then applies mut.
func StandardReport(mut func(b []byte)) []byte {
	b := make([]byte, report.InputReportLength)
	b[0] = report.InputStandardFull
	b[2] = 0x80
	report.Pack12(b[6:9], 2048, 2048)
	report.Pack12(b[9:12], 2048, 2048)
	if mut != nil {
		mut(b)
	}
	return b
}

// StickBlock packs three 12-bit pairs into a 9-byte calibration block.
func StickBlock(p0x, p0y, p1x, p1y, p2x, p2y uint16) []byte {
	b := make([]byte, 9)
	report.Pack12(b[0:3], p0x, p0y)
	report.Pack12(b[3:6], p1x, p1y)
	report.Pack12(b[6:9], p2x, p2y)
	return b
}
