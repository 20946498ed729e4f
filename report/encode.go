package report

import "encoding/binary"

// Encoder builds output reports. It owns the 4-bit sequence counter shared
// by every report sent on one connection; the counter paces output on the
// wire, while stale subcommand replies are recognized by the echoed
// subcommand ID. Encoder is not safe for concurrent use; the device loop is
// its only caller.
type Encoder struct {
	seq byte
}

// next returns the current sequence number and advances it. The counter is
// 4 bits and wraps from 15 to 0 with no gaps.
func (e *Encoder) next() byte {
	s := e.seq
	e.seq = (e.seq + 1) & 0x0F
	return s
}

// EncodeSubcommand builds an 0x01 output report carrying rumble data and a
// subcommand with its arguments, zero-padded to the fixed report length.
func (e *Encoder) EncodeSubcommand(sc Subcommand, args []byte, rumble RumbleData) []byte {
	b := make([]byte, OutputReportLength)
	b[0] = OutputRumbleSubcommand
	b[1] = e.next()
	copy(b[2:10], rumble[:])
	b[10] = byte(sc)
	copy(b[11:], args)
	return b
}

// EncodeRumble builds an 0x10 output report carrying only rumble data.
func (e *Encoder) EncodeRumble(rumble RumbleData) []byte {
	b := make([]byte, OutputReportLength)
	b[0] = OutputRumbleOnly
	b[1] = e.next()
	copy(b[2:10], rumble[:])
	return b
}

// SPIReadArgs builds the argument block for a SubcommandSPIFlashRead:
// a little-endian 32-bit address followed by the read length (max 0x1D).
func SPIReadArgs(addr uint32, n byte) []byte {
	args := make([]byte, 5)
	binary.LittleEndian.PutUint32(args, addr)
	args[4] = n
	return args
}

// SPIMaxRead is the largest span one SPI flash read subcommand can return.
const SPIMaxRead byte = 0x1D
