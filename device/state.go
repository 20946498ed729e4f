package device

// State is the connection lifecycle position of one controller. Transitions
// are driven only by the device's own goroutine; consumers observe states,
// they never set them.
type State int32

const (
	// StateDisconnected is both the initial and the terminal state.
	StateDisconnected State = iota

	// StateHandshaking covers the identification and mode-setup subcommand
	// sequence issued right after the transport opens.
	StateHandshaking

	// StateCalibrating covers the SPI calibration (and color) reads.
	StateCalibrating

	// StateReady means initialization finished; commands are accepted but
	// streaming reports are not flowing yet.
	StateReady

	// StateStreaming means the 60 Hz report loop is live and ControllerState
	// snapshots are being published.
	StateStreaming

	// StateError is entered on an unrecoverable failure. It is transient:
	// cleanup runs and the device settles in StateDisconnected.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateCalibrating:
		return "calibrating"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// acceptsCommands reports whether output commands may be submitted in s.
func (s State) acceptsCommands() bool {
	return s == StateReady || s == StateStreaming
}
