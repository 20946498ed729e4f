package device

import "github.com/joyline/joycore/hid"

// EventType classifies lifecycle notifications delivered to the consumer.
type EventType int

const (
	// EventConnected fires once initialization completes and the device
	// enters StateReady.
	EventConnected EventType = iota

	// EventDisconnected fires exactly once when the device settles in
	// StateDisconnected, whether by explicit close, read timeouts or an
	// unrecoverable error.
	EventDisconnected

	// EventError fires when the device enters StateError, immediately
	// before the disconnect cleanup.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "invalid"
	}
}

// Event is a lifecycle notification. Err is set for EventError and for
// EventDisconnected caused by a failure.
type Event struct {
	Serial string
	Path   string
	Kind   hid.Kind
	Type   EventType
	State  State
	Err    error
}
