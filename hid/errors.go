package hid

import "errors"

// Transport error taxonomy. Callers match with errors.Is; wrapped variants
// carry operation detail.
var (
	// ErrNotFound means the device path did not resolve to a present device.
	ErrNotFound = errors.New("hid: device not found")

	// ErrPermissionDenied means the OS refused access to the device node.
	ErrPermissionDenied = errors.New("hid: permission denied")

	// ErrBusy means another process or handle holds the device exclusively.
	ErrBusy = errors.New("hid: device busy")

	// ErrTimeout means no report arrived within the requested window.
	// Timeouts are transient; the device loop retries a bounded number of
	// times before treating the device as gone.
	ErrTimeout = errors.New("hid: read timeout")

	// ErrDisconnected means the device is unplugged or the handle is closed.
	ErrDisconnected = errors.New("hid: device disconnected")

	// ErrUnsupported means the device does not implement a requested
	// capability (for example a calibration area that cannot be read).
	ErrUnsupported = errors.New("hid: unsupported")
)
