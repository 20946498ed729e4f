// Package hid provides the transport layer for Joy-Con controllers: device
// enumeration, exclusive handle acquisition and fixed-size report I/O over
// the platform HID stack.
package hid

import (
	"time"
)

// Nintendo vendor/product IDs for the supported controller family.
const (
	VendorNintendo       uint16 = 0x057e
	ProductJoyConLeft    uint16 = 0x2006
	ProductJoyConRight   uint16 = 0x2007
	ProductProController uint16 = 0x2009
	ProductChargingGrip  uint16 = 0x200e
)

// Kind identifies which controller variant a device is.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoyConLeft
	KindJoyConRight
	KindProController
	KindChargingGrip
)

// KindFromProduct maps a USB product ID to a controller Kind.
func KindFromProduct(productID uint16) Kind {
	switch productID {
	case ProductJoyConLeft:
		return KindJoyConLeft
	case ProductJoyConRight:
		return KindJoyConRight
	case ProductProController:
		return KindProController
	case ProductChargingGrip:
		return KindChargingGrip
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindJoyConLeft:
		return "joycon-left"
	case KindJoyConRight:
		return "joycon-right"
	case KindProController:
		return "pro-controller"
	case KindChargingGrip:
		return "charging-grip"
	default:
		return "unknown"
	}
}

// HasLeftStick reports whether this controller kind carries a left analog stick.
func (k Kind) HasLeftStick() bool {
	return k == KindJoyConLeft || k == KindProController || k == KindChargingGrip
}

// HasRightStick reports whether this controller kind carries a right analog stick.
func (k Kind) HasRightStick() bool {
	return k == KindJoyConRight || k == KindProController || k == KindChargingGrip
}

// DeviceInfo describes an enumerated controller before it is opened.
type DeviceInfo struct {
	// Path is the platform-specific device path used to open the device.
	Path      string
	VendorID  uint16
	ProductID uint16
	Serial    string
	Product   string
	Interface int
}

// Kind returns the controller Kind for this device.
func (d DeviceInfo) Kind() Kind { return KindFromProduct(d.ProductID) }

// Transport is an open, exclusive handle to a controller. Reads and writes
// move whole HID reports; partial reports do not occur at this layer.
//
// Implementations must make Close safe to call concurrently with a blocked
// Read, and must release the OS handle on Close regardless of prior errors.
type Transport interface {
	// Read fills p with the next input report. It returns ErrTimeout if no
	// report arrives within timeout and ErrDisconnected once the device is
	// gone or the handle has been closed.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write sends one output report.
	Write(p []byte) (int, error)

	// Close releases the handle. Close is idempotent.
	Close() error
}
