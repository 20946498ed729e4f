package hid

import (
	"fmt"
	"strings"
	"sync"
	"time"

	hidapi "github.com/sstallion/go-hid"
)

var initOnce sync.Once

// Enumerate lists all attached Nintendo controllers in the supported family.
// Devices that enumerate but cannot be opened (for example, held by another
// driver) still appear here; the failure surfaces on Open.
func Enumerate() ([]DeviceInfo, error) {
	initOnce.Do(func() { _ = hidapi.Init() })

	var out []DeviceInfo
	err := hidapi.Enumerate(VendorNintendo, hidapi.ProductIDAny, func(info *hidapi.DeviceInfo) error {
		if KindFromProduct(info.ProductID) == KindUnknown {
			return nil
		}
		out = append(out, DeviceInfo{
			Path:      info.Path,
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Serial:    info.SerialNbr,
			Product:   info.ProductStr,
			Interface: info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return out, nil
}

// Open acquires an exclusive handle to the given device.
func Open(info DeviceInfo) (Transport, error) {
	initOnce.Do(func() { _ = hidapi.Init() })

	dev, err := hidapi.OpenPath(info.Path)
	if err != nil {
		return nil, openError(info.Path, err)
	}
	return &hidapiTransport{dev: dev}, nil
}

// openError maps a hidapi open failure onto the transport taxonomy. hidapi
// reports failures as strings, so classification is by message content with
// ErrNotFound as the fallback.
func openError(path string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return fmt.Errorf("open %s: %w", path, ErrPermissionDenied)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "exclusive"):
		return fmt.Errorf("open %s: %w", path, ErrBusy)
	default:
		return fmt.Errorf("open %s: %v: %w", path, err, ErrNotFound)
	}
}

type hidapiTransport struct {
	mu     sync.Mutex
	dev    *hidapi.Device
	closed bool
}

func (t *hidapiTransport) Read(p []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	dev, closed := t.dev, t.closed
	t.mu.Unlock()
	if closed || dev == nil {
		return 0, ErrDisconnected
	}

	n, err := dev.ReadWithTimeout(p, timeout)
	if err != nil {
		return 0, fmt.Errorf("hid read: %v: %w", err, ErrDisconnected)
	}
	// hid_read_timeout signals an expired window with a zero-length read.
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

func (t *hidapiTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	dev, closed := t.dev, t.closed
	t.mu.Unlock()
	if closed || dev == nil {
		return 0, ErrDisconnected
	}

	n, err := dev.Write(p)
	if err != nil {
		return 0, fmt.Errorf("hid write: %v: %w", err, ErrDisconnected)
	}
	return n, nil
}

func (t *hidapiTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	dev := t.dev
	t.dev = nil
	if dev == nil {
		return nil
	}
	return dev.Close()
}
