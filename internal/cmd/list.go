// Package cmd holds the kong command implementations for joycored.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/joyline/joycore/hid"
)

// List enumerates attached controllers without opening them.
type List struct{}

func (l *List) Run(logger *slog.Logger) error {
	devices, err := hid.Enumerate()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no controllers attached")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-14s  vid=%04x pid=%04x  serial=%-18s  %s\n",
			d.Kind(), d.VendorID, d.ProductID, d.Serial, d.Path)
	}
	return nil
}
