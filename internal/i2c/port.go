// Package i2c opens the two-wire bus the IMU sits on.
//
// Two backends exist: the raw Linux character device (/dev/i2c-N) and
// periph.io, which also covers boards where the kernel device is not
// exposed the usual way. Both satisfy Port.
package i2c

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	DriverDev    = "dev"
	DriverPeriph = "periph"
)

// ErrShortRead is returned when a transfer completes with fewer bytes or
// messages than requested.
var ErrShortRead = errors.New("i2c: short transfer")

// Port is an opened bus. Tx performs one combined write-then-read
// transaction against a 7-bit device address.
type Port interface {
	Tx(addr uint16, w, r []byte) error
	Close() error
}

// OpenPort opens bus number busNum with the named driver.
func OpenPort(driver string, busNum int) (Port, error) {
	if busNum < 0 {
		return nil, fmt.Errorf("i2c: invalid bus %d", busNum)
	}
	switch driver {
	case "", DriverDev:
		b, err := Open(DevPath(busNum))
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverPeriph:
		return OpenPeriph(strconv.Itoa(busNum))
	default:
		return nil, fmt.Errorf("i2c: unknown driver %q", driver)
	}
}

// DevPath returns the Linux device node for a bus number.
func DevPath(busNum int) string {
	return fmt.Sprintf("/dev/i2c-%d", busNum)
}

func checkAddr(addr uint16) error {
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("invalid i2c addr 0x%X", addr)
	}
	return nil
}
