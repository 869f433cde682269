package i2c

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// PeriphBus wraps a periph.io bus handle.
type PeriphBus struct {
	bus i2c.BusCloser
}

// OpenPeriph initializes the periph host drivers once and opens the named
// bus ("" picks the first one available).
func OpenPeriph(name string) (*PeriphBus, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periph i2c open %q: %w", name, err)
	}
	return &PeriphBus{bus: b}, nil
}

func (p *PeriphBus) String() string {
	if p == nil || p.bus == nil {
		return "periph(nil)"
	}
	return p.bus.String()
}

func (p *PeriphBus) Tx(addr uint16, w, r []byte) error {
	if p == nil || p.bus == nil {
		return fmt.Errorf("periph i2c bus is closed")
	}
	if err := checkAddr(addr); err != nil {
		return err
	}
	if err := p.bus.Tx(addr, w, r); err != nil {
		return fmt.Errorf("periph tx addr=0x%02X: %w", addr, err)
	}
	return nil
}

func (p *PeriphBus) Close() error {
	if p == nil || p.bus == nil {
		return nil
	}
	err := p.bus.Close()
	p.bus = nil
	return err
}
