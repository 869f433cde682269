//go:build !linux

package i2c

import "fmt"

type Bus struct{}

func Open(path string) (*Bus, error) { return nil, fmt.Errorf("i2c: unsupported OS (need linux)") }

func (b *Bus) String() string { return "i2c(unsupported)" }

func (b *Bus) Close() error { return nil }

func (b *Bus) Tx(addr uint16, w, r []byte) error { return fmt.Errorf("i2c: unsupported OS") }
