//go:build !linux || (!arm && !arm64)

package drdy

import "fmt"

func Open(chip, lineName string) (*Source, error) {
	return nil, fmt.Errorf("drdy: gpio unsupported on this platform")
}
