//go:build linux && (arm || arm64)

package drdy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// Open requests lineName (e.g. "GPIO17") as a rising-edge input. chip may
// be empty, in which case every /dev/gpiochip* is searched.
func Open(chip, lineName string) (*Source, error) {
	lineName = strings.TrimSpace(lineName)
	if lineName == "" {
		return nil, fmt.Errorf("drdy: line name is empty")
	}

	var candidates []string
	if chip != "" {
		candidates = append(candidates, chip)
	} else {
		entries, _ := os.ReadDir("/dev")
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "gpiochip") {
				candidates = append(candidates, filepath.Join("/dev", e.Name()))
			}
		}
	}

	for _, path := range candidates {
		c, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := c.FindLine(lineName)
		if err != nil {
			_ = c.Close()
			continue
		}

		src := newSource(nil)
		line, err := c.RequestLine(offset,
			gpiocdev.AsInput,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { src.notify() }),
			gpiocdev.WithConsumer("imu-fusion-drdy"),
		)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("drdy: request %s on %s: %w", lineName, path, err)
		}
		src.release = func() error {
			err := line.Close()
			_ = c.Close()
			return err
		}
		return src, nil
	}
	return nil, fmt.Errorf("drdy: gpio line %q not found", lineName)
}
