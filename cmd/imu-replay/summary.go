package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"imu-fusion/internal/replay"
	"imu-fusion/internal/sensors/mpu6050"
	"imu-fusion/internal/tilt"
)

type logSummary struct {
	Segments   int
	Samples    int
	Degenerate int
	Duration   time.Duration
	MaxGap     time.Duration
	// Saturated counts samples with any axis pinned at the int16 limits.
	Saturated int
}

func summarize(recs []replay.Record) logSummary {
	var s logSummary
	for _, sess := range replay.Sessions(recs) {
		s.Segments++
		s.Duration += sess[len(sess)-1].At - sess[0].At
		for i, r := range sess {
			s.Samples++
			if i > 0 {
				if gap := r.At - sess[i-1].At; gap > s.MaxGap {
					s.MaxGap = gap
				}
			}
			sm := mpu6050.ScaleWith(r.Raw, mpu6050.Offset{})
			if _, _, err := tilt.FromAccel(sm.Ax, sm.Ay, sm.Az); err != nil {
				s.Degenerate++
			}
			if saturated(r.Raw) {
				s.Saturated++
			}
		}
	}
	return s
}

func saturated(r mpu6050.RawSample) bool {
	for _, v := range append(r.Accel[:], r.Gyro[:]...) {
		if v == 32767 || v == -32768 {
			return true
		}
	}
	return false
}

func printSummary(w io.Writer, path string, s logSummary) {
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "samples: %s\n", humanize.Comma(int64(s.Samples)))
	fmt.Fprintf(w, "duration: %s\n", s.Duration)
	if s.Duration > 0 && s.Samples > s.Segments {
		rate := float64(s.Samples-s.Segments) / s.Duration.Seconds()
		fmt.Fprintf(w, "mean_rate_hz: %.1f\n", rate)
	}
	fmt.Fprintf(w, "max_gap: %s\n", s.MaxGap)
	fmt.Fprintf(w, "degenerate: %d\n", s.Degenerate)
	fmt.Fprintf(w, "saturated: %d\n", s.Saturated)
}
