package main

import (
	"fmt"
	"io"
	"time"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/replay"
	"imu-fusion/internal/sensors/mpu6050"
)

type point struct {
	T                float64 // seconds since the session's first sample
	Roll, Pitch, Yaw float64
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

// run replays each session with a fresh estimator and writes
// "t,roll,pitch,yaw" rows to out. A session whose START marker recorded an
// offset uses it; others use off.
func run(recs []replay.Record, off mpu6050.Offset, est *ahrs.Estimator, speed float64, sleeper replay.Sleeper, out io.Writer) ([]point, error) {
	sessions := replay.Split(recs)
	if len(sessions) == 0 {
		return nil, fmt.Errorf("log has no samples")
	}
	if _, err := fmt.Fprintln(out, "t,roll,pitch,yaw"); err != nil {
		return nil, err
	}

	var pts []point
	var base float64
	for _, sess := range sessions {
		est.Reset()
		so := off
		if sess.Offset != nil {
			so = *sess.Offset
		}
		origin := sess.Records[0].At
		err := replay.Play(sess.Records, speed, false, sleeper, func(r replay.Record) error {
			o := est.Update(mpu6050.ScaleWith(r.Raw, so), r.At)
			p := point{T: base + (r.At - origin).Seconds(), Roll: o.Roll, Pitch: o.Pitch, Yaw: o.Yaw}
			pts = append(pts, p)
			_, err := fmt.Fprintf(out, "%.6f,%.4f,%.4f,%.4f\n", p.T, p.Roll, p.Pitch, p.Yaw)
			return err
		})
		if err != nil {
			return nil, err
		}
		// Sessions are laid end to end on the time axis.
		base = pts[len(pts)-1].T
	}
	return pts, nil
}
