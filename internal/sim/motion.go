// Package sim provides a simulated MPU-6050 on a fake bus, so the daemon
// and tests can run the full pipeline without hardware.
package sim

import (
	"math"
	"time"
)

// Motion is a deterministic rocking profile: roll and pitch oscillate
// around level on decoupled periods while yaw turns at a constant rate.
type Motion struct {
	RollAmpDeg  float64
	PitchAmpDeg float64
	Period      time.Duration
	YawRateDPS  float64
}

func (m Motion) period() time.Duration {
	if m.Period <= 0 {
		return 20 * time.Second
	}
	return m.Period
}

// Attitude returns roll, pitch and yaw in degrees at t.
//
//	roll  = Ar*sin(w)
//	pitch = Ap*sin(2w)
//	yaw   = rate*t
//
// with w = 2πt/T, so pitch runs at twice the roll frequency.
func (m Motion) Attitude(t time.Duration) (roll, pitch, yaw float64) {
	w := 2 * math.Pi * t.Seconds() / m.period().Seconds()
	return m.RollAmpDeg * math.Sin(w), m.PitchAmpDeg * math.Sin(2*w), m.YawRateDPS * t.Seconds()
}

// Rates returns the angle derivatives in deg/s at t. For the small angles
// used here these stand in for body rates.
func (m Motion) Rates(t time.Duration) (gx, gy, gz float64) {
	T := m.period().Seconds()
	w := 2 * math.Pi * t.Seconds() / T
	gx = m.RollAmpDeg * (2 * math.Pi / T) * math.Cos(w)
	gy = m.PitchAmpDeg * (4 * math.Pi / T) * math.Cos(2*w)
	return gx, gy, m.YawRateDPS
}

// Gravity returns the unit accelerometer reading in g for the attitude at
// t, built so that tilt.FromAccel recovers roll and pitch exactly. A level,
// still sensor reads (0, 0, 1).
func (m Motion) Gravity(t time.Duration) (ax, ay, az float64) {
	roll, pitch, _ := m.Attitude(t)
	ax = -math.Sin(pitch * math.Pi / 180)
	ay = math.Sin(roll * math.Pi / 180)
	az = math.Sqrt(math.Max(0, 1-ax*ax-ay*ay))
	return ax, ay, az
}
