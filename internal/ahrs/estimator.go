package ahrs

import (
	"math"
	"time"

	"imu-fusion/internal/sensors/mpu6050"
)

// DefaultGain weights the integrated gyro angle against the accelerometer
// angle. Higher values are smoother but drift longer; lower values follow
// the accelerometer and its noise.
const DefaultGain = 0.96

// AngleState persists across ticks. Only Estimator mutates it.
type AngleState struct {
	// Cumulative gyro-integrated angles, degrees.
	GyroX, GyroY float64
	// Gyro-integrated yaw, degrees. Gravity cannot observe rotation about
	// the vertical axis, so nothing corrects it and it drifts with any
	// residual Z rate bias.
	Yaw float64

	// Last good accelerometer angles, reused when the geometry degenerates.
	AccelX, AccelY float64

	Last    time.Duration
	Started bool
}

// Orientation is one tick's published result.
type Orientation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`

	AccelX     float64 `json:"accel_x"`
	AccelY     float64 `json:"accel_y"`
	GyroX      float64 `json:"gyro_x"`
	GyroY      float64 `json:"gyro_y"`
	Dt         float64 `json:"dt"`
	Degenerate bool    `json:"degenerate,omitempty"`
}

// Estimator is a first-order complementary filter over roll and pitch plus
// free-running yaw. It is not safe for concurrent use.
type Estimator struct {
	Gain float64
	// MaxDt, when > 0, drops integration steps longer than this many
	// seconds (e.g. after a stalled bus).
	MaxDt float64

	state AngleState
}

func NewEstimator(gain float64) *Estimator {
	return &Estimator{Gain: gain}
}

func (e *Estimator) State() AngleState { return e.state }

func (e *Estimator) Reset() { e.state = AngleState{} }

// Update derives dt from the previous tick's timestamp and runs Step. The
// first tick only records the timestamp.
func (e *Estimator) Update(s mpu6050.Sample, now time.Duration) Orientation {
	dt := 0.0
	if e.state.Started {
		dt = (now - e.state.Last).Seconds()
	}
	// A clock that went backwards keeps the older reference.
	if !e.state.Started || now >= e.state.Last {
		e.state.Last = now
	}
	e.state.Started = true
	return e.Step(s, dt)
}

// Step integrates s over dt seconds and blends. A dt that is not positive
// and finite skips integration but still publishes the blend.
func (e *Estimator) Step(s mpu6050.Sample, dt float64) Orientation {
	out := Orientation{}

	// Free fall or edge-on (tilt.ErrDegenerateGeometry): hold the last
	// good accelerometer angles.
	ax, ay, err := s.AccelAngles()
	if err != nil {
		ax, ay = e.state.AccelX, e.state.AccelY
		out.Degenerate = true
	} else {
		e.state.AccelX, e.state.AccelY = ax, ay
	}

	if validDt(dt, e.MaxDt) && finite(s.Gx, s.Gy, s.Gz) {
		e.state.GyroX += s.Gx * dt
		e.state.GyroY += s.Gy * dt
		e.state.Yaw += s.Gz * dt
		out.Dt = dt
	}

	g := e.Gain
	out.Roll = Blend(g, e.state.GyroX, ax)
	out.Pitch = Blend(g, e.state.GyroY, ay)
	out.Yaw = e.state.Yaw
	out.AccelX, out.AccelY = ax, ay
	out.GyroX, out.GyroY = e.state.GyroX, e.state.GyroY
	return out
}

// Blend is the complementary mix gain*gyro + (1-gain)*accel.
func Blend(gain, gyro, accel float64) float64 {
	return gain*gyro + (1-gain)*accel
}

func validDt(dt, maxDt float64) bool {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return false
	}
	return maxDt <= 0 || dt <= maxDt
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
