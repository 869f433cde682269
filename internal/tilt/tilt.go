// Package tilt derives tilt angles from a gravity-dominated accelerometer
// reading.
//
// At rest gravity is the only significant acceleration, so projecting it
// onto each axis pair gives the rotation about X and Y. Rotation about the
// vertical axis is not observable this way.
package tilt

import (
	"errors"
	"math"
)

// MinNorm is the smallest denominator magnitude (in g) accepted. Below it
// the sensor is in free fall or exactly edge-on and the angle is undefined.
const MinNorm = 1e-3

var ErrDegenerateGeometry = errors.New("tilt: accelerometer magnitude too small")

// FromAccel returns the tilt about X and Y in degrees:
//
//	x = atan(ay / sqrt(ax² + az²))
//	y = atan(-ax / sqrt(ay² + az²))
func FromAccel(ax, ay, az float64) (x, y float64, err error) {
	nx := math.Sqrt(ax*ax + az*az)
	ny := math.Sqrt(ay*ay + az*az)
	if !(nx >= MinNorm) || !(ny >= MinNorm) {
		return 0, 0, ErrDegenerateGeometry
	}
	x = Degrees(math.Atan(ay / nx))
	y = Degrees(math.Atan(-ax / ny))
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, 0, ErrDegenerateGeometry
	}
	return x, y, nil
}

func Degrees(rad float64) float64 { return rad * 180 / math.Pi }
