package mpu6050

import (
	"fmt"
	"io"

	"imu-fusion/internal/tilt"
)

// DefaultCalibrationSamples is the number of reads averaged per sensor.
const DefaultCalibrationSamples = 200

// Offset holds the five per-axis values used by Scale: accelerometer tilt
// about X and Y in degrees and gyroscope rate in deg/s.
type Offset struct {
	AccelX float64 `yaml:"accel_x" json:"accel_x"`
	AccelY float64 `yaml:"accel_y" json:"accel_y"`
	GyroX  float64 `yaml:"gyro_x" json:"gyro_x"`
	GyroY  float64 `yaml:"gyro_y" json:"gyro_y"`
	GyroZ  float64 `yaml:"gyro_z" json:"gyro_z"`
}

// Correction negates a measured bias into the additive offset that
// cancels it.
func (o Offset) Correction() Offset {
	return Offset{AccelX: -o.AccelX, AccelY: -o.AccelY, GyroX: -o.GyroX, GyroY: -o.GyroY, GyroZ: -o.GyroZ}
}

// Calibrate averages n stationary reads of each sensor and returns the
// measured bias: mean raw tilt angles (no offset applied) and mean raw
// rates. The device must be level and still; nothing checks that.
//
// The result is the bias itself. Feed bias.Correction() to Recalibrated or
// WithOffset to cancel it.
func (r *Reader) Calibrate(n int) (Offset, error) {
	if r == nil || r.bus == nil {
		return Offset{}, fmt.Errorf("%w: reader not initialized", ErrInvalidCalibrationState)
	}
	if n <= 0 {
		n = DefaultCalibrationSamples
	}

	var sum Offset
	var buf [blockLen]byte

	for i := 0; i < n; i++ {
		if err := r.readReg(regAccelXoutH, buf[:]); err != nil {
			return Offset{}, calibrationErr(i, err)
		}
		a := decodeTriple(buf[:])
		x, y, err := tilt.FromAccel(AccelG(a[0]), AccelG(a[1]), AccelG(a[2]))
		if err != nil {
			return Offset{}, fmt.Errorf("mpu6050: calibration accel sample %d: %w", i, err)
		}
		sum.AccelX += x
		sum.AccelY += y
	}

	for i := 0; i < n; i++ {
		if err := r.readReg(regGyroXoutH, buf[:]); err != nil {
			return Offset{}, calibrationErr(n+i, err)
		}
		g := decodeTriple(buf[:])
		sum.GyroX += GyroDPS(g[0])
		sum.GyroY += GyroDPS(g[1])
		sum.GyroZ += GyroDPS(g[2])
	}

	fn := float64(n)
	return Offset{
		AccelX: sum.AccelX / fn,
		AccelY: sum.AccelY / fn,
		GyroX:  sum.GyroX / fn,
		GyroY:  sum.GyroY / fn,
		GyroZ:  sum.GyroZ / fn,
	}, nil
}

// A failure before anything was read means the device is unreachable.
func calibrationErr(i int, err error) error {
	if i == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCalibrationState, err)
	}
	return fmt.Errorf("mpu6050: calibration aborted after %d samples: %w", i, err)
}

// WriteReport prints the five values one per line for operator inspection.
func WriteReport(w io.Writer, off Offset) error {
	_, err := fmt.Fprintf(w,
		"AccErrorX: %.2f\nAccErrorY: %.2f\nGyroErrorX: %.2f\nGyroErrorY: %.2f\nGyroErrorZ: %.2f\n",
		off.AccelX, off.AccelY, off.GyroX, off.GyroY, off.GyroZ)
	return err
}
