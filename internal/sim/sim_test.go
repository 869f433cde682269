package sim

import (
	"errors"
	"math"
	"testing"
	"time"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/i2c"
	"imu-fusion/internal/sensors/mpu6050"
	"imu-fusion/internal/tilt"
)

func TestMotion_GravityMatchesAttitude(t *testing.T) {
	m := Motion{RollAmpDeg: 20, PitchAmpDeg: 10, Period: 8 * time.Second}
	for _, at := range []time.Duration{0, time.Second, 2500 * time.Millisecond, 7 * time.Second} {
		roll, pitch, _ := m.Attitude(at)
		x, y, err := tilt.FromAccel(m.Gravity(at))
		if err != nil {
			t.Fatalf("at=%s: %v", at, err)
		}
		if math.Abs(x-roll) > 1e-9 || math.Abs(y-pitch) > 1e-9 {
			t.Fatalf("at=%s tilt=(%v,%v) want (%v,%v)", at, x, y, roll, pitch)
		}
	}
}

func TestMotion_RatesAreDerivatives(t *testing.T) {
	m := Motion{RollAmpDeg: 15, PitchAmpDeg: 5, Period: 4 * time.Second, YawRateDPS: 3}
	at := 1300 * time.Millisecond
	h := time.Millisecond
	r0, p0, y0 := m.Attitude(at - h)
	r1, p1, y1 := m.Attitude(at + h)
	gx, gy, gz := m.Rates(at)
	span := (2 * h).Seconds()
	if math.Abs((r1-r0)/span-gx) > 1e-3 || math.Abs((p1-p0)/span-gy) > 1e-3 || math.Abs((y1-y0)/span-gz) > 1e-9 {
		t.Fatalf("rates=(%v,%v,%v)", gx, gy, gz)
	}
}

func TestDevice_RegisterProtocol(t *testing.T) {
	d := NewDevice(Config{GyroBias: [3]float64{1, 0, 0}}).WithClock(func() time.Duration { return 0 })

	r, err := mpu6050.New(d, 0)
	if err != nil {
		t.Fatalf("mpu6050.New: %v", err)
	}
	who, err := r.WhoAmI()
	if err != nil || who != 0x68 {
		t.Fatalf("who=0x%02X err=%v", who, err)
	}
	s, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if math.Abs(s.Az-1) > 1e-3 || math.Abs(s.Gx-1) > 0.01 {
		t.Fatalf("sample=%+v want level with 1 deg/s X bias", s)
	}
	if d.Reads() != 3 {
		t.Fatalf("reads=%d want 3", d.Reads())
	}

	if err := d.Tx(0x69, []byte{0x3B}, make([]byte, 6)); err == nil {
		t.Fatalf("expected error for wrong address")
	}
	if err := d.Tx(0x68, []byte{0x75}, make([]byte, 2)); !errors.Is(err, i2c.ErrShortRead) {
		t.Fatalf("err=%v want ErrShortRead", err)
	}
	_ = d.Close()
	if _, err := r.ReadRaw(); !errors.Is(err, mpu6050.ErrBus) {
		t.Fatalf("err=%v want ErrBus after Close", err)
	}
}

func TestDevice_SleepingReadsZero(t *testing.T) {
	d := NewDevice(Config{}).WithClock(func() time.Duration { return 0 })
	buf := make([]byte, 6)
	if err := d.Tx(0x68, []byte{0x3B}, buf); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("buf=%x want zeros before wake", buf)
		}
	}
}

func TestDevice_NoiseIsSeeded(t *testing.T) {
	cfg := Config{AccelNoiseG: 0.01, GyroNoiseDPS: 0.1, Seed: 7}
	a := NewDevice(cfg).Sample(time.Second)
	b := NewDevice(cfg).Sample(time.Second)
	if a != b {
		t.Fatalf("same seed gave %+v and %+v", a, b)
	}
}

// The filter with a calibrated offset follows the rocking motion to within
// the lag a 0.96 gain introduces at this rate.
func TestPipeline_TracksMotion(t *testing.T) {
	var now time.Duration
	m := Motion{RollAmpDeg: 10, PitchAmpDeg: 5, Period: 10 * time.Second}
	d := NewDevice(Config{Motion: m, GyroBias: [3]float64{0.8, -0.4, 0.3}}).WithClock(func() time.Duration { return now })

	r, err := mpu6050.New(d, 0)
	if err != nil {
		t.Fatalf("mpu6050.New: %v", err)
	}
	// Calibrate while the profile sits at t=0: level, only bias on the gyro.
	still := NewDevice(Config{GyroBias: [3]float64{0.8, -0.4, 0.3}}).WithClock(func() time.Duration { return 0 })
	rs, err := mpu6050.New(still, 0)
	if err != nil {
		t.Fatalf("mpu6050.New: %v", err)
	}
	bias, err := rs.Calibrate(50)
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	r = r.Recalibrated(bias.Correction())

	est := ahrs.NewEstimator(ahrs.DefaultGain)
	var worst float64
	for i := 0; i <= 2000; i++ {
		now = time.Duration(i) * 10 * time.Millisecond
		s, err := r.Read()
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		o := est.Update(s, now)
		roll, pitch, yaw := m.Attitude(now)
		worst = math.Max(worst, math.Max(math.Abs(o.Roll-roll), math.Abs(o.Pitch-pitch)))
		if i == 2000 && math.Abs(o.Yaw-yaw) > 0.1 {
			t.Fatalf("yaw=%v want ~%v", o.Yaw, yaw)
		}
	}
	if worst > 0.5 {
		t.Fatalf("worst roll/pitch error=%v deg want <= 0.5", worst)
	}
}
