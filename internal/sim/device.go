package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"imu-fusion/internal/i2c"
	"imu-fusion/internal/sensors/mpu6050"
)

// Driver is the i2c.driver name that selects the simulator.
const Driver = "sim"

const (
	regAccel  = 0x3B
	regGyro   = 0x43
	regWhoAmI = 0x75
	whoAmI    = 0x68
)

type Config struct {
	Addr   uint16
	Motion Motion
	// Constant errors added to every reading, in deg/s.
	GyroBias [3]float64
	// Gaussian noise standard deviations. Zero disables noise.
	AccelNoiseG  float64
	GyroNoiseDPS float64
	Seed         int64
}

// Device answers MPU-6050 register reads computed from Motion at the
// current clock reading. It satisfies i2c.Port.
type Device struct {
	cfg Config
	now func() time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	awake  bool
	closed bool
	reads  uint64
}

func NewDevice(cfg Config) *Device {
	if cfg.Addr == 0 {
		cfg.Addr = mpu6050.DefaultAddress()
	}
	start := time.Now()
	return &Device{
		cfg: cfg,
		now: func() time.Duration { return time.Since(start) },
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// WithClock replaces the wall clock, mainly for tests.
func (d *Device) WithClock(now func() time.Duration) *Device {
	d.now = now
	return d
}

func (d *Device) String() string { return fmt.Sprintf("sim addr=0x%02X", d.cfg.Addr) }

// Reads counts successful register reads.
func (d *Device) Reads() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Sample returns the raw registers the device would report at t.
func (d *Device) Sample(t time.Duration) mpu6050.RawSample {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleLocked(t)
}

func (d *Device) sampleLocked(t time.Duration) mpu6050.RawSample {
	ax, ay, az := d.cfg.Motion.Gravity(t)
	gx, gy, gz := d.cfg.Motion.Rates(t)
	gx += d.cfg.GyroBias[0]
	gy += d.cfg.GyroBias[1]
	gz += d.cfg.GyroBias[2]
	if n := d.cfg.AccelNoiseG; n > 0 {
		ax += d.rng.NormFloat64() * n
		ay += d.rng.NormFloat64() * n
		az += d.rng.NormFloat64() * n
	}
	if n := d.cfg.GyroNoiseDPS; n > 0 {
		gx += d.rng.NormFloat64() * n
		gy += d.rng.NormFloat64() * n
		gz += d.rng.NormFloat64() * n
	}
	return mpu6050.RawFromPhysical(ax, ay, az, gx, gy, gz)
}

func (d *Device) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("sim: device closed")
	}
	if addr != d.cfg.Addr {
		return fmt.Errorf("sim: no device at 0x%02X", addr)
	}
	if len(w) == 0 {
		return nil
	}
	if len(r) == 0 {
		// PWR_MGMT_1 = 0 wakes; other writes are accepted and ignored.
		if len(w) == 2 && w[0] == 0x6B {
			d.awake = w[1]&0x40 == 0
		}
		return nil
	}

	var out []byte
	switch w[0] {
	case regAccel:
		out = d.sampleLocked(d.now()).Encode()[:6]
	case regGyro:
		out = d.sampleLocked(d.now()).Encode()[6:]
	case regWhoAmI:
		out = []byte{whoAmI}
	default:
		out = make([]byte, len(r))
	}
	if !d.awake && w[0] != regWhoAmI {
		// A sleeping part holds its output registers at zero.
		out = make([]byte, len(r))
	}
	if len(out) < len(r) {
		return i2c.ErrShortRead
	}
	copy(r, out)
	d.reads++
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
