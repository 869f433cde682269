package mpu6050

import (
	"errors"
	"fmt"
	"math"
	"time"

	"imu-fusion/internal/tilt"
)

var sleep = time.Sleep

// Minimal MPU-6050 driver.
//
// Focus: wake + burst reads of the accel and gyro output blocks at the
// power-on full-scale ranges (±2 g, ±250 °/s). FIFO, DMP and the auxiliary
// bus are not used.

const (
	addrDefault = 0x68

	regIntEnable  = 0x38
	regAccelXoutH = 0x3B // ax, ay, az big-endian pairs
	regGyroXoutH  = 0x43 // gx, gy, gz big-endian pairs
	regPwrMgmt1   = 0x6B
	regWhoAmI     = 0x75

	whoAmIVal     = 0x68
	bitDataRdyEn  = 0x01
	blockLen      = 6
	wakeSettle    = 30 * time.Millisecond
	accelLSBPerG  = 16384.0
	gyroLSBPerDPS = 131.0
)

var (
	// ErrBus reports a transaction that did not complete or came back short.
	ErrBus = errors.New("mpu6050: bus communication failed")
	// ErrInvalidCalibrationState reports a calibration attempt against a
	// device that cannot be reached.
	ErrInvalidCalibrationState = errors.New("mpu6050: device not reachable for calibration")
)

// BusError carries the failing register. It matches both ErrBus and the
// underlying transport error under errors.Is.
type BusError struct {
	Op  string
	Reg byte
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("mpu6050: %s reg 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *BusError) Unwrap() []error { return []error{ErrBus, e.Err} }

// Bus is the two-wire transport: write w, repeated start, read len(r).
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// RawSample holds the signed register values exactly as read.
type RawSample struct {
	Accel [3]int16
	Gyro  [3]int16
}

// Sample is one reading in physical units with calibration applied.
type Sample struct {
	// Accel in g.
	Ax, Ay, Az float64
	// Gyro in deg/s, offset included.
	Gx, Gy, Gz float64
	// Degrees added to the accelerometer-derived tilt angles.
	TiltOffsetX, TiltOffsetY float64
}

// AccelAngles returns the offset-corrected accelerometer tilt about X and Y
// in degrees.
func (s Sample) AccelAngles() (x, y float64, err error) {
	x, y, err = tilt.FromAccel(s.Ax, s.Ay, s.Az)
	if err != nil {
		return 0, 0, err
	}
	return x + s.TiltOffsetX, y + s.TiltOffsetY, nil
}

type Option func(*Reader)

// WithOffset sets the additive correction applied by Scale.
func WithOffset(off Offset) Option {
	return func(r *Reader) { r.offset = off }
}

// WithDataReady enables the DATA_RDY interrupt on the INT pin during New.
func WithDataReady() Option {
	return func(r *Reader) { r.dataReady = true }
}

// Reader owns one device on the bus together with its calibration offset.
type Reader struct {
	bus       Bus
	addr      uint16
	offset    Offset
	dataReady bool
}

func DefaultAddress() uint16 { return addrDefault }

// New wakes the device at addr by clearing PWR_MGMT_1.
func New(bus Bus, addr uint16, opts ...Option) (*Reader, error) {
	if bus == nil {
		return nil, fmt.Errorf("mpu6050: bus is nil")
	}
	if addr == 0 {
		addr = addrDefault
	}
	if addr > 0x7F {
		return nil, fmt.Errorf("mpu6050: invalid addr 0x%X", addr)
	}
	r := &Reader{bus: bus, addr: addr}
	for _, o := range opts {
		o(r)
	}

	// Zero clears SLEEP and selects the internal oscillator.
	if err := r.writeReg(regPwrMgmt1, 0x00); err != nil {
		return nil, err
	}
	sleep(wakeSettle)

	if r.dataReady {
		if err := r.writeReg(regIntEnable, bitDataRdyEn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reader) Addr() uint16 { return r.addr }

func (r *Reader) Offset() Offset { return r.offset }

// Recalibrated returns a reader for the same device using off. The
// receiver is left unchanged.
func (r *Reader) Recalibrated(off Offset) *Reader {
	cp := *r
	cp.offset = off
	return &cp
}

// WhoAmI returns the identity register (0x68 on genuine parts).
func (r *Reader) WhoAmI() (byte, error) {
	var b [1]byte
	if err := r.readReg(regWhoAmI, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadRaw reads the accelerometer block then the gyroscope block.
func (r *Reader) ReadRaw() (RawSample, error) {
	var raw RawSample
	var buf [blockLen]byte

	if err := r.readReg(regAccelXoutH, buf[:]); err != nil {
		return RawSample{}, err
	}
	raw.Accel = decodeTriple(buf[:])

	if err := r.readReg(regGyroXoutH, buf[:]); err != nil {
		return RawSample{}, err
	}
	raw.Gyro = decodeTriple(buf[:])
	return raw, nil
}

// Scale converts raw counts to g and deg/s and adds the offset. It does no
// I/O.
func (r *Reader) Scale(raw RawSample) Sample {
	return ScaleWith(raw, r.offset)
}

// ScaleWith is Scale for an explicit offset.
func ScaleWith(raw RawSample, off Offset) Sample {
	return Sample{
		Ax:          AccelG(raw.Accel[0]),
		Ay:          AccelG(raw.Accel[1]),
		Az:          AccelG(raw.Accel[2]),
		Gx:          GyroDPS(raw.Gyro[0]) + off.GyroX,
		Gy:          GyroDPS(raw.Gyro[1]) + off.GyroY,
		Gz:          GyroDPS(raw.Gyro[2]) + off.GyroZ,
		TiltOffsetX: off.AccelX,
		TiltOffsetY: off.AccelY,
	}
}

func (r *Reader) Read() (Sample, error) {
	raw, err := r.ReadRaw()
	if err != nil {
		return Sample{}, err
	}
	return r.Scale(raw), nil
}

func AccelG(v int16) float64 { return float64(v) / accelLSBPerG }

func GyroDPS(v int16) float64 { return float64(v) / gyroLSBPerDPS }

// Encode is the inverse of the register decode: big-endian accel block
// followed by the gyro block. Used by the raw sample log.
func (s RawSample) Encode() []byte {
	out := make([]byte, 0, 2*blockLen)
	for _, v := range s.Accel {
		out = append(out, byte(uint16(v)>>8), byte(uint16(v)))
	}
	for _, v := range s.Gyro {
		out = append(out, byte(uint16(v)>>8), byte(uint16(v)))
	}
	return out
}

// DecodeRaw parses the 12-byte form produced by Encode.
func DecodeRaw(b []byte) (RawSample, error) {
	if len(b) != 2*blockLen {
		return RawSample{}, fmt.Errorf("mpu6050: raw sample is %d bytes, want %d", len(b), 2*blockLen)
	}
	return RawSample{Accel: decodeTriple(b[:blockLen]), Gyro: decodeTriple(b[blockLen:])}, nil
}

// RawFromPhysical builds the register values closest to the given g and
// deg/s, saturating at the int16 range.
func RawFromPhysical(ax, ay, az, gx, gy, gz float64) RawSample {
	return RawSample{
		Accel: [3]int16{toCounts(ax * accelLSBPerG), toCounts(ay * accelLSBPerG), toCounts(az * accelLSBPerG)},
		Gyro:  [3]int16{toCounts(gx * gyroLSBPerDPS), toCounts(gy * gyroLSBPerDPS), toCounts(gz * gyroLSBPerDPS)},
	}
}

func toCounts(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func decodeTriple(b []byte) [3]int16 {
	return [3]int16{
		int16(b[0])<<8 | int16(b[1]),
		int16(b[2])<<8 | int16(b[3]),
		int16(b[4])<<8 | int16(b[5]),
	}
}

func (r *Reader) readReg(reg byte, dst []byte) error {
	if err := r.bus.Tx(r.addr, []byte{reg}, dst); err != nil {
		return &BusError{Op: "read", Reg: reg, Err: err}
	}
	return nil
}

func (r *Reader) writeReg(reg, value byte) error {
	if err := r.bus.Tx(r.addr, []byte{reg, value}, nil); err != nil {
		return &BusError{Op: "write", Reg: reg, Err: err}
	}
	return nil
}
