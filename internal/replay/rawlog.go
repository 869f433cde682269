package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"imu-fusion/internal/sensors/mpu6050"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
//   "START <accel_x>,<accel_y>,<gyro_x>,<gyro_y>,<gyro_z>" also records the
//   offset in force from there on. The daemon writes one at startup and
//   after every calibration, since a calibration restarts the estimator.
// - Data lines are: <t_ns>,<hex>
//   where t_ns is the sampling clock reading in nanoseconds and hex is the
//   12 raw register bytes, accelerometer block then gyroscope block.
//
// Replaying each session through Scale with its recorded offset and a fresh
// estimator, with the same gain and max_dt, reproduces the live output.

type Record struct {
	At    time.Duration
	Start bool
	// Offset is set on START markers that carry one.
	Offset *mpu6050.Offset
	Raw    mpu6050.RawSample
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func Open(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" || strings.HasPrefix(line, "START ") {
			r := Record{Start: true}
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "START")); rest != "" {
				off, err := parseOffset(rest)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				r.Offset = &off
			}
			recs = append(recs, r)
			continue
		}

		comma := strings.IndexByte(line, ',')
		if comma < 0 {
			return nil, fmt.Errorf("line %d: missing comma: %q", lineNo, line)
		}
		tsStr := strings.TrimSpace(line[:comma])
		hexStr := strings.ReplaceAll(strings.TrimSpace(line[comma+1:]), " ", "")
		if tsStr == "" || hexStr == "" {
			return nil, fmt.Errorf("line %d: empty field: %q", lineNo, line)
		}

		tsNs, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp %q: %w", lineNo, tsStr, err)
		}
		if tsNs < 0 {
			return nil, fmt.Errorf("line %d: negative timestamp %d", lineNo, tsNs)
		}
		b, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		raw, err := mpu6050.DecodeRaw(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		recs = append(recs, Record{At: time.Duration(tsNs), Raw: raw})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseOffset(s string) (mpu6050.Offset, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 5 {
		return mpu6050.Offset{}, fmt.Errorf("offset %q: want 5 values, got %d", s, len(parts))
	}
	var v [5]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return mpu6050.Offset{}, fmt.Errorf("offset %q: %w", s, err)
		}
		v[i] = f
	}
	return mpu6050.Offset{AccelX: v[0], AccelY: v[1], GyroX: v[2], GyroY: v[3], GyroZ: v[4]}, nil
}

func formatOffset(o mpu6050.Offset) string {
	vals := []float64{o.AccelX, o.AccelY, o.GyroX, o.GyroY, o.GyroZ}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw}, nil
}

// WriteSample appends one raw sample stamped with the sampling clock.
func (ww *Writer) WriteSample(at time.Duration, raw mpu6050.RawSample) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if at < 0 {
		at = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s\n", at.Nanoseconds(), hex.EncodeToString(raw.Encode()))
	return err
}

// WriteStart begins a new session recorded with off.
func (ww *Writer) WriteStart(off mpu6050.Offset) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	_, err := fmt.Fprintf(ww.w, "START %s\n", formatOffset(off))
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play invokes cb for each sample record, waiting out the recorded gaps.
// START markers reset the origin so gaps never span two sessions.
//
// speed: 1.0 = real time, 2.0 = half the waits. A nil sleeper sleeps for
// real; pass a no-op sleeper to run as fast as possible.
func Play(records []Record, speed float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if r.Start {
				haveLast = false
				continue
			}
			if haveLast {
				wait := r.At - lastAt
				if wait > 0 {
					sleeper.Sleep(time.Duration(float64(wait) / speed))
				}
			}
			if err := cb(r); err != nil {
				return err
			}
			lastAt = r.At
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}

// Session is a run of samples between START markers.
type Session struct {
	// Offset is the offset recorded on the opening marker, if any.
	Offset  *mpu6050.Offset
	Records []Record
}

// Split groups records into sessions at START markers, dropping the
// markers and any empty sessions.
func Split(records []Record) []Session {
	var out []Session
	var cur Session
	for _, r := range records {
		if r.Start {
			if len(cur.Records) > 0 {
				out = append(out, cur)
			}
			cur = Session{Offset: r.Offset}
			continue
		}
		cur.Records = append(cur.Records, r)
	}
	if len(cur.Records) > 0 {
		out = append(out, cur)
	}
	return out
}

// Sessions is Split without the offsets.
func Sessions(records []Record) [][]Record {
	var out [][]Record
	for _, s := range Split(records) {
		out = append(out, s.Records)
	}
	return out
}
