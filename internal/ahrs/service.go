package ahrs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"imu-fusion/internal/sensors/mpu6050"
)

type Config struct {
	Enable   bool
	Interval time.Duration
	Gain     float64
	// MaxDt drops integration across gaps longer than this (0 = never).
	MaxDt              time.Duration
	CalibrationSamples int
	// CalibrateOnStart runs one calibration on the sampling goroutine
	// before the first tick. The device must be still.
	CalibrateOnStart bool
}

type Snapshot struct {
	Valid        bool           `json:"valid"`
	Orientation  Orientation    `json:"orientation"`
	Offset       mpu6050.Offset `json:"offset"`
	Ticks        uint64         `json:"ticks"`
	Errors       uint64         `json:"errors"`
	LastError    string         `json:"last_error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CalibratedAt time.Time      `json:"calibrated_at,omitempty"`
}

// Hooks are called from the sampling goroutine and must not block for long.
type Hooks struct {
	OnUpdate func(Snapshot)
	OnError  func(error)
	// OnRaw sees every raw sample with the clock reading used for it.
	OnRaw func(at time.Duration, raw mpu6050.RawSample)
	// OnCalibrate receives the measured bias after a successful calibration.
	OnCalibrate func(bias mpu6050.Offset)
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithTicks replaces the interval ticker, e.g. with data-ready interrupts.
func WithTicks(ch <-chan struct{}) Option { return func(s *Service) { s.ticks = ch } }

func WithHooks(h Hooks) Option { return func(s *Service) { s.hooks = h } }

// Service drives the reader and estimator from a single goroutine, which
// is the only bus user. Calibration requests are handed to that goroutine.
type Service struct {
	cfg    Config
	clock  Clock
	ticks  <-chan struct{}
	hooks  Hooks
	reader *mpu6050.Reader
	est    *Estimator

	calCh chan calReq

	mu      sync.RWMutex
	snap    Snapshot
	started bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type calReq struct {
	ctx  context.Context
	done chan calResult
}

type calResult struct {
	off mpu6050.Offset
	err error
}

func New(cfg Config, reader *mpu6050.Reader, opts ...Option) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	if cfg.Gain < 0 || cfg.Gain > 1 {
		cfg.Gain = DefaultGain
	}
	if cfg.CalibrationSamples <= 0 {
		cfg.CalibrationSamples = mpu6050.DefaultCalibrationSamples
	}
	s := &Service{
		cfg:    cfg,
		reader: reader,
		est:    &Estimator{Gain: cfg.Gain, MaxDt: cfg.MaxDt.Seconds()},
		calCh:  make(chan calReq, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = NewMonotonicClock()
	}
	if reader != nil {
		s.snap.Offset = reader.Offset()
	}
	return s
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if !s.cfg.Enable {
		close(s.doneCh)
		return nil
	}
	if s.reader == nil {
		return fmt.Errorf("ahrs: reader is nil")
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("ahrs: already started")
	}
	s.started = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Close stops the sampling goroutine and waits for it to exit.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if started {
		<-s.doneCh
	}
}

// Calibrate averages CalibrationSamples stationary reads on the sampling
// goroutine, installs the correction and restarts the estimator. It
// returns the measured bias.
func (s *Service) Calibrate(ctx context.Context) (mpu6050.Offset, error) {
	if s == nil {
		return mpu6050.Offset{}, fmt.Errorf("ahrs: service is nil")
	}
	if ctx == nil {
		return mpu6050.Offset{}, fmt.Errorf("ahrs: ctx is nil")
	}
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return mpu6050.Offset{}, fmt.Errorf("ahrs: %w", mpu6050.ErrInvalidCalibrationState)
	}

	stopped := fmt.Errorf("ahrs: sampling stopped: %w", mpu6050.ErrInvalidCalibrationState)
	select {
	case <-s.doneCh:
		return mpu6050.Offset{}, stopped
	default:
	}

	done := make(chan calResult, 1)
	select {
	case s.calCh <- calReq{ctx: ctx, done: done}:
	case <-ctx.Done():
		return mpu6050.Offset{}, ctx.Err()
	case <-s.doneCh:
		return mpu6050.Offset{}, stopped
	default:
		return mpu6050.Offset{}, fmt.Errorf("ahrs: calibration already in progress")
	}

	select {
	case res := <-done:
		return res.off, res.err
	case <-ctx.Done():
		return mpu6050.Offset{}, ctx.Err()
	case <-s.doneCh:
		return mpu6050.Offset{}, stopped
	}
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticks := s.ticks
	var tickC <-chan time.Time
	if ticks == nil {
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		tickC = t.C
	}

	if s.cfg.CalibrateOnStart {
		// Failure is already recorded by calibrate; sampling continues with
		// the configured offset.
		_, _ = s.calibrate()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case req := <-s.calCh:
			// The caller already gave up; do not touch the offset.
			if err := req.ctx.Err(); err != nil {
				req.done <- calResult{err: err}
				continue
			}
			off, err := s.calibrate()
			req.done <- calResult{off: off, err: err}
		case <-tickC:
			s.tick()
		case _, ok := <-ticks:
			if !ok {
				s.fail(fmt.Errorf("ahrs: tick source closed"))
				return
			}
			s.tick()
		}
	}
}

// tick commits nothing unless the bus read succeeds.
func (s *Service) tick() {
	raw, err := s.reader.ReadRaw()
	if err != nil {
		s.fail(err)
		return
	}
	at := s.clock.Now()
	if s.hooks.OnRaw != nil {
		s.hooks.OnRaw(at, raw)
	}
	o := s.est.Update(s.reader.Scale(raw), at)

	s.mu.Lock()
	s.snap.Valid = true
	s.snap.Orientation = o
	s.snap.Ticks++
	s.snap.LastError = ""
	s.snap.UpdatedAt = time.Now().UTC()
	snap := s.snap
	s.mu.Unlock()

	if s.hooks.OnUpdate != nil {
		s.hooks.OnUpdate(snap)
	}
}

func (s *Service) calibrate() (mpu6050.Offset, error) {
	bias, err := s.reader.Calibrate(s.cfg.CalibrationSamples)
	if err != nil {
		s.fail(err)
		return mpu6050.Offset{}, err
	}
	s.reader = s.reader.Recalibrated(bias.Correction())
	// Angles integrated with the old bias are meaningless now.
	s.est.Reset()

	s.mu.Lock()
	s.snap.Offset = s.reader.Offset()
	s.snap.Valid = false
	s.snap.CalibratedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.hooks.OnCalibrate != nil {
		s.hooks.OnCalibrate(bias)
	}
	return bias, nil
}

func (s *Service) fail(err error) {
	s.mu.Lock()
	s.snap.Valid = false
	s.snap.Errors++
	s.snap.LastError = err.Error()
	s.snap.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}
