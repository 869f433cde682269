package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/config"
	"imu-fusion/internal/drdy"
	"imu-fusion/internal/i2c"
	"imu-fusion/internal/metrics"
	"imu-fusion/internal/mqttpub"
	"imu-fusion/internal/replay"
	"imu-fusion/internal/sensors/mpu6050"
	"imu-fusion/internal/sim"
	"imu-fusion/internal/udp"
	"imu-fusion/internal/web"
)

const errLogEvery = 5 * time.Second

// runtime owns the bus, the sampling service and every sink fed from its
// hooks.
type runtime struct {
	port    i2c.Port
	svc     *ahrs.Service
	drdy    *drdy.Source
	rec     *replay.Writer
	udp     *udp.Broadcaster
	mqtt    *mqttpub.Publisher
	metrics *metrics.Metrics
	stream  *web.Broadcaster

	tickErrs throttle
	sinkErrs throttle
}

func newRuntime(ctx context.Context, cfg config.Config) (_ *runtime, err error) {
	rt := &runtime{
		metrics:  metrics.New(),
		stream:   web.NewBroadcaster(),
		tickErrs: throttle{every: errLogEvery},
		sinkErrs: throttle{every: errLogEvery},
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.port, err = openPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("i2c open: %w", err)
	}

	opts := []mpu6050.Option{mpu6050.WithOffset(*cfg.IMU.Offset)}
	if cfg.AHRS.DRDY.Enable {
		opts = append(opts, mpu6050.WithDataReady())
	}
	reader, err := mpu6050.New(rt.port, cfg.IMU.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("mpu6050 init: %w", err)
	}
	if who, err := reader.WhoAmI(); err != nil {
		log.Printf("mpu6050 who_am_i failed: %v", err)
	} else if who != 0x68 {
		log.Printf("mpu6050 who_am_i=0x%02X (expected 0x68), continuing", who)
	}
	log.Printf("ahrs enabled driver=%s bus=%d addr=0x%02X gain=%.2f interval=%s",
		cfg.I2C.Driver, *cfg.I2C.Bus, cfg.IMU.Addr, *cfg.AHRS.Gain, cfg.AHRS.Interval)

	svcOpts := []ahrs.Option{}
	if cfg.AHRS.DRDY.Enable {
		rt.drdy, err = drdy.Open(cfg.AHRS.DRDY.Chip, cfg.AHRS.DRDY.Line)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, ahrs.WithTicks(rt.drdy.C()))
		log.Printf("ahrs drdy chip=%s line=%s", cfg.AHRS.DRDY.Chip, cfg.AHRS.DRDY.Line)
	}

	if cfg.Record.Enable {
		rt.rec, err = replay.CreateWriter(cfg.Record.Path)
		if err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
		if err := rt.rec.WriteStart(reader.Offset()); err != nil {
			return nil, fmt.Errorf("record: %w", err)
		}
		log.Printf("record path=%s", cfg.Record.Path)
	}
	if cfg.UDP.Enable {
		rt.udp, err = udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			return nil, fmt.Errorf("udp: %w", err)
		}
		log.Printf("udp dest=%s", cfg.UDP.Dest)
	}
	if cfg.MQTT.Enable {
		rt.mqtt, err = mqttpub.Connect(mqttpub.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			OnError:  func(err error) { rt.sinkErr("mqtt", err) },
		})
		if err != nil {
			return nil, err
		}
		log.Printf("mqtt broker=%s topic=%s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}

	svcOpts = append(svcOpts, ahrs.WithHooks(rt.hooks()))
	rt.svc = ahrs.New(ahrs.Config{
		Enable:             cfg.AHRS.Enable,
		Interval:           cfg.AHRS.Interval,
		Gain:               *cfg.AHRS.Gain,
		MaxDt:              *cfg.AHRS.MaxDt,
		CalibrationSamples: cfg.AHRS.CalibrationSamples,
		CalibrateOnStart:   cfg.AHRS.CalibrateOnStart,
	}, reader, svcOpts...)
	if err := rt.svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("ahrs start: %w", err)
	}
	return rt, nil
}

func openPort(cfg config.Config) (i2c.Port, error) {
	if cfg.I2C.Driver == sim.Driver {
		d := sim.NewDevice(cfg.Sim.Device(cfg.IMU.Addr))
		log.Printf("i2c simulated device %s", d)
		return d, nil
	}
	return i2c.OpenPort(cfg.I2C.Driver, *cfg.I2C.Bus)
}

func (rt *runtime) hooks() ahrs.Hooks {
	h := ahrs.Hooks{
		OnUpdate: func(s ahrs.Snapshot) {
			rt.metrics.ObserveSnapshot(s)
			rt.stream.Publish(s)
			if rt.udp != nil {
				if err := rt.udp.SendOrientation(s.Orientation); err != nil {
					rt.sinkErr("udp", err)
				}
			}
			if rt.mqtt != nil {
				if err := rt.mqtt.Publish(s); err != nil {
					rt.sinkErr("mqtt", err)
				}
			}
		},
		OnError: func(err error) {
			rt.metrics.ObserveError(err)
			if ok, n := rt.tickErrs.allow(time.Now()); ok {
				log.Printf("ahrs tick failed suppressed=%d err=%v", n, err)
			}
		},
		OnCalibrate: func(bias mpu6050.Offset) {
			rt.metrics.ObserveCalibration(bias)
			logReport(bias)
			// The estimator restarted with a new offset; so does the log.
			if rt.rec != nil {
				if err := rt.rec.WriteStart(bias.Correction()); err != nil {
					rt.sinkErr("record", err)
				}
			}
		},
	}
	if rt.rec != nil {
		h.OnRaw = func(at time.Duration, raw mpu6050.RawSample) {
			if err := rt.rec.WriteSample(at, raw); err != nil {
				rt.sinkErr("record", err)
			}
		}
	}
	return h
}

func (rt *runtime) sinkErr(sink string, err error) {
	if ok, n := rt.sinkErrs.allow(time.Now()); ok {
		log.Printf("%s send failed suppressed=%d err=%v", sink, n, err)
	}
}

// Close stops sampling before tearing down the sinks it feeds.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.svc != nil {
		rt.svc.Close()
	}
	if rt.drdy != nil {
		_ = rt.drdy.Close()
	}
	if rt.rec != nil {
		if err := rt.rec.Close(); err != nil {
			log.Printf("record close failed: %v", err)
		}
	}
	if rt.udp != nil {
		_ = rt.udp.Close()
	}
	rt.mqtt.Close()
	if rt.port != nil {
		_ = rt.port.Close()
	}
}

func logReport(bias mpu6050.Offset) {
	var b bytes.Buffer
	_ = mpu6050.WriteReport(&b, bias)
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		log.Printf("calibration %s", line)
	}
	c := bias.Correction()
	log.Printf("calibration correction accel_x=%.2f accel_y=%.2f gyro_x=%.2f gyro_y=%.2f gyro_z=%.2f",
		c.AccelX, c.AccelY, c.GyroX, c.GyroY, c.GyroZ)
}

// throttle rate-limits repeated log lines and counts what it swallowed.
type throttle struct {
	mu         sync.Mutex
	every      time.Duration
	last       time.Time
	suppressed int
}

func (t *throttle) allow(now time.Time) (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		t.suppressed++
		return false, 0
	}
	n := t.suppressed
	t.last = now
	t.suppressed = 0
	return true, n
}
