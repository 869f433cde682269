// Package metrics exposes sampling loop health and the latest orientation
// as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/sensors/mpu6050"
)

type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	busErrors    prometheus.Counter
	degenerate   prometheus.Counter
	calibrations prometheus.Counter
	angle        *prometheus.GaugeVec
	offset       *prometheus.GaugeVec
	dt           prometheus.Histogram
	valid        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imu_ticks_total",
			Help: "Successful sampling ticks.",
		}),
		busErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imu_bus_errors_total",
			Help: "Ticks or calibrations that failed on the bus.",
		}),
		degenerate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imu_degenerate_samples_total",
			Help: "Samples whose accelerometer vector gave no usable tilt.",
		}),
		calibrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imu_calibrations_total",
			Help: "Completed calibrations.",
		}),
		angle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imu_orientation_degrees",
			Help: "Latest fused orientation.",
		}, []string{"axis"}),
		offset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "imu_calibration_bias",
			Help: "Last measured bias (tilt degrees, gyro deg/s).",
		}, []string{"term"}),
		dt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imu_tick_interval_seconds",
			Help:    "Integration step between ticks.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		valid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imu_snapshot_valid",
			Help: "1 while the latest tick succeeded.",
		}),
	}
	m.reg.MustRegister(m.ticks, m.busErrors, m.degenerate, m.calibrations, m.angle, m.offset, m.dt, m.valid)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSnapshot(s ahrs.Snapshot) {
	m.ticks.Inc()
	if s.Orientation.Degenerate {
		m.degenerate.Inc()
	}
	if s.Orientation.Dt > 0 {
		m.dt.Observe(s.Orientation.Dt)
	}
	m.angle.WithLabelValues("roll").Set(s.Orientation.Roll)
	m.angle.WithLabelValues("pitch").Set(s.Orientation.Pitch)
	m.angle.WithLabelValues("yaw").Set(s.Orientation.Yaw)
	m.setValid(s.Valid)
}

func (m *Metrics) ObserveError(error) {
	m.busErrors.Inc()
	m.setValid(false)
}

func (m *Metrics) ObserveCalibration(bias mpu6050.Offset) {
	m.calibrations.Inc()
	m.offset.WithLabelValues("accel_x").Set(bias.AccelX)
	m.offset.WithLabelValues("accel_y").Set(bias.AccelY)
	m.offset.WithLabelValues("gyro_x").Set(bias.GyroX)
	m.offset.WithLabelValues("gyro_y").Set(bias.GyroY)
	m.offset.WithLabelValues("gyro_z").Set(bias.GyroZ)
}

func (m *Metrics) setValid(v bool) {
	if v {
		m.valid.Set(1)
		return
	}
	m.valid.Set(0)
}
