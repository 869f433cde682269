package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"imu-fusion/internal/i2c"
	"imu-fusion/internal/sensors/mpu6050"
	"imu-fusion/internal/sim"
)

type Config struct {
	I2C    I2CConfig    `yaml:"i2c"`
	IMU    IMUConfig    `yaml:"imu"`
	AHRS   AHRSConfig   `yaml:"ahrs"`
	Record RecordConfig `yaml:"record"`
	UDP    UDPConfig    `yaml:"udp"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Web    WebConfig    `yaml:"web"`
	Sim    SimConfig    `yaml:"sim"`
}

type I2CConfig struct {
	// Driver selects the bus backend: "dev" (/dev/i2c-N), "periph" or
	// "sim" (no hardware, see SimConfig).
	Driver string `yaml:"driver"`
	// Bus is nil when unset so that bus 0 stays selectable.
	Bus *int `yaml:"bus"`
}

type IMUConfig struct {
	Addr   uint16          `yaml:"addr"`
	Offset *mpu6050.Offset `yaml:"offset"`
}

type AHRSConfig struct {
	Enable             bool           `yaml:"enable"`
	Interval           time.Duration  `yaml:"interval"`
	Gain               *float64       `yaml:"gain"`
	MaxDt              *time.Duration `yaml:"max_dt"`
	CalibrationSamples int            `yaml:"calibration_samples"`
	CalibrateOnStart   bool           `yaml:"calibrate_on_start"`
	DRDY               DRDYConfig     `yaml:"drdy"`
}

// DRDYConfig wires the sensor INT pin to a GPIO line used as the tick
// source instead of the interval timer.
type DRDYConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Line   string `yaml:"line"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// SimConfig shapes the simulated sensor used with i2c.driver "sim".
type SimConfig struct {
	RollAmpDeg   float64       `yaml:"roll_amp_deg"`
	PitchAmpDeg  float64       `yaml:"pitch_amp_deg"`
	Period       time.Duration `yaml:"period"`
	YawRateDPS   float64       `yaml:"yaw_rate_dps"`
	GyroBias     [3]float64    `yaml:"gyro_bias"`
	AccelNoiseG  float64       `yaml:"accel_noise_g"`
	GyroNoiseDPS float64       `yaml:"gyro_noise_dps"`
	Seed         int64         `yaml:"seed"`
}

// Device returns the simulator settings for a sensor at addr.
func (c SimConfig) Device(addr uint16) sim.Config {
	return sim.Config{
		Addr: addr,
		Motion: sim.Motion{
			RollAmpDeg:  c.RollAmpDeg,
			PitchAmpDeg: c.PitchAmpDeg,
			Period:      c.Period,
			YawRateDPS:  c.YawRateDPS,
		},
		GyroBias:     c.GyroBias,
		AccelNoiseG:  c.AccelNoiseG,
		GyroNoiseDPS: c.GyroNoiseDPS,
		Seed:         c.Seed,
	}
}

// DefaultOffset is the correction measured on the reference board.
func DefaultOffset() mpu6050.Offset {
	return mpu6050.Offset{AccelX: -0.58, AccelY: 1.58, GyroX: 1.58, GyroY: -0.47, GyroZ: 0.60}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	cfg.I2C.Driver = strings.ToLower(strings.TrimSpace(cfg.I2C.Driver))
	if cfg.I2C.Driver == "" {
		cfg.I2C.Driver = i2c.DriverDev
	}
	switch cfg.I2C.Driver {
	case i2c.DriverDev, i2c.DriverPeriph, sim.Driver:
	default:
		return fmt.Errorf("i2c.driver must be 'dev', 'periph' or 'sim'")
	}
	if cfg.I2C.Bus == nil {
		bus := 1
		cfg.I2C.Bus = &bus
	}
	if *cfg.I2C.Bus < 0 {
		return fmt.Errorf("i2c.bus must be >= 0")
	}

	if cfg.IMU.Addr == 0 {
		cfg.IMU.Addr = mpu6050.DefaultAddress()
	}
	if cfg.IMU.Addr < 0x08 || cfg.IMU.Addr > 0x77 {
		return fmt.Errorf("imu.addr must be within 0x08..0x77")
	}
	if cfg.IMU.Offset == nil {
		off := DefaultOffset()
		cfg.IMU.Offset = &off
	}

	if cfg.AHRS.Interval <= 0 {
		cfg.AHRS.Interval = 10 * time.Millisecond
	}
	if cfg.AHRS.Gain == nil {
		g := 0.96
		cfg.AHRS.Gain = &g
	}
	if *cfg.AHRS.Gain < 0 || *cfg.AHRS.Gain > 1 {
		return fmt.Errorf("ahrs.gain must be within [0,1]")
	}
	// An explicit 0 disables the gap limit.
	if cfg.AHRS.MaxDt == nil {
		d := 500 * time.Millisecond
		cfg.AHRS.MaxDt = &d
	}
	if *cfg.AHRS.MaxDt < 0 {
		return fmt.Errorf("ahrs.max_dt must be >= 0")
	}
	if cfg.AHRS.CalibrationSamples <= 0 {
		cfg.AHRS.CalibrationSamples = mpu6050.DefaultCalibrationSamples
	}
	if cfg.AHRS.DRDY.Enable {
		if strings.TrimSpace(cfg.AHRS.DRDY.Line) == "" {
			return fmt.Errorf("ahrs.drdy.line is required when ahrs.drdy.enable is true")
		}
		if cfg.AHRS.DRDY.Chip == "" {
			cfg.AHRS.DRDY.Chip = "gpiochip0"
		}
	}

	if cfg.Record.Enable && cfg.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	if cfg.UDP.Enable && cfg.UDP.Dest == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "imu-fusion"
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "imu/orientation"
		}
	}

	if cfg.I2C.Driver == sim.Driver {
		if math.Abs(cfg.Sim.RollAmpDeg) > 45 || math.Abs(cfg.Sim.PitchAmpDeg) > 45 {
			return fmt.Errorf("sim amplitudes must be within 45 degrees")
		}
		if cfg.Sim.Period < 0 {
			return fmt.Errorf("sim.period must be >= 0")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}
