// Command imu-calibrate measures the sensor bias once and prints it in the
// report format plus a YAML imu.offset block ready to paste into the
// daemon config. Keep the board level and still while it runs.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"imu-fusion/internal/config"
	"imu-fusion/internal/i2c"
	"imu-fusion/internal/sensors/mpu6050"
	"imu-fusion/internal/sim"
)

func main() {
	var configPath string
	var samples int
	flag.StringVar(&configPath, "config", "", "Path to YAML config (bus and address); defaults apply when empty")
	flag.IntVar(&samples, "samples", 0, "Reads per sensor (0 = config ahrs.calibration_samples)")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if samples <= 0 {
		samples = cfg.AHRS.CalibrationSamples
	}

	var port i2c.Port
	if cfg.I2C.Driver == sim.Driver {
		port = sim.NewDevice(cfg.Sim.Device(cfg.IMU.Addr))
	} else {
		port, err = i2c.OpenPort(cfg.I2C.Driver, *cfg.I2C.Bus)
	}
	if err != nil {
		log.Fatalf("i2c open failed: %v", err)
	}
	defer port.Close()

	// No offset: calibration measures the raw bias.
	reader, err := mpu6050.New(port, cfg.IMU.Addr)
	if err != nil {
		log.Fatalf("mpu6050 init failed: %v", err)
	}

	log.Printf("calibrating driver=%s bus=%d addr=0x%02X samples=%d", cfg.I2C.Driver, *cfg.I2C.Bus, cfg.IMU.Addr, samples)
	bias, err := reader.Calibrate(samples)
	if err != nil {
		log.Fatalf("calibration failed: %v", err)
	}
	if err := printResult(os.Stdout, bias); err != nil {
		log.Fatalf("write failed: %v", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

type offsetBlock struct {
	IMU struct {
		Offset mpu6050.Offset `yaml:"offset"`
	} `yaml:"imu"`
}

func printResult(w io.Writer, bias mpu6050.Offset) error {
	if err := mpu6050.WriteReport(w, bias); err != nil {
		return err
	}
	var blk offsetBlock
	blk.IMU.Offset = bias.Correction()
	b, err := yaml.Marshal(blk)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\n# correction for the daemon config\n%s", b)
	return err
}
