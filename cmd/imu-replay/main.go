// Command imu-replay feeds a recorded raw sample log back through the
// scale and fusion stages and prints the orientation as CSV. Recorded
// timestamps drive dt, so a log replays identically every time.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/config"
	"imu-fusion/internal/replay"
)

func main() {
	var (
		inPath     string
		configPath string
		gain       float64
		speed      float64
		plotPath   string
		summary    bool
	)
	flag.StringVar(&inPath, "in", "raw.log", "Raw sample log written by imu-fusion record")
	flag.StringVar(&configPath, "config", "", "YAML config supplying ahrs gain/max_dt and the imu.offset for sessions that recorded none; defaults apply when empty")
	flag.Float64Var(&gain, "gain", -1, "Override complementary gain in [0,1]")
	flag.Float64Var(&speed, "speed", 0, "Replay pacing multiplier (0 = as fast as possible)")
	flag.StringVar(&plotPath, "plot", "", "Also write a roll/pitch/yaw PNG to this path")
	flag.BoolVar(&summary, "summary", false, "Print a log summary instead of CSV")
	flag.Parse()

	recs, err := replay.Open(inPath)
	if err != nil {
		log.Fatalf("read log failed: %v", err)
	}

	if summary {
		printSummary(os.Stdout, inPath, summarize(recs))
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	est := &ahrs.Estimator{Gain: *cfg.AHRS.Gain, MaxDt: cfg.AHRS.MaxDt.Seconds()}
	if gain >= 0 {
		if gain > 1 {
			log.Fatalf("gain must be within [0,1]")
		}
		est.Gain = gain
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	var sleeper replay.Sleeper = noSleep{}
	if speed > 0 {
		sleeper = nil
	} else {
		speed = 1
	}

	pts, err := run(recs, *cfg.IMU.Offset, est, speed, sleeper, w)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	if plotPath != "" {
		if err := savePlot(plotPath, pts); err != nil {
			log.Fatalf("plot failed: %v", err)
		}
		log.Printf("plot written path=%s points=%d", plotPath, len(pts))
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}
