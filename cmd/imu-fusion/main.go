package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"imu-fusion/internal/config"
	"imu-fusion/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./imu.yaml", "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(1000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("imu-fusion starting config=%s", configPath)

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer rt.Close()

	if cfg.Web.Enable {
		h := web.Handler(web.Deps{
			Source:      rt.svc,
			Calibrator:  rt.svc,
			Broadcaster: rt.stream,
			Metrics:     rt.metrics.Handler(),
			Logs:        logs,
		})
		log.Printf("web listen=%s", cfg.Web.Listen)
		go func() {
			if err := web.Serve(ctx, cfg.Web.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Printf("imu-fusion stopping")
}
