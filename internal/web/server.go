package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/sensors/mpu6050"
)

const calibrateTimeout = 30 * time.Second

// Source exposes the latest sampling snapshot. Implementations must be safe
// to call concurrently.
type Source interface {
	Snapshot() ahrs.Snapshot
}

// Calibrator runs a stationary bias calibration.
type Calibrator interface {
	Calibrate(ctx context.Context) (mpu6050.Offset, error)
}

// Deps are the optional collaborators behind each route. A nil dependency
// turns its route into 404.
type Deps struct {
	Source      Source
	Calibrator  Calibrator
	Broadcaster *Broadcaster
	Metrics     http.Handler
	Logs        *LogBuffer
}

type CalibrateResponse struct {
	Bias       mpu6050.Offset `json:"bias"`
	Correction mpu6050.Offset `json:"correction"`
}

type AboutResponse struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if d.Source == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		snap := d.Source.Snapshot()
		if snap.Ticks == 0 {
			http.Error(w, "no sample yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if d.Calibrator == nil {
			http.Error(w, "ahrs unavailable", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), calibrateTimeout)
		defer cancel()
		bias, err := d.Calibrator.Calibrate(ctx)
		if err != nil {
			http.Error(w, err.Error(), calibrateStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, CalibrateResponse{Bias: bias, Correction: bias.Correction()})
	})

	if d.Broadcaster != nil {
		mux.Handle("/ws", streamHandler(d.Broadcaster))
	}
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}
	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	mux.HandleFunc("/api/about", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		resp := AboutResponse{
			Service:   "imu-fusion",
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
		}
		if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
			resp.Version = bi.Main.Version
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					resp.Commit = s.Value
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, indexHTML)
	})

	return mux
}

func calibrateStatus(err error) int {
	switch {
	case errors.Is(err, mpu6050.ErrInvalidCalibrationState), errors.Is(err, mpu6050.ErrBus):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Calibration holds the request open; websocket writes set their own
		// deadlines after the upgrade.
		WriteTimeout:   calibrateTimeout + 5*time.Second,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>imu-fusion</title>
<style>body{font-family:monospace;margin:2em}td{padding:0 1em}</style></head>
<body>
<h1>imu-fusion</h1>
<table>
<tr><td>roll</td><td id="roll">-</td></tr>
<tr><td>pitch</td><td id="pitch">-</td></tr>
<tr><td>yaw</td><td id="yaw">-</td></tr>
<tr><td>valid</td><td id="valid">-</td></tr>
</table>
<p><a href="/api/orientation">/api/orientation</a> <a href="/metrics">/metrics</a> <a href="/api/logs?format=text">/api/logs</a></p>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (ev) => {
  const s = JSON.parse(ev.data);
  for (const k of ["roll", "pitch", "yaw"]) {
    document.getElementById(k).textContent = s.orientation[k].toFixed(2);
  }
  document.getElementById("valid").textContent = s.valid;
};
</script>
</body></html>
`
