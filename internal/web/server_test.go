package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"imu-fusion/internal/ahrs"
	"imu-fusion/internal/sensors/mpu6050"
)

type fakeSource struct{ snap ahrs.Snapshot }

func (f *fakeSource) Snapshot() ahrs.Snapshot { return f.snap }

type fakeCalibrator struct {
	bias  mpu6050.Offset
	err   error
	calls int
}

func (f *fakeCalibrator) Calibrate(ctx context.Context) (mpu6050.Offset, error) {
	f.calls++
	return f.bias, f.err
}

func TestAPIOrientation_UnavailableBeforeFirstSample(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{Source: &fakeSource{}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/orientation")
	if err != nil {
		t.Fatalf("get orientation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code=%d want 503", resp.StatusCode)
	}
}

func TestAPIOrientation_ReturnsSnapshot(t *testing.T) {
	src := &fakeSource{snap: ahrs.Snapshot{Valid: true, Ticks: 3, Orientation: ahrs.Orientation{Roll: 12.5, Pitch: -3, Yaw: 7}}}
	ts := httptest.NewServer(Handler(Deps{Source: src}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/orientation")
	if err != nil {
		t.Fatalf("get orientation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	var got ahrs.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if !got.Valid || got.Ticks != 3 || got.Orientation.Roll != 12.5 || got.Orientation.Yaw != 7 {
		t.Fatalf("snapshot=%+v", got)
	}
}

func TestAPIOrientation_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{Source: &fakeSource{}}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/orientation", "application/json", nil)
	if err != nil {
		t.Fatalf("post orientation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodGet {
		t.Fatalf("status code=%d allow=%q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestAPICalibrate(t *testing.T) {
	cal := &fakeCalibrator{bias: mpu6050.Offset{AccelX: 0.58, GyroZ: -0.6}}
	ts := httptest.NewServer(Handler(Deps{Calibrator: cal}))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/calibrate", "application/json", nil)
	if err != nil {
		t.Fatalf("post calibrate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var got CalibrateResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if got.Bias != cal.bias || got.Correction != cal.bias.Correction() {
		t.Fatalf("resp=%+v", got)
	}
	if cal.calls != 1 {
		t.Fatalf("calls=%d want 1", cal.calls)
	}
}

func TestAPICalibrate_ErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("ahrs: %w", mpu6050.ErrInvalidCalibrationState), http.StatusServiceUnavailable},
		{&mpu6050.BusError{Op: "read", Reg: 0x3B, Err: errors.New("nack")}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("ahrs: calibration already in progress"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(Handler(Deps{Calibrator: &fakeCalibrator{err: tc.err}}))
		resp, err := http.Post(ts.URL+"/api/calibrate", "application/json", nil)
		if err != nil {
			ts.Close()
			t.Fatalf("post calibrate: %v", err)
		}
		resp.Body.Close()
		ts.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("err=%v status=%d want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}

func TestMissingDepsAre404(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	defer ts.Close()

	for _, p := range []string{"/api/orientation", "/ws", "/metrics", "/api/logs", "/nope"} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("get %s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status=%d want 404", p, resp.StatusCode)
		}
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(Deps{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/ws") {
		t.Fatalf("status code=%d body=%q", resp.StatusCode, body)
	}
}

func TestMetricsRoute(t *testing.T) {
	m := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "imu_ticks_total 1\n") })
	ts := httptest.NewServer(Handler(Deps{Metrics: m}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "imu_ticks_total 1\n" {
		t.Fatalf("body=%q", body)
	}
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(ahrs.Snapshot{Ticks: 1, Orientation: ahrs.Orientation{Roll: 1}})

	ts := httptest.NewServer(Handler(Deps{Broadcaster: b}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got ahrs.Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read last value: %v", err)
	}
	if got.Ticks != 1 || got.Orientation.Roll != 1 {
		t.Fatalf("first=%+v want last published", got)
	}

	b.Publish(ahrs.Snapshot{Ticks: 2, Orientation: ahrs.Orientation{Roll: 2}})
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if got.Ticks != 2 || got.Orientation.Roll != 2 {
		t.Fatalf("second=%+v", got)
	}
}

func TestBroadcaster_UnsubscribeClosesAndSkipsSlow(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(1)
	b.Publish(ahrs.Snapshot{Ticks: 1})
	b.Publish(ahrs.Snapshot{Ticks: 2}) // dropped, buffer full
	if s := <-ch; s.Ticks != 1 {
		t.Fatalf("ticks=%d want 1", s.Ticks)
	}
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers=%d want 1", b.Subscribers())
	}
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d want 0", b.Subscribers())
	}
	var nilB *Broadcaster
	nilB.Publish(ahrs.Snapshot{})
}

func TestLogBuffer(t *testing.T) {
	lb := NewLogBuffer(2)
	l := log.New(lb, "", 0)
	l.Printf("one")
	l.Printf("two")
	l.Printf("three")
	_, _ = lb.Write([]byte("partial"))

	lines, dropped := lb.Tail(10)
	if strings.Join(lines, "|") != "two|three" || dropped != 1 {
		t.Fatalf("lines=%v dropped=%d", lines, dropped)
	}

	_, _ = lb.Write([]byte(" done\n"))
	lines, _ = lb.Tail(1)
	if len(lines) != 1 || lines[0] != "partial done" {
		t.Fatalf("lines=%v", lines)
	}

	ts := httptest.NewServer(Handler(Deps{Logs: lb}))
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/api/logs?format=text")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "[dropped=2]") || !strings.Contains(string(body), "partial done") {
		t.Fatalf("body=%q", body)
	}
}
