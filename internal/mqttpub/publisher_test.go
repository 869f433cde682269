package mqttpub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"imu-fusion/internal/ahrs"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	connectTok *fakeToken
	publishTok *fakeToken
	// block, when set, stalls every Publish until it is closed.
	block chan struct{}

	pubs       chan published
	disconnect bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{pubs: make(chan published, 64)}
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectTok == nil {
		return &fakeToken{}
	}
	return c.connectTok
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if c.block != nil {
		<-c.block
	}
	c.pubs <- published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)}
	if c.publishTok == nil {
		return &fakeToken{}
	}
	return c.publishTok
}

func (c *fakeClient) Disconnect(uint) { c.disconnect = true }

func nextPub(t *testing.T, c *fakeClient) published {
	t.Helper()
	select {
	case p := <-c.pubs:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing published")
	}
	return published{}
}

func decode(t *testing.T, b []byte) Message {
	t.Helper()
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return m
}

func TestPublish_RetainedQoS0JSON(t *testing.T) {
	fc := newFakeClient()
	p, err := connect(fc, "imu/orientation", nil)
	if err != nil {
		t.Fatalf("connect() error: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := ahrs.Snapshot{Valid: true, Orientation: ahrs.Orientation{Roll: 1, Pitch: 2, Yaw: 3}, UpdatedAt: at}
	if err := p.Publish(snap); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	got := nextPub(t, fc)
	if got.topic != "imu/orientation" || got.qos != 0 || !got.retained {
		t.Fatalf("topic=%q qos=%d retained=%v", got.topic, got.qos, got.retained)
	}
	m := decode(t, got.payload)
	if !m.Valid || m.Roll != 1 || m.Pitch != 2 || m.Yaw != 3 || !m.Timestamp.Equal(at) {
		t.Fatalf("message=%+v", m)
	}

	p.Close()
	if !fc.disconnect {
		t.Fatalf("expected Disconnect")
	}
	if err := p.Publish(snap); err == nil {
		t.Fatalf("expected error publishing after Close")
	}
	p.Close()
}

func TestConnect_Errors(t *testing.T) {
	boom := errors.New("refused")
	if _, err := connect(&fakeClient{connectTok: &fakeToken{err: boom}}, "t", nil); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if _, err := connect(&fakeClient{connectTok: &fakeToken{timeout: true}}, "t", nil); err == nil {
		t.Fatalf("expected timeout error")
	}
	if _, err := Connect(Config{Topic: "t"}); err == nil {
		t.Fatalf("expected error for empty broker")
	}
	if _, err := Connect(Config{Broker: "tcp://localhost:1883"}); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}

func TestPublish_ErrorsGoToOnError(t *testing.T) {
	boom := errors.New("not connected")
	cases := []struct {
		name string
		tok  *fakeToken
		is   error
	}{
		{name: "TokenError", tok: &fakeToken{err: boom}, is: boom},
		{name: "Timeout", tok: &fakeToken{timeout: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := newFakeClient()
			fc.publishTok = tc.tok
			errs := make(chan error, 1)
			p, err := connect(fc, "t", func(err error) { errs <- err })
			if err != nil {
				t.Fatalf("connect() error: %v", err)
			}
			defer p.Close()
			if err := p.Publish(ahrs.Snapshot{}); err != nil {
				t.Fatalf("Publish() error: %v", err)
			}
			select {
			case err := <-errs:
				if tc.is != nil && !errors.Is(err, tc.is) {
					t.Fatalf("err=%v want %v", err, tc.is)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("no error reported")
			}
		})
	}
}

// A stalled broker must not hold up the caller; the newest pose wins.
func TestPublish_StalledBrokerDoesNotBlock(t *testing.T) {
	fc := newFakeClient()
	fc.block = make(chan struct{})
	p, err := connect(fc, "t", nil)
	if err != nil {
		t.Fatalf("connect() error: %v", err)
	}
	defer p.Close()

	const n = 20
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= n; i++ {
			_ = p.Publish(ahrs.Snapshot{Orientation: ahrs.Orientation{Roll: float64(i)}})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		close(fc.block)
		t.Fatalf("Publish blocked on a stalled broker")
	}
	if p.Dropped() == 0 {
		t.Fatalf("dropped=0 want > 0")
	}

	close(fc.block)
	for {
		if m := decode(t, nextPub(t, fc).payload); m.Roll == n {
			break
		}
	}
}
