// Package mqttpub publishes orientation snapshots to an MQTT broker as
// retained QoS 0 JSON messages, so late subscribers see the latest pose.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"imu-fusion/internal/ahrs"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 250 * time.Millisecond
	quiesceMs      = 250
)

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	// OnError receives publish failures from the sending goroutine.
	OnError func(error)
}

// client is the subset of mqtt.Client used here.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Message is the published payload.
type Message struct {
	Valid     bool      `json:"valid"`
	Roll      float64   `json:"roll"`
	Pitch     float64   `json:"pitch"`
	Yaw       float64   `json:"yaw"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher hands payloads to one sending goroutine. Publish never waits
// on the broker: if the previous pose is still queued it is replaced.
type Publisher struct {
	c     client
	topic string
	onErr func(error)

	queue   chan []byte
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Connect dials the broker. Paho reconnects on its own after the first
// successful connection.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqttpub: broker is empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqttpub: topic is empty")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	return connect(mqtt.NewClient(opts), cfg.Topic, cfg.OnError)
}

func connect(c client, topic string, onErr func(error)) (*Publisher, error) {
	tok := c.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqttpub: connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqttpub: connect: %w", err)
	}
	p := &Publisher{
		c:     c,
		topic: topic,
		onErr: onErr,
		queue: make(chan []byte, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *Publisher) Topic() string { return p.topic }

// Dropped counts poses replaced before they were sent.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

func (p *Publisher) Publish(s ahrs.Snapshot) error {
	select {
	case <-p.stop:
		return fmt.Errorf("mqttpub: publisher closed")
	default:
	}
	payload, err := json.Marshal(Message{
		Valid:     s.Valid,
		Roll:      s.Orientation.Roll,
		Pitch:     s.Orientation.Pitch,
		Yaw:       s.Orientation.Yaw,
		Timestamp: s.UpdatedAt,
	})
	if err != nil {
		return err
	}

	select {
	case p.queue <- payload:
		return nil
	default:
	}
	select {
	case <-p.queue:
		p.dropped.Add(1)
	default:
	}
	select {
	case p.queue <- payload:
	default:
		p.dropped.Add(1)
	}
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case b := <-p.queue:
			if err := p.send(b); err != nil && p.onErr != nil {
				p.onErr(err)
			}
		}
	}
}

func (p *Publisher) send(payload []byte) error {
	tok := p.c.Publish(p.topic, 0, true, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqttpub: publish to %s timed out", p.topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqttpub: publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close stops the sender, waiting for an in-flight publish, and
// disconnects.
func (p *Publisher) Close() {
	if p == nil || p.c == nil {
		return
	}
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		p.c.Disconnect(quiesceMs)
	})
}
