// Package udp sends orientation frames as single JSON datagrams, one per
// tick, to a fixed destination.
package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"imu-fusion/internal/ahrs"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Frame is the datagram body.
type Frame struct {
	Seq   uint64  `json:"seq"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type Broadcaster struct {
	dest string

	mu   sync.Mutex
	conn udpConn
	seq  uint64
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("udp: broadcaster is closed")
	}
	_, err := b.conn.Write(payload)
	return err
}

// SendOrientation numbers and encodes o as a Frame.
func (b *Broadcaster) SendOrientation(o ahrs.Orientation) error {
	b.mu.Lock()
	b.seq++
	f := Frame{Seq: b.seq, Roll: o.Roll, Pitch: o.Pitch, Yaw: o.Yaw}
	b.mu.Unlock()

	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return b.Send(payload)
}

func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
