// Package drdy turns the MPU-6050 INT pin into a tick channel for the
// sampling service. The sensor raises INT on each new output sample once
// the data-ready interrupt is enabled.
package drdy

import "sync"

// Source delivers one tick per data-ready edge. Edges that arrive while a
// tick is still pending are coalesced.
type Source struct {
	mu      sync.Mutex
	closed  bool
	ch      chan struct{}
	edges   uint64
	dropped uint64

	release func() error
}

func newSource(release func() error) *Source {
	return &Source{ch: make(chan struct{}, 1), release: release}
}

// C is closed by Close.
func (s *Source) C() <-chan struct{} { return s.ch }

// Counts reports the edges seen and how many were coalesced into a
// pending tick.
func (s *Source) Counts() (edges, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edges, s.dropped
}

func (s *Source) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.edges++
	select {
	case s.ch <- struct{}{}:
	default:
		s.dropped++
	}
}

func (s *Source) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.release != nil {
		err = s.release()
		s.release = nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	return err
}
