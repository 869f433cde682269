package drdy

import (
	"errors"
	"testing"
)

func TestSource_CoalescesPendingEdges(t *testing.T) {
	s := newSource(nil)
	s.notify()
	s.notify()
	s.notify()

	<-s.C()
	select {
	case <-s.C():
		t.Fatalf("expected a single pending tick")
	default:
	}
	edges, dropped := s.Counts()
	if edges != 3 || dropped != 2 {
		t.Fatalf("edges=%d dropped=%d want 3/2", edges, dropped)
	}
}

func TestSource_CloseReleasesAndClosesChannel(t *testing.T) {
	boom := errors.New("busy")
	calls := 0
	s := newSource(func() error { calls++; return boom })

	if err := s.Close(); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
	if _, ok := <-s.C(); ok {
		t.Fatalf("channel still open")
	}
	// Edges after close are ignored rather than panicking.
	s.notify()
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if calls != 1 {
		t.Fatalf("release calls=%d want 1", calls)
	}
}
