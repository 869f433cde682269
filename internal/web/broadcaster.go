package web

import (
	"sync"

	"imu-fusion/internal/ahrs"
)

// Broadcaster fans out sampling snapshots to websocket listeners. It keeps
// the most recent value so new subscribers get an immediate sample. Slow
// subscribers miss updates rather than stall the sampling loop.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan ahrs.Snapshot
	nextID   int
	last     ahrs.Snapshot
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan ahrs.Snapshot)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan ahrs.Snapshot) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan ahrs.Snapshot, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish never blocks.
func (b *Broadcaster) Publish(s ahrs.Snapshot) {
	if b == nil {
		return
	}
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = s
	b.haveLast = true
	b.mu.Unlock()
}
