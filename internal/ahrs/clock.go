package ahrs

import "time"

// Clock reports monotonic time elapsed since an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	start time.Time
}

// NewMonotonicClock measures from the moment it is created. time.Since
// uses the monotonic reading, so wall clock steps do not leak into dt.
func NewMonotonicClock() Clock {
	return monotonicClock{start: time.Now()}
}

func (c monotonicClock) Now() time.Duration { return time.Since(c.start) }
