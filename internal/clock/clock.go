package clock

import "time"

// Clock supplies "now" to windowed queries and event stamps so
// boundary behavior is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant.
type Fixed struct {
	At time.Time
}

func (c Fixed) Now() time.Time { return c.At }
