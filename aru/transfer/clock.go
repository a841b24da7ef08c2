package transfer

import "time"

// Clock supplies event timestamps in seconds.
type Clock interface {
	Now() uint64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() uint64

// Now calls f.
func (f ClockFunc) Now() uint64 { return f() }

// SystemClock reads the wall clock as Unix seconds.
type SystemClock struct{}

// Now returns the current Unix time in seconds.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix()) //nolint:gosec // wall clock is after 1970
}

// FixedClock always returns the same timestamp.
type FixedClock uint64

// Now returns c.
func (c FixedClock) Now() uint64 { return uint64(c) }
