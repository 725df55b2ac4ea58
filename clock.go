package graft

import "time"

// Clock is the core's only seam onto wall-clock time, passed in explicitly
// so that Manifest creation timestamps are reproducible in tests. The GUI
// and CLI collaborators construct a SystemClock at their entry point and
// thread it down; the core never calls time.Now directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock, backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
