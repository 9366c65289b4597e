// Package clock provides an injectable time source so temporal windows,
// timers, and baselines are deterministic under test.
package clock

import "time"

// Clock supplies the current time. Production code uses System(); tests
// use testutil.ManualClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall-clock time source.
func System() Clock { return systemClock{} }

// Millis converts a time to milliseconds since the Unix epoch, the unit
// used on the wire for fact and event timestamps.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts epoch milliseconds back to a time.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
