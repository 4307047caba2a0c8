package domain

import "github.com/jonboulle/clockwork"

// clock is a package-level time source so tests can freeze time via SetClock.
// Production code uses the real clock; tests inject a fake for deterministic
// ValidUntil and UpdatedAt values.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for the domain package. Pass nil to reset
// to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// NowMillis returns the current time as Unix epoch milliseconds, the unit
// every persisted timestamp uses.
func NowMillis() int64 {
	return clock.Now().UnixMilli()
}
