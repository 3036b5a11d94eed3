// Package clock is the time source for budget windows and ceiling timers. Production
// code uses Real; tests use Fake and move time explicitly.
package clock

import "time"

// Clock is the subset of the time package the budget engine depends on.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f after d. If d <= 0 the call is scheduled immediately.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was cancelled before it fired.
	Stop() bool
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
