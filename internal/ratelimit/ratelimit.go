// Package ratelimit gates ticket submissions per user.
package ratelimit

import (
	"fmt"
	"time"
)

// Limiter checks submission attempts against a sliding window.
type Limiter struct {
	MaxRequests int
	Interval    time.Duration
}

// Decision is the outcome of one check. WindowStart and Count are the
// counter values the caller must commit if, and only if, the guarded action
// actually proceeds. A denied check commits nothing, so an elapsed window
// is reset lazily on the next allowed action rather than on the check.
type Decision struct {
	Allowed     bool
	RetryAfter  time.Duration
	WindowStart time.Time
	Count       int
}

// Check evaluates one attempt at time now against the session's counters.
func (l Limiter) Check(windowStart time.Time, count int, now time.Time) Decision {
	if l.MaxRequests <= 0 {
		return Decision{Allowed: false, RetryAfter: l.Interval, WindowStart: windowStart, Count: count}
	}
	start := windowStart
	if windowStart.IsZero() || now.Sub(windowStart) >= l.Interval {
		start = now
		count = 0
	}
	if count >= l.MaxRequests {
		return Decision{
			Allowed:     false,
			RetryAfter:  l.Interval - now.Sub(start),
			WindowStart: windowStart,
			Count:       count,
		}
	}
	return Decision{Allowed: true, WindowStart: start, Count: count + 1}
}

// FormatWait renders a wait duration as HH:MM:SS for user notices.
func FormatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
