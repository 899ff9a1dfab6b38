// Package health tracks request outcomes over sliding windows for the
// /health endpoint: error rate (degraded detection), rate-limit denials
// (overload detection), and raw request volume (idle detection).
package health

import (
	"sync"
	"time"
)

// Outcome classifies a completed request for window accounting.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeDenied
)

var defaultTracker Tracker

// Record adds one outcome to the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RequestCount returns all outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// ErrorRate returns (errors, successes+errors) within the window. Denials
// are excluded from the total so 429s cannot mask upstream degradation.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears the process-wide tracker. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps per-outcome timestamp lists, pruned on write against the
// longest window anyone queries.
type Tracker struct {
	mu      sync.Mutex
	success []time.Time
	errors  []time.Time
	denied  []time.Time
}

// maxWindow bounds retained history; queries never exceed this in practice.
const maxWindow = 30 * time.Minute

// Record adds one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	switch o {
	case OutcomeSuccess:
		t.success = append(t.success, now)
	case OutcomeError:
		t.errors = append(t.errors, now)
	case OutcomeDenied:
		t.denied = append(t.denied, now)
	}
	t.pruneLocked(now)
}

// RequestCount returns all outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	return countSince(t.success, cutoff) + countSince(t.errors, cutoff) + countSince(t.denied, cutoff)
}

// DenialCount returns denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denied, time.Now().Add(-window))
}

// ErrorRate returns (errors, successes+errors) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	e := countSince(t.errors, cutoff)
	s := countSince(t.success, cutoff)
	return e, e + s
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success = nil
	t.errors = nil
	t.denied = nil
}

func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxWindow)
	t.success = dropBefore(t.success, cutoff)
	t.errors = dropBefore(t.errors, cutoff)
	t.denied = dropBefore(t.denied, cutoff)
}

func dropBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0:0], times[i:]...)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(times) - 1; i >= 0; i-- {
		if times[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
