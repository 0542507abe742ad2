package parser

import "sync"

// MaxFailures is the number of consecutive generic failures after which
// the fallback parser is tried
const MaxFailures = 3

// FailureTracker counts consecutive structured parse failures. It is safe
// for concurrent use; parsers that should trip together share one tracker.
type FailureTracker struct {
	mu       sync.Mutex
	failures int
	max      int
}

// NewFailureTracker creates a tracker that trips after MaxFailures
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{max: MaxFailures}
}

// RecordSuccess closes the breaker
func (t *FailureTracker) RecordSuccess() {
	t.mu.Lock()
	t.failures = 0
	t.mu.Unlock()
}

// RecordFailure counts a generic failure. When the count reaches the
// threshold the breaker trips: tripped is true and the counter re-arms at
// zero within the same critical section, so exactly one caller per
// excursion sees the trip.
func (t *FailureTracker) RecordFailure() (count int, tripped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures++
	count = t.failures
	if t.failures >= t.max {
		t.failures = 0
		return count, true
	}
	return count, false
}

// Failures returns the current consecutive failure count
func (t *FailureTracker) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// Reset clears the failure count
func (t *FailureTracker) Reset() {
	t.RecordSuccess()
}
