package transport

import (
	"sync"
	"time"
)

// errorWindow counts protocol errors in a rolling window. A sustained
// burst indicates peer desync that is cheaper to resolve by reconnecting
// than by continuing to guess at frame boundaries.
type errorWindow struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	stamps []time.Time
}

func newErrorWindow(window time.Duration, limit int) *errorWindow {
	return &errorWindow{window: window, limit: limit}
}

// Record adds one error at now and reports whether the burst limit is
// now exceeded.
func (w *errorWindow) Record(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	w.stamps = append(w.stamps, now)
	return len(w.stamps) > w.limit
}

// Count returns the in-window error count at now.
func (w *errorWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.stamps)
}

func (w *errorWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stamps = w.stamps[:0]
}

func (w *errorWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
