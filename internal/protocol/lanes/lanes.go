// Package lanes implements the bounded outbound priority queues and
// their backpressure policy: strict-priority draining, oldest-first
// eviction on the droppable lanes, latest-value-wins coalescing for
// status-style traffic, and a never-drop guarantee for critical.
package lanes

import (
	"context"
	"sync"

	"github.com/scenefall/scenectl/internal/protocol"
)

// DefaultCapacity is the per-lane bound when the config leaves it zero.
const DefaultCapacity = 32

// Dropped describes one evicted envelope, reported to the owner so
// drops are observable rather than silent.
type Dropped struct {
	Lane protocol.Priority
	Env  protocol.Envelope
}

type entry struct {
	env protocol.Envelope
	key string
}

type lane struct {
	entries []entry
}

// Lanes is the four-lane outbound buffer between the decision side and
// the transport writer. All methods are safe for concurrent use; the
// coalescing tie-break is last-write-wins by enqueue order under the
// lane lock.
type Lanes struct {
	mu       sync.Mutex
	capacity int
	lanes    [4]lane
	signal   chan struct{}

	onDrop       func(Dropped)
	onSaturation func(protocol.Priority, int)
}

// Option configures a Lanes at construction.
type Option func(*Lanes)

// WithCapacity sets the per-lane bound.
func WithCapacity(n int) Option {
	return func(l *Lanes) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithDropHandler observes every evicted envelope.
func WithDropHandler(fn func(Dropped)) Option {
	return func(l *Lanes) { l.onDrop = fn }
}

// WithSaturationHandler observes high/critical lanes growing past
// capacity; the session maps this to a degraded-mode signal.
func WithSaturationHandler(fn func(protocol.Priority, int)) Option {
	return func(l *Lanes) { l.onSaturation = fn }
}

func New(opts ...Option) *Lanes {
	l := &Lanes{
		capacity: DefaultCapacity,
		signal:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enqueue routes env by its declared priority.
//
// critical/high always succeed: the lane grows transiently past its
// bound and the saturation handler fires, but nothing is dropped or
// reordered. normal/low make room by evicting the oldest droppable
// entry, reclaiming from low before normal and never touching high.
// A normal-lane envelope with a coalesce key replaces the queued entry
// for the same key in place, preserving its queue position.
func (l *Lanes) Enqueue(env protocol.Envelope) {
	pri := env.Priority
	if !pri.Valid() {
		pri = protocol.PriorityNormal
	}
	l.mu.Lock()
	ln := &l.lanes[pri.Rank()]

	if key := protocol.CoalesceKey(env); key != "" {
		for i := range ln.entries {
			if ln.entries[i].key == key {
				ln.entries[i].env = env
				l.mu.Unlock()
				l.notify()
				return
			}
		}
		l.push(ln, pri, entry{env: env, key: key})
		l.mu.Unlock()
		l.notify()
		return
	}

	l.push(ln, pri, entry{env: env})
	l.mu.Unlock()
	l.notify()
}

// push appends, applying the overflow policy for the target lane.
// Caller holds l.mu.
func (l *Lanes) push(ln *lane, pri protocol.Priority, e entry) {
	switch pri {
	case protocol.PriorityCritical, protocol.PriorityHigh:
		ln.entries = append(ln.entries, e)
		if len(ln.entries) > l.capacity && l.onSaturation != nil {
			l.onSaturation(pri, len(ln.entries))
		}
	default:
		if len(ln.entries) >= l.capacity {
			l.evictOne(pri)
		}
		ln.entries = append(ln.entries, e)
	}
}

// evictOne drops the oldest droppable entry to relieve pressure on pri.
// Eviction starts at low; a normal-lane overflow reclaims from low
// first and only then sheds its own oldest. Caller holds l.mu.
func (l *Lanes) evictOne(pri protocol.Priority) {
	order := []protocol.Priority{protocol.PriorityLow}
	if pri == protocol.PriorityNormal {
		order = append(order, protocol.PriorityNormal)
	}
	for _, victim := range order {
		ln := &l.lanes[victim.Rank()]
		if len(ln.entries) == 0 {
			continue
		}
		dropped := ln.entries[0]
		ln.entries = ln.entries[1:]
		if l.onDrop != nil {
			l.onDrop(Dropped{Lane: victim, Env: dropped.env})
		}
		return
	}
}

// DequeueNext pops the next envelope in strict priority order
// (critical before high before normal before low) without blocking.
func (l *Lanes) DequeueNext() (protocol.Envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.lanes {
		ln := &l.lanes[i]
		if len(ln.entries) == 0 {
			continue
		}
		e := ln.entries[0]
		ln.entries = ln.entries[1:]
		return e.env, true
	}
	return protocol.Envelope{}, false
}

// Dequeue blocks until an envelope is available or ctx is done.
func (l *Lanes) Dequeue(ctx context.Context) (protocol.Envelope, error) {
	for {
		if env, ok := l.DequeueNext(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return protocol.Envelope{}, ctx.Err()
		case <-l.signal:
		}
	}
}

// Len reports the queued count per lane, critical first.
func (l *Lanes) Len() [4]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out [4]int
	for i := range l.lanes {
		out[i] = len(l.lanes[i].entries)
	}
	return out
}

// Reset discards all queued envelopes. Used on session teardown; the
// next session starts from a clean outbound state (reconnect-first).
func (l *Lanes) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.lanes {
		l.lanes[i].entries = nil
	}
}

func (l *Lanes) notify() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}
