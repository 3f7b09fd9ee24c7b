package engine

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingSwitch tracks one scene_switch_request awaiting its result.
type PendingSwitch struct {
	RequestID  string
	Scene      string
	Rule       string
	Reason     string
	IssuedAt   time.Time
	DeadlineAt time.Time
}

// PendingSwitches stores in-flight switch requests by request_id.
type PendingSwitches struct {
	mu    sync.RWMutex
	items map[string]PendingSwitch
}

func NewPendingSwitches() *PendingSwitches {
	return &PendingSwitches{
		items: make(map[string]PendingSwitch),
	}
}

func (p *PendingSwitches) Track(item PendingSwitch) {
	key := strings.TrimSpace(item.RequestID)
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[key] = item
}

// Resolve removes a tracked request when its result arrives. It
// reports whether the request was still in flight.
func (p *PendingSwitches) Resolve(requestID string) (PendingSwitch, bool) {
	key := strings.TrimSpace(requestID)
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[key]
	if !ok {
		return PendingSwitch{}, false
	}
	delete(p.items, key)
	return item, true
}

// Expired removes and returns every request whose deadline passed.
func (p *PendingSwitches) Expired(now time.Time) []PendingSwitch {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PendingSwitch
	for key, item := range p.items {
		if now.Before(item.DeadlineAt) {
			continue
		}
		out = append(out, item)
		delete(p.items, key)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

func (p *PendingSwitches) List() []PendingSwitch {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PendingSwitch, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestID < out[j].RequestID
	})
	return out
}
