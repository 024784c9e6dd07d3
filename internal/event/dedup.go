package event

import (
	"sync"
	"time"
)

// dedupEntry tracks alerting state for one DedupKey.
type dedupEntry struct {
	alertedAt time.Time // when this key last triggered an analysis
	lastSeen  time.Time // when this key was last observed at all
}

// DedupState is the process-wide table deciding whether a FailureEvent
// triggers a new analysis or is a suppressed duplicate. It is safe for
// concurrent use; check-and-record is atomic per call so duplicate events
// discovered in the same poll batch cannot race each other. State lives in
// memory only — a restart may re-alert once, which is acceptable.
type DedupState struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*dedupEntry
}

// NewDedupState creates a DedupState with the given suppression window.
func NewDedupState(window time.Duration) *DedupState {
	return &DedupState{
		window:  window,
		entries: make(map[string]*dedupEntry),
	}
}

// ShouldAlert reports whether an event with the given key observed at now
// should trigger a new analysis. If a prior alert for the key is still
// within the window, only the last-seen timestamp is refreshed and false is
// returned. Otherwise the alert time is recorded and true is returned.
func (d *DedupState) ShouldAlert(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok && now.Sub(e.alertedAt) < d.window {
		e.lastSeen = now
		return false
	}

	d.entries[key] = &dedupEntry{alertedAt: now, lastSeen: now}
	return true
}

// LastSeen returns when the key was last observed, and whether it is known.
func (d *DedupState) LastSeen(key string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// Evict drops entries not seen for twice the window, bounding memory.
// Called opportunistically once per poll cycle.
func (d *DedupState) Evict(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted int
	for key, e := range d.entries {
		if now.Sub(e.lastSeen) > 2*d.window {
			delete(d.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked keys.
func (d *DedupState) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
