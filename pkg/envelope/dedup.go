package envelope

import (
	"sync"
	"time"
)

// DedupWindow tracks recently-seen envelope ids per sender so the gateway
// can silently drop a retransmitted envelope (same sender, same id) within
// a bounded recency window instead of routing it twice. It does not attempt
// exactly-once delivery across restarts; the window is purely in-memory.
type DedupWindow struct {
	mu      sync.Mutex
	window  time.Duration
	seen    map[string]map[string]time.Time // sender -> envelope id -> seen-at
	clock   func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// NewDedupWindow returns a window that remembers ids for the given
// duration. A zero window disables deduplication (Seen always reports
// false).
func NewDedupWindow(window time.Duration) *DedupWindow {
	return &DedupWindow{
		window:  window,
		seen:    make(map[string]map[string]time.Time),
		clock:   time.Now,
		gcEvery: time.Minute,
	}
}

// WithClock overrides the window's clock, for deterministic tests.
func (d *DedupWindow) WithClock(clock func() time.Time) *DedupWindow {
	d.clock = clock
	return d
}

// Seen reports whether (sender, id) was already observed within the
// recency window. If not, it records the pair as seen now. The check and
// record are atomic with respect to each other.
func (d *DedupWindow) Seen(sender, id string) bool {
	if d.window <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	d.gcLocked(now)

	bySender, ok := d.seen[sender]
	if !ok {
		bySender = make(map[string]time.Time)
		d.seen[sender] = bySender
	}

	if seenAt, ok := bySender[id]; ok && now.Sub(seenAt) <= d.window {
		return true
	}

	bySender[id] = now
	return false
}

// gcLocked evicts expired entries. Caller holds d.mu.
func (d *DedupWindow) gcLocked(now time.Time) {
	if now.Sub(d.lastGC) < d.gcEvery {
		return
	}
	d.lastGC = now
	for sender, ids := range d.seen {
		for id, seenAt := range ids {
			if now.Sub(seenAt) > d.window {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(d.seen, sender)
		}
	}
}
