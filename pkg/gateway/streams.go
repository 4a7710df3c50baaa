package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// streamEntry is one open stream sub-channel: an id multiplexed inline over
// the requester's transport connection, fanned out to a fixed set of
// recipients for its lifetime.
type streamEntry struct {
	id         string
	owner      string // participant that issued stream/request
	recipients []string
	lastActive time.Time
}

// streamTable tracks every currently-open stream id. The gateway never
// inspects frame payloads carried over a stream; it only needs to know the
// id exists, who owns it, and when it last saw traffic so it can reclaim
// ids that go idle.
type streamTable struct {
	mu          sync.Mutex
	idleTimeout time.Duration
	logger      *slog.Logger
	streams     map[string]*streamEntry
	seq         uint64
}

func newStreamTable(idleTimeout time.Duration, logger *slog.Logger) *streamTable {
	return &streamTable{
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "streams"),
		streams:     make(map[string]*streamEntry),
	}
}

// open assigns a fresh stream id to owner, fanned out to recipients, and
// returns it. It also reaps any entries that have gone idle past
// idleTimeout — a stream/request is frequent enough traffic to double as
// the sweep trigger, without needing a background goroutine.
func (t *streamTable) open(owner string, recipients []string, now time.Time) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reapLocked(now)

	t.seq++
	id := fmt.Sprintf("s-%d", t.seq)
	t.streams[id] = &streamEntry{
		id:         id,
		owner:      owner,
		recipients: append([]string(nil), recipients...),
		lastActive: now,
	}
	return id
}

// touch records activity on id, extending its idle deadline. It reports
// false if id is not currently open.
func (t *streamTable) touch(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.streams[id]
	if !ok {
		return false
	}
	e.lastActive = now
	return true
}

// close reclaims id, reporting whether it was open.
func (t *streamTable) close(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[id]; !ok {
		return false
	}
	delete(t.streams, id)
	return true
}

// authorizedWriter reports whether participantID may write frames on id:
// either the stream's owner or one of its listed recipients.
func (t *streamTable) authorizedWriter(id, participantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.streams[id]
	if !ok {
		return false
	}
	if e.owner == participantID {
		return true
	}
	for _, r := range e.recipients {
		if r == participantID {
			return true
		}
	}
	return false
}

// recipients returns the fan-out list for id, or nil if it isn't open.
func (t *streamTable) recipients(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.streams[id]
	if !ok {
		return nil
	}
	return append([]string(nil), e.recipients...)
}

// closeAllFor reclaims every stream owned or written to by participantID,
// called when that participant disconnects.
func (t *streamTable) closeAllFor(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.streams {
		if e.owner == participantID {
			delete(t.streams, id)
			continue
		}
		for _, r := range e.recipients {
			if r == participantID {
				delete(t.streams, id)
				break
			}
		}
	}
}

// reapLocked drops every entry that has exceeded idleTimeout. Caller holds
// t.mu.
func (t *streamTable) reapLocked(now time.Time) {
	if t.idleTimeout <= 0 {
		return
	}
	for id, e := range t.streams {
		if now.Sub(e.lastActive) > t.idleTimeout {
			delete(t.streams, id)
			t.logger.Debug("reclaimed idle stream", "stream_id", id, "owner", e.owner)
		}
	}
}
