// Package registry implements the participant roster: identity resolution
// by join token, capability bookkeeping, and the connected/disconnected
// channel bookkeeping the gateway core uses to fan envelopes out.
package registry

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mindburn-labs/mew-gateway/pkg/matcher"
)

// ErrParticipantNotFound is returned when an operation references an
// unknown participant id.
var ErrParticipantNotFound = errors.New("registry: participant not found")

// ErrInvalidToken is returned when no configured participant's token
// matches the presented one.
var ErrInvalidToken = errors.New("registry: invalid token")

// ErrGrantNotFound is returned when revoking a capability id that isn't
// currently granted.
var ErrGrantNotFound = errors.New("registry: grant not found")

// Registry is the participant roster contract the gateway core depends on.
type Registry interface {
	// Configure adds or replaces a participant's static identity (id, kind,
	// display name, join token, configured capabilities) before it ever
	// connects. Re-configuring an id replaces its configured capabilities
	// and clears any runtime grants.
	Configure(p *Participant, token string) error

	// ResolveByToken authenticates a join attempt, returning the
	// participant record it names.
	ResolveByToken(token string) (*Participant, error)

	// Get returns a snapshot of a participant's current state.
	Get(id string) (*Participant, error)

	// AttachChannel marks a participant connected and records the sender
	// used to deliver envelopes to it.
	AttachChannel(id string, sender Sender) error

	// DetachChannel marks a participant disconnected. It is a no-op if the
	// participant is already disconnected.
	DetachChannel(id string) error

	// SetPaused records participant/pause or participant/resume state.
	SetPaused(id string, paused bool) error

	// Grant adds or replaces a runtime-granted capability for a participant.
	Grant(id string, cap matcher.Capability) error

	// Revoke removes a previously granted capability by its id. It cannot
	// remove a configured capability — revoking a configured capability's
	// id returns ErrGrantNotFound even though the id is present on the
	// roster.
	Revoke(id, capabilityID string) error

	// Connected returns a point-in-time snapshot of every connected
	// participant, safe to range over without holding any registry lock.
	Connected() []*Participant

	// All returns a point-in-time snapshot of the full roster.
	All() []*Participant
}

type entry struct {
	mu          sync.Mutex // serializes mutation of this one participant
	participant *Participant
	tokenHash   string // raw token, compared with subtle.ConstantTimeCompare
}

// InMemoryRegistry is the default Registry: roster state lives only in
// process memory and is lost on restart, matching spec.md's "no durable
// persistence" non-goal for roster/grants.
type InMemoryRegistry struct {
	mu sync.RWMutex
	// by id is the source of truth; byTokenPrefix narrows token lookups to
	// a short candidate list before paying for a constant-time compare, so
	// ResolveByToken doesn't degrade to an O(n) scan of every configured
	// token on every join.
	byID          map[string]*entry
	byTokenPrefix map[string][]string // token[:tokenPrefixLen] -> candidate ids
}

const tokenPrefixLen = 8

// NewInMemoryRegistry returns an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		byID:          make(map[string]*entry),
		byTokenPrefix: make(map[string][]string),
	}
}

func (r *InMemoryRegistry) Configure(p *Participant, token string) error {
	if p == nil || p.ID == "" {
		return errors.New("registry: participant id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *p
	cp.ConfiguredCapabilities = append(matcher.Set(nil), p.ConfiguredCapabilities...)
	cp.GrantedCapabilities = nil
	cp.token = token

	r.byID[p.ID] = &entry{participant: &cp, tokenHash: token}

	prefix := tokenPrefix(token)
	r.byTokenPrefix[prefix] = appendUnique(r.byTokenPrefix[prefix], p.ID)
	return nil
}

func (r *InMemoryRegistry) ResolveByToken(token string) (*Participant, error) {
	prefix := tokenPrefix(token)

	r.mu.RLock()
	candidates := r.byTokenPrefix[prefix]
	r.mu.RUnlock()

	for _, id := range candidates {
		r.mu.RLock()
		e, ok := r.byID[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		match := constantTimeEqual(e.tokenHash, token)
		e.mu.Unlock()
		if match {
			return r.Get(id)
		}
	}
	return nil, ErrInvalidToken
}

func (r *InMemoryRegistry) Get(id string) (*Participant, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.participant.Snapshot(), nil
}

func (r *InMemoryRegistry) AttachChannel(id string, sender Sender) error {
	return r.mutate(id, func(p *Participant) error {
		p.channel = sender
		p.joinedAt = time.Now()
		return nil
	})
}

func (r *InMemoryRegistry) DetachChannel(id string) error {
	return r.mutate(id, func(p *Participant) error {
		p.channel = nil
		return nil
	})
}

func (r *InMemoryRegistry) SetPaused(id string, paused bool) error {
	return r.mutate(id, func(p *Participant) error {
		p.paused = paused
		return nil
	})
}

func (r *InMemoryRegistry) Grant(id string, cap matcher.Capability) error {
	return r.mutate(id, func(p *Participant) error {
		p.GrantedCapabilities = p.GrantedCapabilities.Grant(cap)
		return nil
	})
}

func (r *InMemoryRegistry) Revoke(id, capabilityID string) error {
	return r.mutate(id, func(p *Participant) error {
		updated, found := p.GrantedCapabilities.Revoke(capabilityID)
		if !found {
			return ErrGrantNotFound
		}
		p.GrantedCapabilities = updated
		return nil
	})
}

func (r *InMemoryRegistry) Connected() []*Participant {
	return r.snapshot(func(p *Participant) bool { return p.Connected() })
}

func (r *InMemoryRegistry) All() []*Participant {
	return r.snapshot(func(*Participant) bool { return true })
}

// mutate serializes a read-modify-write against a single participant's
// entry lock, without holding the registry-wide lock for the duration —
// so one participant's grant/revoke never blocks another's.
func (r *InMemoryRegistry) mutate(id string, fn func(*Participant) error) error {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.participant)
}

// snapshot copies matching participant records out from under their
// individual locks, so the caller can iterate without holding any
// registry state locked — connected-participant fan-out must not block a
// concurrent join or grant.
func (r *InMemoryRegistry) snapshot(include func(*Participant) bool) []*Participant {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*Participant, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		p := e.participant
		keep := include(p)
		var snap *Participant
		if keep {
			snap = p.Snapshot()
		}
		e.mu.Unlock()
		if keep {
			out = append(out, snap)
		}
	}
	return out
}

func tokenPrefix(token string) string {
	if len(token) <= tokenPrefixLen {
		return token
	}
	return token[:tokenPrefixLen]
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
