package matcher

import (
	"fmt"
	"sync"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// resultCacheSize bounds the memoized (capability, envelope) decision
// cache. It is a simple bounded FIFO rather than a true LRU: eviction order
// doesn't need to track recency for this to be effective, since the
// working set at any moment is "capabilities active right now", which is
// small relative to this bound.
const resultCacheSize = 4096

// Matcher decides whether an envelope is permitted by a set of granted
// capabilities.
type Matcher struct {
	cel *CELCache

	mu    sync.Mutex
	order []resultKey
	cache map[resultKey]bool
}

type resultKey struct {
	capabilityID string
	envelopeID   string
}

// New builds a Matcher with its own CEL program cache.
func New() (*Matcher, error) {
	cel, err := NewCELCache()
	if err != nil {
		return nil, err
	}
	return &Matcher{
		cel:   cel,
		cache: make(map[resultKey]bool),
	}, nil
}

// Allows reports whether env is authorized by any capability in caps. On a
// match it also returns the capability that authorized it, for audit
// logging.
func (m *Matcher) Allows(caps Set, env *envelope.Envelope) (bool, *Capability, error) {
	payload, err := env.PayloadMap()
	var payloadAny any = payload
	if err != nil {
		// Payload isn't a JSON object (array/scalar); fall back to the raw
		// decoded value so payload patterns can still inspect it.
		if decodeErr := env.PayloadAs(&payloadAny); decodeErr != nil {
			payloadAny = nil
		}
	}

	recipient := ""
	if len(env.To) > 0 {
		recipient = env.To[0]
	}

	for i := range caps {
		cap := caps[i]
		if !kindGlobMatch(cap.Kind, string(env.Kind)) {
			continue
		}
		if cap.To != "" && recipient != "" && !globMatch(cap.To, recipient) && cap.To != recipient {
			continue
		}

		ok, err := m.matchPayload(cap, env.ID, payloadAny)
		if err != nil {
			return false, nil, fmt.Errorf("matcher: capability %s: %w", cap.ID, err)
		}
		if ok {
			return true, &cap, nil
		}
	}
	return false, nil, nil
}

func (m *Matcher) matchPayload(cap Capability, envelopeID string, payload any) (bool, error) {
	if cap.Payload.Empty() {
		return true, nil
	}

	key := resultKey{capabilityID: cap.ID, envelopeID: envelopeID}
	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	ok, err := cap.Payload.Matches(payload, m.cel)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.memoizeLocked(key, ok)
	m.mu.Unlock()
	return ok, nil
}

func (m *Matcher) memoizeLocked(key resultKey, result bool) {
	if _, exists := m.cache[key]; exists {
		m.cache[key] = result
		return
	}
	if len(m.order) >= resultCacheSize {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.cache, oldest)
	}
	m.cache[key] = result
	m.order = append(m.order, key)
}
