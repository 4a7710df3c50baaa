package mcp

import (
	"sync"
	"time"
)

// PendingProposal tracks an mcp/proposal this participant emitted while
// waiting to see whether some privileged peer fulfills it — emits an
// mcp/request correlated to the proposal's id — and, eventually, the
// response correlated to that fulfillment.
type PendingProposal struct {
	ID        string
	Request   Request
	CreatedAt time.Time

	// FulfillmentID is set once a peer's mcp/request (correlated to ID) is
	// observed; the proposer then also waits for a response correlated to
	// FulfillmentID rather than to ID, since the fulfiller's envelope got a
	// new envelope id of its own.
	FulfillmentID string
}

// ProposalTracker correlates a participant's outstanding proposals to the
// fulfillment envelopes and eventual responses that resolve them.
type ProposalTracker struct {
	mu        sync.Mutex
	pending   map[string]*PendingProposal // by proposal id
	byFulfill map[string]string           // fulfillment envelope id -> proposal id
}

func NewProposalTracker() *ProposalTracker {
	return &ProposalTracker{
		pending:   make(map[string]*PendingProposal),
		byFulfill: make(map[string]string),
	}
}

// Track records a newly emitted proposal, keyed by its envelope id.
func (t *ProposalTracker) Track(proposalID string, req Request, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[proposalID] = &PendingProposal{ID: proposalID, Request: req, CreatedAt: now}
}

// ObserveFulfillment records that fulfillmentEnvelopeID is the mcp/request
// a peer sent correlated to proposalID, so a later response correlated to
// fulfillmentEnvelopeID can be routed back to the original proposer.
func (t *ProposalTracker) ObserveFulfillment(proposalID, fulfillmentEnvelopeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[proposalID]
	if !ok {
		return false
	}
	p.FulfillmentID = fulfillmentEnvelopeID
	t.byFulfill[fulfillmentEnvelopeID] = proposalID
	return true
}

// ResolveByResponseCorrelation looks up which pending proposal a response
// correlated to correlationID resolves, removing it from tracking. It
// matches both directly (response correlated to the proposal itself) and
// via an observed fulfillment envelope.
func (t *ProposalTracker) ResolveByResponseCorrelation(correlationID string) (*PendingProposal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[correlationID]; ok {
		delete(t.pending, correlationID)
		if p.FulfillmentID != "" {
			delete(t.byFulfill, p.FulfillmentID)
		}
		return p, true
	}
	if proposalID, ok := t.byFulfill[correlationID]; ok {
		p := t.pending[proposalID]
		delete(t.pending, proposalID)
		delete(t.byFulfill, correlationID)
		return p, p != nil
	}
	return nil, false
}
