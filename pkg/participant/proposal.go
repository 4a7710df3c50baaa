package participant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/mcp"
)

// Proposer emits mcp/proposal envelopes on behalf of an under-privileged
// participant — one whose capability grant doesn't cover mcp/request to
// the intended target — and waits for some privileged peer to fulfill it.
type Proposer struct {
	client  *Client
	tracker *mcp.ProposalTracker
}

// NewProposer wraps client for emitting and tracking proposals.
func NewProposer(client *Client) *Proposer {
	return &Proposer{client: client, tracker: mcp.NewProposalTracker()}
}

// Propose sends an mcp/proposal naming the tool call this participant
// wants performed, then blocks until a reply whose correlation_id includes
// the proposal's own id arrives, and decodes it as an mcp/response. A
// response correlated only to a fulfiller's mcp/request does not resolve
// the wait.
func (p *Proposer) Propose(ctx context.Context, target, name string, args map[string]any) (any, error) {
	params, err := json.Marshal(mcp.CallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("participant: marshal proposal params: %w", err)
	}
	req := mcp.Request{Method: "tools/call", Params: params}

	env := &envelope.Envelope{
		Kind: envelope.KindMCPProposal,
		To:   []string{target},
	}
	if err := env.SetPayload(req); err != nil {
		return nil, fmt.Errorf("participant: encode mcp/proposal: %w", err)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	p.tracker.Track(env.ID, req, time.Now())

	reply, err := p.client.Request(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("participant: proposal: %w", err)
	}

	var resp mcp.Response
	if err := reply.PayloadAs(&resp); err != nil {
		return nil, fmt.Errorf("participant: decode proposal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("participant: proposal error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

// ObserveFulfillment records in the proposal tracker that
// fulfillmentEnvelopeID is a peer's mcp/request correlated to proposalID.
//
// The mapping is kept in the tracker only. Propose's wait stays keyed by
// the proposal's own envelope id, so a response correlated only to the
// fulfillment envelope is not matched back to Propose's caller.
func (p *Proposer) ObserveFulfillment(proposalID, fulfillmentEnvelopeID string) bool {
	return p.tracker.ObserveFulfillment(proposalID, fulfillmentEnvelopeID)
}
