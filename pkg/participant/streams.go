package participant

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
)

// StreamHandle identifies one open stream sub-channel and the recipients
// it carries traffic to.
type StreamHandle struct {
	ID         string
	Recipients []string
}

type streamOpenPayload struct {
	StreamID    string `json:"stream_id"`
	RequestedBy string `json:"requested_by"`
}

// OpenStream asks the gateway to assign a stream sub-channel addressed to
// recipients and waits for the resulting stream/open confirmation.
func (c *Client) OpenStream(ctx context.Context, recipients []string) (*StreamHandle, error) {
	req := &envelope.Envelope{
		Kind: envelope.KindStreamRequest,
		To:   recipients,
		ID:   uuid.NewString(),
	}

	reply, err := c.Request(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("participant: open stream: %w", err)
	}
	if reply.Kind != envelope.KindStreamOpen {
		return nil, fmt.Errorf("participant: open stream: unexpected reply kind %q", reply.Kind)
	}

	var payload streamOpenPayload
	if err := reply.PayloadAs(&payload); err != nil {
		return nil, fmt.Errorf("participant: open stream: decode payload: %w", err)
	}
	return &StreamHandle{ID: payload.StreamID, Recipients: recipients}, nil
}

// Close releases the stream, notifying the gateway so it can reclaim the
// id. The other party is not disconnected; only the sub-channel bookkeeping
// is reclaimed.
func (h *StreamHandle) Close(c *Client) error {
	env := &envelope.Envelope{Kind: envelope.KindStreamClose}
	if err := env.SetPayload(map[string]any{"stream_id": h.ID}); err != nil {
		return fmt.Errorf("participant: close stream: %w", err)
	}
	return c.Send(env)
}
