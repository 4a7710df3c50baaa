package participant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/mcp"
)

// ToolServer answers incoming mcp/request envelopes against a local tool
// catalog, replying with mcp/response correlated back to the request.
type ToolServer struct {
	client  *Client
	catalog *mcp.ToolCatalog
}

// NewToolServer wires catalog to answer tools/list and tools/call requests
// arriving over client.
func NewToolServer(client *Client, catalog *mcp.ToolCatalog) *ToolServer {
	return &ToolServer{client: client, catalog: catalog}
}

// HandleRequest should be invoked from the client's EnvelopeHandler for any
// envelope of kind mcp/request addressed to this participant.
func (s *ToolServer) HandleRequest(ctx context.Context, env *envelope.Envelope) error {
	var req mcp.Request
	if err := env.PayloadAs(&req); err != nil {
		return fmt.Errorf("participant: decode mcp/request: %w", err)
	}

	resp := mcp.Dispatch(ctx, s.catalog, req)

	reply := &envelope.Envelope{
		Kind:          envelope.KindMCPResponse,
		To:            []string{env.From},
		CorrelationID: []string{env.ID},
	}
	if err := reply.SetPayload(resp); err != nil {
		return fmt.Errorf("participant: encode mcp/response: %w", err)
	}
	return s.client.Send(reply)
}

// ToolCaller is the client-side half of the MCP sub-protocol: it issues
// mcp/request envelopes and decodes the correlated mcp/response.
type ToolCaller struct {
	client *Client
}

// NewToolCaller wraps client for issuing tool calls.
func NewToolCaller(client *Client) *ToolCaller {
	return &ToolCaller{client: client}
}

// ListTools asks target for its tool catalog.
func (c *ToolCaller) ListTools(ctx context.Context, target string) ([]mcp.ToolRef, error) {
	resp, err := c.call(ctx, target, mcp.Request{Method: "tools/list"})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("participant: marshal tools/list result: %w", err)
	}
	var body struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("participant: decode tools/list result: %w", err)
	}
	out := make([]mcp.ToolRef, 0, len(body.Tools))
	for _, t := range body.Tools {
		out = append(out, mcp.ToolRef{Name: t.Name, Description: t.Description})
	}
	return out, nil
}

// Call invokes name on target with args, returning its decoded result.
func (c *ToolCaller) Call(ctx context.Context, target, name string, args map[string]any) (any, error) {
	params, err := json.Marshal(mcp.CallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("participant: marshal tools/call params: %w", err)
	}
	resp, err := c.call(ctx, target, mcp.Request{Method: "tools/call", Params: params})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *ToolCaller) call(ctx context.Context, target string, req mcp.Request) (*mcp.Response, error) {
	id := req.ID
	env := &envelope.Envelope{
		Kind: envelope.KindMCPRequest,
		To:   []string{target},
	}
	if err := env.SetPayload(req); err != nil {
		return nil, fmt.Errorf("participant: encode mcp/request: %w", err)
	}

	reply, err := c.client.Request(ctx, env)
	if err != nil {
		return nil, err
	}

	var resp mcp.Response
	if err := reply.PayloadAs(&resp); err != nil {
		return nil, fmt.Errorf("participant: decode mcp/response: %w", err)
	}
	if resp.ID == "" {
		resp.ID = id
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("participant: mcp error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}
