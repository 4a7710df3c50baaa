package participant

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/mew-gateway/pkg/envelope"
	"github.com/mindburn-labs/mew-gateway/pkg/mcp"
)

func TestToolServerHandleRequestRepliesWithResult(t *testing.T) {
	c, ch := joinedClient(t)
	defer c.Close()

	catalog := mcp.NewToolCatalog()
	require.NoError(t, catalog.Register(context.Background(), mcp.ToolRef{
		Name: "add",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	}))
	server := NewToolServer(c, catalog)

	req := &envelope.Envelope{ID: "req-1", Kind: envelope.KindMCPRequest, From: "caller"}
	require.NoError(t, req.SetPayload(mcp.Request{
		Method: "tools/call",
		Params: mustMarshal(mcp.CallParams{Name: "add", Arguments: map[string]any{"a": 1.0, "b": 2.0}}),
		ID:     "req-1",
	}))

	require.NoError(t, server.HandleRequest(context.Background(), req))

	sent := ch.recv(t)
	assert.Equal(t, envelope.KindMCPResponse, sent.Kind)
	assert.Equal(t, []string{"caller"}, sent.To)
	assert.Equal(t, []string{"req-1"}, sent.CorrelationID)

	var resp mcp.Response
	require.NoError(t, sent.PayloadAs(&resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, 3.0, resp.Result)
}

func TestToolCallerCallSurfacesError(t *testing.T) {
	c, ch := joinedClient(t)
	defer c.Close()
	caller := NewToolCaller(c)

	go func() {
		sent := ch.recv(t)
		var req mcp.Request
		require.NoError(t, sent.PayloadAs(&req))
		reply := &envelope.Envelope{Kind: envelope.KindMCPResponse, CorrelationID: []string{sent.ID}}
		_ = reply.SetPayload(mcp.Response{ID: req.ID, Error: &mcp.ErrorBody{Code: mcp.ErrCodeInternal, Message: "boom"}})
		ch.inbound <- reply
	}()

	_, err := caller.Call(context.Background(), "tool-host", "add", map[string]any{"a": 1.0})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
