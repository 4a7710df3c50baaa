package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is the payload shape of an mcp/request (or mcp/proposal)
// envelope: a JSON-RPC-ish method/params/id triple.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// CallParams is the params shape for the "tools/call" method.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Response is the payload shape of an mcp/response envelope.
type Response struct {
	ID     string     `json:"id,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is a JSON-RPC-style error: a code plus a human message.
// Dispatch converts tool handler errors to this shape; a handler panic is
// not recovered.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	ErrCodeParse          = -32700
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// Dispatch executes req against catalog, returning the response payload to
// send back correlated to req.ID. It never returns a Go error itself —
// every failure mode (bad method, bad params, handler error) is encoded
// into the Response's Error field so the caller always has an envelope
// payload to send back.
func Dispatch(ctx context.Context, catalog Catalog, req Request) Response {
	switch req.Method {
	case "tools/list":
		return dispatchList(ctx, catalog, req.ID)
	case "tools/call":
		return dispatchCall(ctx, catalog, req)
	default:
		return Response{ID: req.ID, Error: &ErrorBody{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}}
	}
}

func dispatchList(ctx context.Context, catalog Catalog, id string) Response {
	tools, err := catalog.Search(ctx, "")
	if err != nil {
		return Response{ID: id, Error: &ErrorBody{Code: ErrCodeInternal, Message: err.Error()}}
	}
	listed := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		listed = append(listed, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Schema,
		})
	}
	return Response{ID: id, Result: map[string]any{"tools": listed}}
}

func dispatchCall(ctx context.Context, catalog Catalog, req Request) Response {
	var params CallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return Response{ID: req.ID, Error: &ErrorBody{Code: ErrCodeInvalidParams, Message: err.Error()}}
		}
	}
	if params.Name == "" {
		return Response{ID: req.ID, Error: &ErrorBody{Code: ErrCodeInvalidParams, Message: "params.name is required"}}
	}

	tc, ok := catalog.(*ToolCatalog)
	if !ok {
		return Response{ID: req.ID, Error: &ErrorBody{Code: ErrCodeInternal, Message: "catalog does not support calling"}}
	}

	result, err := tc.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return Response{ID: req.ID, Error: &ErrorBody{Code: ErrCodeInternal, Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: result}
}
