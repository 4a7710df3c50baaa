// Package mcp implements the tool-invocation sub-protocol participants
// speak over the gateway: a JSON-RPC dialect for listing and calling tools,
// plus the proposal/fulfillment workflow an under-privileged participant
// uses when it cannot send a direct request itself.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler executes a tool call and returns its result. args has already
// been validated against the tool's published input schema.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// ToolRef describes one tool a participant offers: its name, the schema
// its arguments must satisfy, and the handler that executes it.
type ToolRef struct {
	Name        string
	Description string
	ServerID    string
	Schema      any // JSON schema (map[string]any), validated lazily on first call
	Handler     Handler
}

// Validate checks that a ToolRef has a non-empty Name.
func (r ToolRef) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("tool ref name is required")
	}
	return nil
}

// Catalog manages the registry of tools a participant exposes.
type Catalog interface {
	Search(ctx context.Context, query string) ([]ToolRef, error)
	Register(ctx context.Context, ref ToolRef) error
	Get(name string) (ToolRef, bool)
}

// ToolCatalog is the default in-memory Catalog. Schemas are compiled once,
// on first Call, and cached — most tools are registered at startup and
// called many times, so paying the compile cost on the hot path would be
// wasteful.
type ToolCatalog struct {
	mu      sync.RWMutex
	tools   map[string]ToolRef
	schemas map[string]*jsonschema.Schema
}

func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{
		tools:   make(map[string]ToolRef),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// NewInMemoryCatalog is a constructor alias for tests.
func NewInMemoryCatalog() *ToolCatalog {
	return NewToolCatalog()
}

func (c *ToolCatalog) Register(ctx context.Context, ref ToolRef) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("invalid tool ref: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[ref.Name] = ref
	delete(c.schemas, ref.Name) // re-registering invalidates any compiled schema
	return nil
}

func (c *ToolCatalog) Get(name string) (ToolRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.tools[name]
	return ref, ok
}

func (c *ToolCatalog) Search(ctx context.Context, query string) ([]ToolRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var results []ToolRef
	query = strings.ToLower(query)
	for _, tool := range c.tools {
		if strings.Contains(strings.ToLower(tool.Name), query) || strings.Contains(strings.ToLower(tool.Description), query) {
			results = append(results, tool)
		}
	}
	return results, nil
}

// Call validates args against the named tool's input schema, then invokes
// its handler. A tool with no Schema skips validation entirely.
func (c *ToolCatalog) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	ref, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("mcp: unknown tool %q", name)
	}
	if ref.Handler == nil {
		return nil, fmt.Errorf("mcp: tool %q has no handler", name)
	}
	if ref.Schema != nil {
		schema, err := c.compiledSchema(name, ref.Schema)
		if err != nil {
			return nil, fmt.Errorf("mcp: compile schema for %q: %w", name, err)
		}
		if err := schema.Validate(toRawAny(args)); err != nil {
			return nil, fmt.Errorf("mcp: invalid arguments for %q: %w", name, err)
		}
	}
	return ref.Handler(ctx, args)
}

func (c *ToolCatalog) compiledSchema(name string, raw any) (*jsonschema.Schema, error) {
	c.mu.RLock()
	cached, ok := c.schemas[name]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	const resource = "tool.json"
	if err := compiler.AddResource(resource, strings.NewReader(string(doc))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	c.mu.Lock()
	c.schemas[name] = schema
	c.mu.Unlock()
	return schema, nil
}

// toRawAny round-trips through JSON so map[string]any keys decode the way
// jsonschema expects (numbers as float64, etc) regardless of how the
// caller built the map.
func toRawAny(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// ToolCallReceipt tracks the execution result of one tool call, for the
// participant's own audit trail of what it invoked and what it got back.
type ToolCallReceipt struct {
	ID        string    `json:"id"`
	ToolName  string    `json:"tool_name"`
	Inputs    string    `json:"inputs"`
	Outputs   string    `json:"outputs"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *ToolCatalog) AuditToolCall(name string, params map[string]any, result any) (ToolCallReceipt, error) {
	inputJSON, err := json.Marshal(params)
	if err != nil {
		return ToolCallReceipt{}, fmt.Errorf("failed to marshal tool call inputs: %w", err)
	}
	outputJSON, err := json.Marshal(result)
	if err != nil {
		return ToolCallReceipt{}, fmt.Errorf("failed to marshal tool call outputs: %w", err)
	}
	return ToolCallReceipt{
		ID:        fmt.Sprintf("call-%d", time.Now().UnixNano()),
		ToolName:  name,
		Inputs:    string(inputJSON),
		Outputs:   string(outputJSON),
		Timestamp: time.Now(),
	}, nil
}
