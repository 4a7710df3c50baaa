package matcher

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// CELCache compiles and caches CEL programs used by "$"-prefixed payload
// pattern clauses, keyed by expression text. Compilation is comparatively
// expensive; routing happens on every envelope, so the program for a given
// expression is compiled once and reused for the life of the cache.
//
// Grounded on the double-checked-lock compile cache used elsewhere in this
// codebase for policy expression evaluation: a read-lock fast path for the
// common case of a warm cache, falling back to a write-locked compile that
// re-checks the map before compiling, so concurrent first-use of the same
// expression only compiles once.
type CELCache struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELCache builds a cache with a single `payload` variable of dynamic
// type available to every compiled expression.
func NewCELCache() (*CELCache, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("matcher: build CEL env: %w", err)
	}
	return &CELCache{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Eval compiles (if necessary) and runs expr with payload bound to value,
// returning its boolean result.
func (c *CELCache) Eval(expr string, value any) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"payload": value})
	if err != nil {
		return false, fmt.Errorf("matcher: evaluate %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("matcher: expression %q did not evaluate to bool (got %T)", expr, refOrNil(out))
	}
	return b, nil
}

func refOrNil(v ref.Val) any {
	if v == nil {
		return nil
	}
	return v.Value()
}

// Resolve compiles (if necessary) and runs expr with payload bound to
// value, returning its result as a native Go value (or a []any when the
// expression resolves to a CEL list). Used by "$"-prefixed pattern KEYS —
// path expressions, as opposed to Eval's boolean-only "$"-prefixed string
// VALUES.
func (c *CELCache) Resolve(expr string, value any) (any, error) {
	prg, err := c.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(map[string]any{"payload": value})
	if err != nil {
		return nil, fmt.Errorf("matcher: resolve %q: %w", expr, err)
	}
	return nativeValue(out), nil
}

// nativeValue unwraps a CEL result into a plain Go value, expanding list
// results into []any so callers can range over them without depending on
// cel-go's internal ref.Val representation.
func nativeValue(v ref.Val) any {
	if v == nil {
		return nil
	}
	if lister, ok := v.(traits.Lister); ok {
		size := int(lister.Size().(types.Int))
		out := make([]any, 0, size)
		for it := lister.Iterator(); it.HasNext() == types.True; {
			out = append(out, nativeValue(it.Next()))
		}
		return out
	}
	return v.Value()
}

func (c *CELCache) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("matcher: compile %q: %w", expr, issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("matcher: program %q: %w", expr, err)
	}
	c.programs[expr] = prg
	return prg, nil
}
