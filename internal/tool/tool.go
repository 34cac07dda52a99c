// Package tool defines the pluggable tool abstraction: a named async
// function taking (ctx, inputs) and returning a result mapping, plus the
// read-only registry the bounded executor resolves tool names against.
package tool

import (
	"context"
	"fmt"
)

// Tool is a named async capability the planner can reference by name. The
// concrete extraction/verification/action logic behind a Tool is a
// pluggable concern (spec §1) — the interface is the only contract the
// executor and runner depend on.
type Tool interface {
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// Func adapts a plain function to the Tool interface.
type Func func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// Run implements Tool.
func (f Func) Run(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return f(ctx, inputs)
}

// ErrNotRegistered is returned by Registry.Get when a plan references a
// tool name with no registered implementation.
type ErrNotRegistered struct {
	Name string
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("tool not registered: %s", e.Name)
}

// Registry maps tool name to implementation. It is built once (via
// NewRegistry) and is read-only afterward — safe to share across
// concurrent job runs without synchronization, matching the teacher's
// treatment of its dispatcher/tool-resolver as immutable shared state
// once constructed.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds an immutable Registry from a name->Tool mapping.
func NewRegistry(tools map[string]Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for name, t := range tools {
		r.tools[name] = t
	}
	return r
}

// Get resolves a tool by name, or *ErrNotRegistered if absent.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrNotRegistered{Name: name}
	}
	return t, nil
}
