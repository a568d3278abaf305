package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Registry dispatches tools/call requests to registered handlers, the same
// registration-order-preserving map the teacher's tools.Registry uses.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]registryEntry
	ordering []string
}

type registryEntry struct {
	def     ToolDefinition
	handler Handler
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registryEntry)}
}

func (r *Registry) Register(def ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("mcp: tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("mcp: handler cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("mcp: tool %s already registered", def.Name)
	}
	r.tools[def.Name] = registryEntry{def: def, handler: handler}
	r.ordering = append(r.ordering, def.Name)
	return nil
}

func (r *Registry) MustRegister(def ToolDefinition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// List returns every registered tool's definition, in registration order
// (tools/list).
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.ordering))
	for _, name := range r.ordering {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Call dispatches req to its registered handler and wraps the result (or
// error) in MCP's content envelope (tools/call).
func (r *Registry) Call(ctx context.Context, tc *ToolContext, req CallRequest) CallResult {
	r.mu.RLock()
	entry, exists := r.tools[req.Name]
	r.mu.RUnlock()

	if !exists {
		return errorResult(NewToolError(ErrCodeMethodNotFound, fmt.Sprintf("tool not found: %s", req.Name)))
	}

	result, err := entry.handler(ctx, tc, req.Arguments)
	if err != nil {
		return errorResult(asToolError(err))
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return errorResult(NewToolError(ErrCodeInternal, "failed to marshal tool result"))
	}
	return CallResult{Content: []ContentBlock{{Type: "text", Text: string(payload)}}}
}

func errorResult(te *ToolError) CallResult {
	payload, _ := json.Marshal(te)
	return CallResult{Content: []ContentBlock{{Type: "text", Text: string(payload)}}, IsError: true}
}
