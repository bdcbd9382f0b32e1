// Package tools defines the tool surface exposed over the protocol: tool
// definitions with JSON Schema inputs, a name-keyed registry, and the
// concrete file, shell, web, memory, and session tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// Handler executes a tool call. input is the raw JSON arguments object; the
// returned value is marshalled into the call result.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Definition describes one callable tool.
type Definition struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// Registry holds tool definitions keyed by name. Registration happens at
// startup; lookups happen on every call, so reads take the cheap path.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register adds a tool definition. Empty names and duplicate names are
// rejected; a rejected registration changes nothing.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tools: tool %q has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tools: tool %q is already registered", def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// MustRegister registers a batch of definitions and panics on conflict.
// Used for the built-in tool set, where a collision is a programming error.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports how many tools are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
