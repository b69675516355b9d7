package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/anvil/internal/gateway"
)

// Tool is the handler contract. Each handler declares a name, a
// description for the model, and a JSON schema (root type object)
// describing its parameters. Execute receives arguments already validated
// against that schema.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// Registry maps tool names to handlers. Populated at startup; duplicate
// registration is a configuration error.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. It fails when the name is taken, the schema does
// not parse, or the schema root is not type object.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	raw := t.Schema()
	var root struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &root); err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}
	if root.Type != "object" {
		return fmt.Errorf("tool %s: schema root type must be object, got %q", name, root.Type)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.compiled[name] = compiled
	r.order = append(r.order, name)
	return nil
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Definitions renders the tool list handed to the gateway each turn, in
// registration order.
func (r *Registry) Definitions() []gateway.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]gateway.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, gateway.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// Validate checks args against the tool's declared schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %s", name)
	}
	// Round-trip through JSON so numeric types match what the validator
	// expects from decoded documents.
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return schema.Validate(decoded)
}
