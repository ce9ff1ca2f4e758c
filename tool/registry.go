package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codecrew-dev/codecrew/logging"
)

// Definition is the provider-neutral description of a tool handed to
// completion adapters when they translate service names to vendor schemas.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry groups tools into named services. Agent configs reference service
// names; the registry resolves those to concrete tool names, definitions and
// implementations. Registration happens at wiring time, lookups on the hot
// path are read-locked.
type Registry struct {
	mu       sync.RWMutex
	services map[string][]string
	byName   map[string]Tool
	logger   logging.Logger
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry constructs an empty tool registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		services: make(map[string][]string),
		byName:   make(map[string]Tool),
		logger:   opts.Logger,
	}
}

// RegisterService adds tools under a service name. Registering the same
// service twice appends; a tool name collision replaces the implementation.
func (r *Registry) RegisterService(service string, tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.byName[t.Name()]; !exists {
			r.services[service] = append(r.services[service], t.Name())
		}
		r.byName[t.Name()] = t
	}
}

// ToolNames resolves service names to the flat list of tool names they contain.
func (r *Registry) ToolNames(services []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, svc := range services {
		names = append(names, r.services[svc]...)
	}
	return names
}

// Definitions resolves service names to provider-neutral tool definitions.
func (r *Registry) Definitions(services []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []Definition
	for _, svc := range services {
		for _, name := range r.services[svc] {
			t := r.byName[name]
			defs = append(defs, Definition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			})
		}
	}
	return defs
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Execute looks up a tool by name, decodes its JSON arguments and invokes
// it, returning the result rendered as text. The context is accepted for
// interface symmetry with remote executors; tools themselves are synchronous.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	impl, ok := r.Resolve(name)
	if !ok {
		return "", NewToolError(name, "tool not found", CodeNotFound)
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", &ToolError{Tool: name, Message: "failed to unmarshal args: " + err.Error(), Code: CodeValidation}
		}
	}

	result, err := impl.Call(args)
	if err != nil {
		return "", err
	}
	return renderResult(result), nil
}

// renderResult converts an opaque tool result into text for the conversation.
func renderResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}
