package processors

import (
	"fmt"
	"sync"
)

// Template describes a node type: its input/output handles and whether the
// node is a valid execution target.
type Template struct {
	// Type of the node
	Type string `json:"type"`

	// Inputs lists the input handle names
	Inputs []string `json:"inputs,omitempty"`

	// Outputs lists the output handle names
	Outputs []string `json:"outputs,omitempty"`

	// Terminal marks node types that can be requested as execution targets
	Terminal bool `json:"terminal"`
}

// Registry maps node types to processors. It is constructed once during
// process initialization and passed by reference into the scheduler; there
// is no ambient global registry.
type Registry struct {
	processors map[string]NodeProcessor
	templates  map[string]Template
	mu         sync.RWMutex
}

// NewRegistry creates an empty processor registry
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[string]NodeProcessor),
		templates:  make(map[string]Template),
	}
}

// Register adds a processor for a node type
func (r *Registry) Register(template Template, processor NodeProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if template.Type == "" {
		return fmt.Errorf("template type must not be empty")
	}
	if _, exists := r.processors[template.Type]; exists {
		return fmt.Errorf("processor for node type '%s' already registered", template.Type)
	}

	r.processors[template.Type] = processor
	r.templates[template.Type] = template
	return nil
}

// Get retrieves the processor for a node type
func (r *Registry) Get(nodeType string) (NodeProcessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	processor, exists := r.processors[nodeType]
	if !exists {
		return nil, fmt.Errorf("no processor registered for node type '%s'", nodeType)
	}

	return processor, nil
}

// Template retrieves the template for a node type
func (r *Registry) Template(nodeType string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	template, exists := r.templates[nodeType]
	if !exists {
		return Template{}, fmt.Errorf("no template registered for node type '%s'", nodeType)
	}

	return template, nil
}

// List returns all registered node types
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.processors))
	for nodeType := range r.processors {
		types = append(types, nodeType)
	}

	return types
}
