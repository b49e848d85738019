// Package schema validates parsed playbook and inventory input against
// CUE schemas before planning begins, grounded on the teacher's
// pkg/config.SchemaRegistry.
package schema

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Registry holds compiled CUE schemas keyed by name.
type Registry struct {
	ctx     *cue.Context
	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewRegistry compiles the built-in input schemas (task, play, inventory).
func NewRegistry() (*Registry, error) {
	r := &Registry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	for name, src := range builtinSchemas {
		if err := r.Register(name, src); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles and stores a named schema.
func (r *Registry) Register(name, src string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val := r.ctx.CompileString(src)
	if err := val.Err(); err != nil {
		return fmt.Errorf("compile schema %q: %w", name, err)
	}
	r.schemas[name] = val
	return nil
}

// Validate checks data against the named schema.
func (r *Registry) Validate(name string, data interface{}) error {
	r.mu.RLock()
	sc, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("schema %q not registered", name)
	}

	encoded := r.ctx.Encode(data)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("encode value for schema %q: %w", name, err)
	}

	unified := sc.Unify(encoded)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema %q validation failed: %w", name, err)
	}
	return nil
}

// Names lists registered schema names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for n := range r.schemas {
		names = append(names, n)
	}
	return names
}
