package storage

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

// SchemaRegistry maps persisted keys to compiled JSON Schemas. Adding a
// new persisted slice is a single registration; writes to keys without
// a registration are rejected outright.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles rawSchema and associates it with key. Registering
// the same key twice replaces the previous schema.
func (r *SchemaRegistry) Register(key string, rawSchema []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "invalid schema document").
			WithContext("key", key)
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("telescope://schemas/%s.json", key)
	if err := compiler.AddResource(url, doc); err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "failed to add schema resource").
			WithContext("key", key)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "failed to compile schema").
			WithContext("key", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[key] = compiled
	return nil
}

// Validate checks value against the schema registered for key. An
// unregistered key is a validation error naming the key.
func (r *SchemaRegistry) Validate(key string, value []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[key]
	r.mu.RUnlock()

	if !ok {
		return errors.ValidationError(fmt.Sprintf("no schema registered for key %q", key)).
			WithContext("key", key)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(value))
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "value is not valid JSON").
			WithContext("key", key)
	}
	if err := schema.Validate(inst); err != nil {
		return errors.Wrap(err, errors.CategoryValidation,
			fmt.Sprintf("value for key %q violates its schema", key)).
			WithContext("key", key)
	}
	return nil
}

// Keys returns the registered keys.
func (r *SchemaRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	return keys
}
