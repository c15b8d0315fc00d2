// Package schema compiles and evaluates the JSON schemas attached to
// functions: the three static input schemas (system/user/assistant) fixed
// at config-load time, and the dynamic output schema a caller may supply
// per-request to override a Json function's declared schema.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompiledSchema is a parsed, ready-to-evaluate JSON schema.
type CompiledSchema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// Raw returns the schema document this CompiledSchema was built from.
func (c *CompiledSchema) Raw() json.RawMessage { return c.raw }

// Validate checks v (already unmarshaled into a generic any) against the
// schema. The returned error, if any, is a *ValidationError.
func (c *CompiledSchema) Validate(v any) error {
	if err := c.compiled.Validate(v); err != nil {
		return &ValidationError{Detail: err.Error()}
	}
	return nil
}

// ValidationError reports a schema mismatch. Role is filled in by callers
// that know which schema (system/user/assistant/output) was being checked.
type ValidationError struct {
	Role   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Role == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Role, e.Detail)
}

// Compile parses and compiles a single JSON schema document. name is an
// arbitrary resource URL used only for the compiler's internal reference
// resolution; it need not be reachable.
func Compile(name string, doc json.RawMessage) (*CompiledSchema, error) {
	compiler := jsonschema.NewCompiler()
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("schema %q: invalid JSON: %w", name, err)
	}
	if err := compiler.AddResource(name, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	return &CompiledSchema{raw: doc, compiled: s}, nil
}

// DynamicCache compiles and memoizes output schemas supplied at request
// time (spec §4.5 "dynamic output schema"), bounded so that an abusive
// caller cannot grow it without limit.
type DynamicCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]*CompiledSchema
}

// NewDynamicCache builds a DynamicCache holding at most capacity distinct
// schema documents, evicting the least-recently-inserted entry once full.
func NewDynamicCache(capacity int) *DynamicCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &DynamicCache{
		capacity: capacity,
		entries:  make(map[string]*CompiledSchema, capacity),
	}
}

// GetOrCompile returns the CompiledSchema for doc, compiling and caching it
// on first use. The cache key is the exact byte content of doc.
func (d *DynamicCache) GetOrCompile(doc json.RawMessage) (*CompiledSchema, error) {
	key := string(doc)

	d.mu.Lock()
	if s, ok := d.entries[key]; ok {
		d.mu.Unlock()
		return s, nil
	}
	d.mu.Unlock()

	s, err := Compile(fmt.Sprintf("dynamic://%x", hashKey(key)), doc)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.entries[key]; ok {
		return existing, nil
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.entries, oldest)
	}
	d.entries[key] = s
	d.order = append(d.order, key)
	return s, nil
}

func hashKey(s string) uint64 {
	// FNV-1a; only used to keep compiler resource URLs distinct, not for
	// security or cache correctness (the map key is the literal document).
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
