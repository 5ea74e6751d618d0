package webstorage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// DecodeFunc rebuilds a value from its serialized form.
type DecodeFunc func(data []byte) (any, error)

// Registry maps type tags to the constructors that rebuild tagged values
// on load. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]DecodeFunc
}

// DefaultRegistry serves stores opened without WithRegistry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]DecodeFunc)}
}

// Register maps a tag to its constructor on the DefaultRegistry.
func Register(tag string, fn DecodeFunc) {
	DefaultRegistry.Register(tag, fn)
}

// Register maps a tag to its constructor. Registering a tag that already
// has one replaces it. Empty tags and nil constructors are programmer
// errors and panic.
func (r *Registry) Register(tag string, fn DecodeFunc) {
	if tag == "" {
		panic("webstorage: Register with empty tag")
	}
	if fn == nil {
		panic("webstorage: Register with nil DecodeFunc")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[tag] = fn
}

// Decode dispatches data to the constructor registered for tag.
func (r *Registry) Decode(tag string, data []byte) (any, error) {
	r.mu.RLock()
	fn, ok := r.types[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	value, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", tag, err)
	}
	return value, nil
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// JSONDecoder returns a DecodeFunc that unmarshals into a fresh T and
// returns *T. Covers the common case where a tagged value is a plain
// struct with no custom rebuild step.
func JSONDecoder[T any]() DecodeFunc {
	return func(data []byte) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}
