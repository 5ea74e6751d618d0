package webstorage

import (
	"encoding/json"
	"fmt"
)

// envelope is the stored form of a tagged value.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SetJSON marshals v and stores it under key with no type tag.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("set json %q: marshal: %w", key, err)
	}
	return s.Set(key, string(data))
}

// GetJSON unmarshals the value under key into out.
func (s *Store) GetJSON(key string, out any) error {
	raw, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("get json %q: unmarshal: %w", key, err)
	}
	return nil
}

// SetTyped stores v wrapped in an envelope carrying its type tag, so
// GetTyped can dispatch to the registered constructor.
func (s *Store) SetTyped(key string, v Typed) error {
	if v == nil {
		return fmt.Errorf("set typed %q: nil value", key)
	}
	tag := v.TypeTag()
	if tag == "" {
		return fmt.Errorf("set typed %q: %w: empty", key, ErrInvalidTag)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("set typed %q: marshal: %w", key, err)
	}
	env, err := json.Marshal(envelope{Type: tag, Data: data})
	if err != nil {
		return fmt.Errorf("set typed %q: marshal envelope: %w", key, err)
	}
	return s.Set(key, string(env))
}

// GetTyped reads the envelope under key and rebuilds the value through
// the store's registry.
func (s *Store) GetTyped(key string) (any, error) {
	raw, err := s.Get(key)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("get typed %q: %w: %w", key, ErrBadEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("get typed %q: %w: missing type tag", key, ErrBadEnvelope)
	}

	value, err := s.registry.Decode(env.Type, env.Data)
	if err != nil {
		return nil, fmt.Errorf("get typed %q: %w", key, err)
	}
	return value, nil
}
