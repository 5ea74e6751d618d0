package objectdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"
)

// Tx is one transaction over a database. A Tx from View is read-only;
// writes through it fail with ErrTxReadOnly.
type Tx struct {
	btx      *bbolt.Tx
	writable bool
}

// Store opens an existing object store by name.
func (tx *Tx) Store(name string) (*ObjectStore, error) {
	if err := checkStoreName(name); err != nil {
		return nil, err
	}
	b := tx.btx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("store %q: %w", name, ErrNoStore)
	}
	return &ObjectStore{b: b, name: name, writable: tx.writable}, nil
}

// UpgradeTx extends Tx with schema operations. Only the upgrade callback
// passed to Open receives one.
type UpgradeTx struct {
	Tx
}

// CreateStore creates a new object store.
func (tx *UpgradeTx) CreateStore(name string) (*ObjectStore, error) {
	if err := checkStoreName(name); err != nil {
		return nil, err
	}
	b, err := tx.btx.CreateBucket([]byte(name))
	if err != nil {
		if errors.Is(err, bbolt.ErrBucketExists) {
			return nil, fmt.Errorf("create store %q: %w", name, ErrStoreExists)
		}
		return nil, fmt.Errorf("create store %q: %w", name, err)
	}
	return &ObjectStore{b: b, name: name, writable: true}, nil
}

// EnsureStore creates the object store if it does not already exist.
func (tx *UpgradeTx) EnsureStore(name string) (*ObjectStore, error) {
	if err := checkStoreName(name); err != nil {
		return nil, err
	}
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("ensure store %q: %w", name, err)
	}
	return &ObjectStore{b: b, name: name, writable: true}, nil
}

// DeleteStore drops an object store and everything in it.
func (tx *UpgradeTx) DeleteStore(name string) error {
	if err := checkStoreName(name); err != nil {
		return err
	}
	if err := tx.btx.DeleteBucket([]byte(name)); err != nil {
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("delete store %q: %w", name, ErrNoStore)
		}
		return fmt.Errorf("delete store %q: %w", name, err)
	}
	return nil
}

// HasStore reports whether an object store exists.
func (tx *UpgradeTx) HasStore(name string) bool {
	if checkStoreName(name) != nil {
		return false
	}
	return tx.btx.Bucket([]byte(name)) != nil
}

func checkStoreName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty store name", ErrInvalidName)
	}
	if strings.HasPrefix(name, reservedPrefix) {
		return fmt.Errorf("%w: %q uses the reserved %q prefix", ErrInvalidName, name, reservedPrefix)
	}
	return nil
}

// ObjectStore is one named store inside a transaction. It is only valid
// for the duration of the transaction that produced it.
type ObjectStore struct {
	b        *bbolt.Bucket
	name     string
	writable bool
}

// Name returns the store's name.
func (s *ObjectStore) Name() string { return s.name }

// Get returns a copy of the value under key. Absence is ErrNoKey; an
// empty value is present with length zero.
func (s *ObjectStore) Get(key string) ([]byte, error) {
	k, v := s.b.Cursor().Seek([]byte(key))
	if k == nil || !bytes.Equal(k, []byte(key)) {
		return nil, fmt.Errorf("store %q: get %q: %w", s.name, key, ErrNoKey)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// GetJSON unmarshals the value under key into out.
func (s *ObjectStore) GetJSON(key string, out any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("store %q: unmarshal %q: %w", s.name, key, err)
	}
	return nil
}

// Put stores value under key, replacing any previous value.
func (s *ObjectStore) Put(key string, value []byte) error {
	if !s.writable {
		return fmt.Errorf("store %q: put %q: %w", s.name, key, ErrTxReadOnly)
	}
	if key == "" {
		return fmt.Errorf("store %q: put: %w: empty key", s.name, ErrInvalidKey)
	}
	if err := s.b.Put([]byte(key), value); err != nil {
		return fmt.Errorf("store %q: put %q: %w", s.name, key, err)
	}
	return nil
}

// PutJSON marshals v and stores it under key.
func (s *ObjectStore) PutJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store %q: marshal %q: %w", s.name, key, err)
	}
	return s.Put(key, data)
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *ObjectStore) Delete(key string) error {
	if !s.writable {
		return fmt.Errorf("store %q: delete %q: %w", s.name, key, ErrTxReadOnly)
	}
	if err := s.b.Delete([]byte(key)); err != nil {
		return fmt.Errorf("store %q: delete %q: %w", s.name, key, err)
	}
	return nil
}

// Has reports whether key is present.
func (s *ObjectStore) Has(key string) bool {
	k, _ := s.b.Cursor().Seek([]byte(key))
	return k != nil && bytes.Equal(k, []byte(key))
}

// Count returns the number of keys in the store.
func (s *ObjectStore) Count() int {
	n := 0
	_ = s.b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}

// Keys returns every key in byte order.
func (s *ObjectStore) Keys() []string {
	keys := make([]string, 0)
	_ = s.b.ForEach(func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return keys
}

// ForEach calls fn for every key/value pair in byte order. The value is a
// copy; an error from fn stops the walk and is returned.
func (s *ObjectStore) ForEach(fn func(key string, value []byte) error) error {
	return s.b.ForEach(func(k, v []byte) error {
		out := make([]byte, len(v))
		copy(out, v)
		return fn(string(k), out)
	})
}

// NextKey returns the store's next sequence number, for callers that want
// auto-assigned keys. The sequence survives across transactions.
func (s *ObjectStore) NextKey() (uint64, error) {
	if !s.writable {
		return 0, fmt.Errorf("store %q: next key: %w", s.name, ErrTxReadOnly)
	}
	seq, err := s.b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("store %q: next key: %w", s.name, err)
	}
	return seq, nil
}

// Clear removes every key in the store.
func (s *ObjectStore) Clear() error {
	if !s.writable {
		return fmt.Errorf("store %q: clear: %w", s.name, ErrTxReadOnly)
	}
	c := s.b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return fmt.Errorf("store %q: clear: %w", s.name, err)
		}
	}
	return nil
}
