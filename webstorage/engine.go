package webstorage

import "sync"

// engine is the seam between the store and its backing area. Implementations
// must be safe for concurrent use. load returns the stored byte size per key
// so the store can rebuild its key cache and usage accounting.
type engine interface {
	load() (map[string]int, error)
	get(key string) (string, bool, error)
	put(key, value string) error
	delete(key string) error
	clear() error
	close() error
}

type memoryEngine struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{values: make(map[string]string)}
}

func (e *memoryEngine) load() (map[string]int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make(map[string]int, len(e.values))
	for key, value := range e.values {
		keys[key] = len(value)
	}
	return keys, nil
}

func (e *memoryEngine) get(key string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, ok := e.values[key]
	return value, ok, nil
}

func (e *memoryEngine) put(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[key] = value
	return nil
}

func (e *memoryEngine) delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.values, key)
	return nil
}

func (e *memoryEngine) clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values = make(map[string]string)
	return nil
}

func (e *memoryEngine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values = nil
	return nil
}
