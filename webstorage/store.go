package webstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/iAmSomeone2/browser-storage/origin"
)

const localDBFileName = "local.db"

// Store is a handle to one storage area of one origin. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	eng      engine
	origin   string
	area     Area
	keys     map[string]int
	used     int64
	quota    int64
	codec    Codec
	registry *Registry
	log      *slog.Logger

	listeners []listener
	nextSub   int
	closed    bool
}

type listener struct {
	id int
	fn func(Event)
}

// Option configures a Store at open time.
type Option func(*options)

type options struct {
	dataDir  string
	quota    int64
	codec    Codec
	registry *Registry
	logger   *slog.Logger
}

// WithDataDir overrides the base data directory normally resolved from
// the environment; origin directories are created beneath it.
func WithDataDir(dir string) Option {
	return func(o *options) { o.dataDir = dir }
}

// WithQuota caps usage at quota bytes, measured as the sum of key and
// stored value lengths. Zero means unlimited.
func WithQuota(quota int64) Option {
	return func(o *options) { o.quota = quota }
}

// WithCodec routes every value through c at the engine boundary.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithRegistry uses r instead of DefaultRegistry for typed values.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger sets the logger; the default is slog.Default. Log records
// carry origins, keys and sizes, never stored values.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open opens the persistent local area for an origin, creating it on
// first use. The backing database lives in the origin's data directory.
func Open(originName string, opts ...Option) (*Store, error) {
	o := applyOptions(opts)
	if o.quota < 0 {
		return nil, fmt.Errorf("open local storage: negative quota %d", o.quota)
	}

	dir, err := resolveOriginDir(originName, o.dataDir)
	if err != nil {
		if errors.Is(err, origin.ErrInvalidOrigin) {
			return nil, err
		}
		return nil, fmt.Errorf("open local storage: %w: %w", ErrUnavailable, err)
	}

	eng, err := openSQLiteEngine(filepath.Join(dir, localDBFileName))
	if err != nil {
		return nil, fmt.Errorf("open local storage: %w: %w", ErrUnavailable, err)
	}

	return newStore(eng, originName, Local, o)
}

// OpenSession opens an in-memory session area for an origin. Nothing
// touches disk; Close discards the contents.
func OpenSession(originName string, opts ...Option) (*Store, error) {
	if err := origin.Check(originName); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	if o.quota < 0 {
		return nil, fmt.Errorf("open session storage: negative quota %d", o.quota)
	}
	return newStore(newMemoryEngine(), originName, Session, o)
}

func resolveOriginDir(name, override string) (string, error) {
	if override == "" {
		return origin.EnsureDir(name)
	}
	if err := origin.Check(name); err != nil {
		return "", err
	}
	dir := filepath.Join(override, "origins", name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create origin dir: %w", err)
	}
	return dir, nil
}

func newStore(eng engine, originName string, area Area, o options) (*Store, error) {
	keys, err := eng.load()
	if err != nil {
		_ = eng.close()
		return nil, fmt.Errorf("open %s storage: %w: %w", area, ErrUnavailable, err)
	}

	var used int64
	for key, size := range keys {
		used += int64(len(key) + size)
	}

	st := &Store{
		eng:      eng,
		origin:   originName,
		area:     area,
		keys:     keys,
		used:     used,
		quota:    o.quota,
		codec:    o.codec,
		registry: o.registry,
		log:      o.logger,
	}
	if st.registry == nil {
		st.registry = DefaultRegistry
	}
	if st.log == nil {
		st.log = slog.Default()
	}

	st.log.Debug("storage opened",
		"origin", originName,
		"area", string(area),
		"keys", len(keys),
		"used_bytes", used,
	)
	return st, nil
}

// Origin returns the origin this store belongs to.
func (s *Store) Origin() string { return s.origin }

// Area returns the store's area.
func (s *Store) Area() Area { return s.area }

// Get returns the value under key. Absence is ErrNoKey; an empty string
// is a present value.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	if _, ok := s.keys[key]; !ok {
		return "", fmt.Errorf("get %q: %w", key, ErrNoKey)
	}
	return s.getLocked(key)
}

// getLocked reads and decodes one value. Callers hold s.mu in either mode.
func (s *Store) getLocked(key string) (string, error) {
	stored, ok, err := s.eng.get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("get %q: %w", key, ErrNoKey)
	}
	if s.codec == nil {
		return stored, nil
	}
	plain, err := s.codec.Decode(s.slot(key), []byte(stored))
	if err != nil {
		return "", fmt.Errorf("get %q: decode: %w", key, err)
	}
	return string(plain), nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("set: %w: empty key", ErrInvalidKey)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	stored := value
	if s.codec != nil {
		encoded, err := s.codec.Encode(s.slot(key), []byte(value))
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("set %q: encode: %w", key, err)
		}
		stored = string(encoded)
	}

	next := s.used + int64(len(key)+len(stored))
	if prev, ok := s.keys[key]; ok {
		next -= int64(len(key) + prev)
	}
	if s.quota > 0 && next > s.quota {
		s.mu.Unlock()
		return fmt.Errorf("set %q: need %d of %d bytes: %w", key, next, s.quota, ErrQuotaExceeded)
	}

	old := s.oldValueLocked(key)

	if err := s.eng.put(key, stored); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.keys[key] = len(stored)
	s.used = next
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.notify(subs, Event{Origin: s.origin, Area: s.area, Key: key, OldValue: old, NewValue: value})
	return nil
}

// Remove deletes the value under key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	size, ok := s.keys[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	old := s.oldValueLocked(key)

	if err := s.eng.delete(key); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("remove %q: %w", key, err)
	}
	delete(s.keys, key)
	s.used -= int64(len(key) + size)
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.notify(subs, Event{Origin: s.origin, Area: s.area, Key: key, OldValue: old})
	return nil
}

// Clear deletes every key in the area.
func (s *Store) Clear() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.eng.clear(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("clear: %w", err)
	}
	s.keys = make(map[string]int)
	s.used = 0
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.notify(subs, Event{Origin: s.origin, Area: s.area})
	return nil
}

// Has reports whether key is present, from the key cache alone.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Keys returns the known keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.keys))
	for key := range s.keys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Used returns current usage in bytes (keys plus stored values).
func (s *Store) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

// Quota returns the configured quota in bytes; zero means unlimited.
func (s *Store) Quota() int64 { return s.quota }

// Subscribe registers fn to run after each committed mutation. Listeners
// run synchronously, outside the store lock, in subscription order. The
// returned cancel removes the subscription.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
	}
}

// Close releases the engine. Further mutations and reads fail with
// ErrClosed; Has, Keys, Len and Used report an empty store. Idempotent.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.keys = nil
	s.used = 0
	s.listeners = nil
	if err := s.eng.close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

func (s *Store) slot(key string) string {
	return s.origin + "/" + string(s.area) + "/" + key
}

// oldValueLocked fetches the plaintext value about to be replaced, only
// when someone is listening. Decode failures degrade to an empty old
// value rather than blocking the write.
func (s *Store) oldValueLocked(key string) string {
	if len(s.listeners) == 0 {
		return ""
	}
	if _, ok := s.keys[key]; !ok {
		return ""
	}
	value, err := s.getLocked(key)
	if err != nil {
		return ""
	}
	return value
}

func (s *Store) subscribersLocked() []func(Event) {
	if len(s.listeners) == 0 {
		return nil
	}
	subs := make([]func(Event), len(s.listeners))
	for i, l := range s.listeners {
		subs[i] = l.fn
	}
	return subs
}

func (s *Store) notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
