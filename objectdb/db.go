package objectdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	metaBucket       = "__meta"
	reservedPrefix   = "__"
	metaKeyVersion   = "version"
	metaKeyID        = "id"
	metaKeyCreatedAt = "created_at"

	defaultLockTimeout = time.Second
)

// DB is an open database handle. Safe for concurrent use.
type DB struct {
	bdb    *bbolt.DB
	path   string
	log    *slog.Logger
	info   Info
	closed atomic.Bool
}

// Option configures Open and Delete.
type Option func(*options)

type options struct {
	upgrade     UpgradeFunc
	lockTimeout time.Duration
	logger      *slog.Logger
}

// WithUpgrade supplies the callback that migrates the database when the
// requested version is ahead of the stored one.
func WithUpgrade(fn UpgradeFunc) Option {
	return func(o *options) { o.upgrade = fn }
}

// WithLockTimeout bounds how long Open and Delete wait for the file lock
// before reporting ErrBlocked. The default is one second.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithLogger sets the logger; the default is slog.Default. Log records
// carry paths, versions and store names, never stored values.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	o := options{lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Open opens the database at path at the requested version, creating it
// if needed. A stored version ahead of the requested one is
// ErrInvalidVersion; a stored version behind it runs the upgrade callback
// once inside the write transaction that records the new version.
func Open(path string, version int, opts ...Option) (*DB, error) {
	o := applyOptions(opts)

	if version < 1 {
		return nil, fmt.Errorf("open objectdb: requested version %d: %w", version, ErrInvalidVersion)
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open objectdb: %w: empty path", ErrUnavailable)
	}
	cleanPath := filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", cleanPath, ErrUnavailable, err)
	}

	_, statErr := os.Stat(cleanPath)
	fresh := errors.Is(statErr, os.ErrNotExist)

	bdb, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: o.lockTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("open %s: %w", cleanPath, ErrBlocked)
		}
		return nil, fmt.Errorf("open %s: %w: %w", cleanPath, ErrUnavailable, err)
	}

	db := &DB{bdb: bdb, path: cleanPath, log: o.logger}

	created, upgradedFrom, err := db.initialize(version, fresh, o.upgrade)
	if err != nil {
		_ = bdb.Close()
		if fresh {
			_ = os.Remove(cleanPath)
		}
		return nil, err
	}

	if err := db.snapshotInfo(); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("open %s: %w: %w", cleanPath, ErrUnavailable, err)
	}

	switch {
	case created:
		db.log.Info("database created", "path", cleanPath, "version", version)
	case upgradedFrom >= 0:
		db.log.Info("database upgraded", "path", cleanPath, "from", upgradedFrom, "to", version)
	default:
		db.log.Debug("database opened", "path", cleanPath, "version", version)
	}
	return db, nil
}

// initialize brings the file's meta state and schema up to the requested
// version inside one write transaction. It reports whether the meta state
// was created from scratch and, when an upgrade ran, the version it
// started from (-1 otherwise).
func (db *DB) initialize(requested int, fresh bool, upgrade UpgradeFunc) (bool, int, error) {
	var (
		created      bool
		upgradedFrom = -1
	)

	err := db.bdb.Update(func(btx *bbolt.Tx) error {
		meta := btx.Bucket([]byte(metaBucket))
		if meta == nil {
			var err error
			meta, err = btx.CreateBucket([]byte(metaBucket))
			if err != nil {
				return fmt.Errorf("create meta bucket: %w", err)
			}
			created = true
			if err := meta.Put([]byte(metaKeyID), []byte(uuid.NewString())); err != nil {
				return fmt.Errorf("write database id: %w", err)
			}
			if err := meta.Put([]byte(metaKeyCreatedAt), []byte(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
				return fmt.Errorf("write created_at: %w", err)
			}
		}

		stored, err := readStoredVersion(meta)
		if err != nil {
			return err
		}
		if stored > requested {
			return fmt.Errorf("stored version %d exceeds requested %d: %w", stored, requested, ErrInvalidVersion)
		}
		if stored == requested {
			return nil
		}

		if upgrade == nil {
			return fmt.Errorf("stored version %d, requested %d: %w", stored, requested, ErrUpgradeRequired)
		}
		utx := &UpgradeTx{Tx: Tx{btx: btx, writable: true}}
		if err := runUpgrade(utx, upgrade, stored, requested); err != nil {
			return err
		}
		if err := meta.Put([]byte(metaKeyVersion), []byte(strconv.Itoa(requested))); err != nil {
			return fmt.Errorf("write version: %w", err)
		}
		if !created {
			upgradedFrom = stored
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidVersion) || errors.Is(err, ErrUpgradeRequired) {
			return false, -1, fmt.Errorf("open %s: %w", db.path, err)
		}
		sentinel := ErrUpgradeFailed
		if fresh || created {
			sentinel = ErrCreateFailed
		}
		return false, -1, fmt.Errorf("open %s: %w: %w", db.path, sentinel, err)
	}
	return created, upgradedFrom, nil
}

// runUpgrade shields the transaction from a panicking callback.
func runUpgrade(utx *UpgradeTx, fn UpgradeFunc, oldVersion, newVersion int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upgrade from v%d to v%d: panic: %v", oldVersion, newVersion, r)
		}
	}()
	if err := fn(utx, oldVersion, newVersion); err != nil {
		return fmt.Errorf("upgrade from v%d to v%d: %w", oldVersion, newVersion, err)
	}
	return nil
}

func readStoredVersion(meta *bbolt.Bucket) (int, error) {
	raw := meta.Get([]byte(metaKeyVersion))
	if raw == nil {
		return 0, nil
	}
	version, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse stored version %q: %w", raw, err)
	}
	return version, nil
}

func (db *DB) snapshotInfo() error {
	info := Info{Path: db.path}
	err := db.bdb.View(func(btx *bbolt.Tx) error {
		meta := btx.Bucket([]byte(metaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket missing")
		}
		info.ID = string(meta.Get([]byte(metaKeyID)))
		if raw := meta.Get([]byte(metaKeyCreatedAt)); raw != nil {
			if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
				info.CreatedAt = ts
			}
		}
		version, err := readStoredVersion(meta)
		if err != nil {
			return err
		}
		info.Version = version

		return btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if !strings.HasPrefix(string(name), reservedPrefix) {
				info.Stores = append(info.Stores, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	db.info = info
	return nil
}

// Version returns the database's resolved version.
func (db *DB) Version() int { return db.info.Version }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Info returns the identity snapshot taken at Open.
func (db *DB) Info() Info {
	info := db.info
	info.Stores = append([]string(nil), db.info.Stores...)
	return info
}

// Stores returns the object store names, sorted. The list is fixed for
// the life of the handle: schema only changes inside an upgrade.
func (db *DB) Stores() []string {
	return append([]string(nil), db.info.Stores...)
}

// View runs fn in a read transaction.
func (db *DB) View(fn func(*Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.bdb.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Update runs fn in a write transaction; an error from fn aborts it.
func (db *DB) Update(fn func(*Tx) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	err := db.bdb.Update(func(btx *bbolt.Tx) error {
		return fn(&Tx{btx: btx, writable: true})
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Close releases the file lock. Idempotent and nil-safe.
func (db *DB) Close() error {
	if db == nil || db.bdb == nil {
		return nil
	}
	if db.closed.Swap(true) {
		return nil
	}
	if err := db.bdb.Close(); err != nil {
		return fmt.Errorf("close %s: %w", db.path, err)
	}
	return nil
}

// Inspect reads a database's identity without running upgrades. The file
// is opened read-only under a shared lock, so a live writer makes this
// report ErrBlocked.
func Inspect(path string, opts ...Option) (Info, error) {
	o := applyOptions(opts)
	cleanPath := filepath.Clean(path)

	if _, err := os.Stat(cleanPath); err != nil {
		return Info{}, fmt.Errorf("inspect %s: %w: %w", cleanPath, ErrUnavailable, err)
	}

	bdb, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: o.lockTimeout, ReadOnly: true})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return Info{}, fmt.Errorf("inspect %s: %w", cleanPath, ErrBlocked)
		}
		return Info{}, fmt.Errorf("inspect %s: %w: %w", cleanPath, ErrUnavailable, err)
	}

	db := &DB{bdb: bdb, path: cleanPath, log: o.logger}
	if err := db.snapshotInfo(); err != nil {
		_ = bdb.Close()
		return Info{}, fmt.Errorf("inspect %s: %w: %w", cleanPath, ErrUnavailable, err)
	}
	if err := bdb.Close(); err != nil {
		return Info{}, fmt.Errorf("inspect %s: %w", cleanPath, err)
	}
	return db.Info(), nil
}

// Delete removes the database file at path. A live connection holds the
// file lock, so deletion under it reports ErrBlocked; a missing file is
// a no-op. A file the engine cannot open is removed anyway: corruption
// must not make a database undeletable.
func Delete(path string, opts ...Option) error {
	o := applyOptions(opts)
	cleanPath := filepath.Clean(path)

	if _, err := os.Stat(cleanPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	bdb, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: o.lockTimeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return fmt.Errorf("delete %s: %w", cleanPath, ErrBlocked)
		}
		if rmErr := os.Remove(cleanPath); rmErr != nil {
			return fmt.Errorf("delete %s: %w: %w", cleanPath, ErrUnavailable, err)
		}
		o.logger.Warn("unreadable database removed", "path", cleanPath, "error", err)
		return nil
	}
	if err := bdb.Close(); err != nil {
		return fmt.Errorf("delete %s: %w", cleanPath, err)
	}

	if err := os.Remove(cleanPath); err != nil {
		return fmt.Errorf("delete %s: %w", cleanPath, err)
	}
	o.logger.Info("database deleted", "path", cleanPath)
	return nil
}
