package objectdb

import (
	"errors"
	"time"
)

var (
	// ErrInvalidVersion reports a requested version below 1, or below the
	// version already stored in the database.
	ErrInvalidVersion = errors.New("objectdb: invalid version")
	// ErrCreateFailed reports that creating a new database did not
	// complete; the partial file is removed.
	ErrCreateFailed = errors.New("objectdb: database creation failed")
	// ErrUpgradeFailed reports an upgrade that did not complete; the
	// database keeps its previous version.
	ErrUpgradeFailed = errors.New("objectdb: upgrade failed")
	// ErrUpgradeRequired reports an Open without an upgrade callback when
	// the stored version is behind the requested one.
	ErrUpgradeRequired = errors.New("objectdb: upgrade required")
	// ErrBlocked reports that another connection holds the database.
	ErrBlocked = errors.New("objectdb: database is locked by another connection")
	// ErrUnavailable reports a database file or directory that cannot be
	// used.
	ErrUnavailable = errors.New("objectdb: storage unavailable")
	// ErrClosed reports an operation on a closed database.
	ErrClosed = errors.New("objectdb: database closed")
	// ErrNoStore reports a missing object store.
	ErrNoStore = errors.New("objectdb: no such object store")
	// ErrStoreExists reports a CreateStore against an existing name.
	ErrStoreExists = errors.New("objectdb: object store already exists")
	// ErrInvalidName reports an unusable object store name.
	ErrInvalidName = errors.New("objectdb: invalid store name")
	// ErrNoKey reports a read of a key that is not present.
	ErrNoKey = errors.New("objectdb: no such key")
	// ErrInvalidKey reports a key the store cannot accept.
	ErrInvalidKey = errors.New("objectdb: invalid key")
	// ErrTxReadOnly reports a write attempted in a read transaction.
	ErrTxReadOnly = errors.New("objectdb: read-only transaction")
)

// Info is a snapshot of a database's identity, taken at Open.
type Info struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Stores    []string  `json:"stores"`
}

// UpgradeFunc migrates a database from oldVersion to newVersion. It runs
// exactly once, inside the single write transaction that also records the
// new version, so a failed upgrade leaves no trace.
type UpgradeFunc func(tx *UpgradeTx, oldVersion, newVersion int) error
