// Package objectdb provides named, versioned object-store databases: a
// database opens at a requested version, an upgrade callback runs
// transactionally when the version moves forward, and data lives in named
// object stores accessed through read or write transactions.
//
// Each database is one bbolt file; object stores are buckets. The engine's
// file lock surfaces a competing connection as ErrBlocked, on Open and on
// Delete alike. Schema changes (creating and dropping stores) happen only
// inside the upgrade callback, so a handle's store list is fixed for its
// lifetime.
package objectdb
