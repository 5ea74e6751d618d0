package webstorage

import "errors"

var (
	// ErrUnavailable reports that the backing storage area could not be
	// opened or created.
	ErrUnavailable = errors.New("webstorage: storage unavailable")
	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("webstorage: store closed")
	// ErrNoKey reports a read of a key that is not present.
	ErrNoKey = errors.New("webstorage: no such key")
	// ErrInvalidKey reports a key the store cannot accept.
	ErrInvalidKey = errors.New("webstorage: invalid key")
	// ErrQuotaExceeded reports a write that would push usage past the
	// configured quota.
	ErrQuotaExceeded = errors.New("webstorage: quota exceeded")
	// ErrUnknownTag reports a typed value whose tag has no registered
	// constructor.
	ErrUnknownTag = errors.New("webstorage: unknown type tag")
	// ErrInvalidTag reports a typed value with an unusable tag.
	ErrInvalidTag = errors.New("webstorage: invalid type tag")
	// ErrBadEnvelope reports a stored value that is not a typed envelope.
	ErrBadEnvelope = errors.New("webstorage: malformed typed envelope")
	// ErrSchemaTooNew reports a local area written by a newer build.
	ErrSchemaTooNew = errors.New("webstorage: schema version is newer than this build")
)

// Area names a storage area within an origin.
type Area string

const (
	// Local is the persistent area, one SQLite file per origin.
	Local Area = "local"
	// Session is the in-memory area, discarded on Close.
	Session Area = "session"
)

// Codec transforms values on their way to and from the engine. The slot
// identifies where the value lives ("origin/area/key") so an encrypting
// codec can bind its output to the location; codecs that do not care may
// ignore it. Encoded output must be valid UTF-8 text.
type Codec interface {
	Encode(slot string, plain []byte) ([]byte, error)
	Decode(slot string, stored []byte) ([]byte, error)
}

// Event describes one committed mutation. Clear emits a single Event with
// an empty Key. OldValue and NewValue carry plaintext values; a removal
// has an empty NewValue.
type Event struct {
	Origin   string
	Area     Area
	Key      string
	OldValue string
	NewValue string
}

// Typed values serialize with a type tag so the registered constructor
// for that tag rebuilds them on load.
type Typed interface {
	TypeTag() string
}
