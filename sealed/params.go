package sealed

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
)

const (
	// DefaultMemoryKiB is the Argon2id memory cost for new codecs.
	DefaultMemoryKiB uint32 = 64 * 1024
	// DefaultIterations is the Argon2id time cost.
	DefaultIterations uint32 = 3
	// DefaultSaltLen is the salt length in bytes.
	DefaultSaltLen = 16
	// DefaultKeyLen is the derived master key length in bytes.
	DefaultKeyLen uint32 = 32
	// MinMemoryKiB is the lowest memory cost Validate accepts.
	MinMemoryKiB uint32 = 32 * 1024
)

// ErrInvalidParams reports unusable key derivation parameters.
var ErrInvalidParams = errors.New("sealed: invalid parameters")

// Params is the Argon2id cost configuration for deriving master keys.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     int
	KeyLen      uint32
}

// DefaultParams returns the recommended cost for interactive use.
func DefaultParams() Params {
	parallelism := runtime.NumCPU()
	if parallelism > 4 {
		parallelism = 4
	}
	if parallelism < 1 {
		parallelism = 1
	}

	return Params{
		Memory:      DefaultMemoryKiB,
		Iterations:  DefaultIterations,
		Parallelism: uint8(parallelism),
		SaltLen:     DefaultSaltLen,
		KeyLen:      DefaultKeyLen,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Memory < MinMemoryKiB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidParams, MinMemoryKiB)
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be > 0", ErrInvalidParams)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be > 0", ErrInvalidParams)
	case p.SaltLen < 16:
		return fmt.Errorf("%w: salt length must be >= 16", ErrInvalidParams)
	case p.KeyLen == 0:
		return fmt.Errorf("%w: key length must be > 0", ErrInvalidParams)
	default:
		return nil
	}
}

// DeriveKey derives a master key from a passphrase and salt. Exposed so
// callers can verify a passphrase against an existing envelope.
func DeriveKey(passphrase, salt []byte, params Params) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: passphrase must not be empty", ErrInvalidParams)
	}
	if len(salt) < params.SaltLen {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidParams, params.SaltLen)
	}

	return argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen), nil
}
