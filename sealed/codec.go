package sealed

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrAuthFailed reports a value that does not authenticate: wrong
	// passphrase, tampered bytes, or a ciphertext moved to another slot.
	ErrAuthFailed = errors.New("sealed: authentication failed")
	// ErrBadEnvelope reports stored bytes that are not a sealed envelope.
	ErrBadEnvelope = errors.New("sealed: malformed envelope")
	// ErrUnsupported reports an envelope from an unknown format or KDF.
	ErrUnsupported = errors.New("sealed: unsupported envelope")
	// ErrDestroyed reports use of a codec after Destroy.
	ErrDestroyed = errors.New("sealed: codec destroyed")
	// ErrInvalidInput reports malformed key material.
	ErrInvalidInput = errors.New("sealed: invalid input")
)

const (
	formatVersion = 1
	kdfArgon2id   = "argon2id"

	subkeyInfoPrefix = "bstore:v1:"
	aadPrefix        = "bstore-sealed:v1:"
)

// envelope is the stored form. Codec values carry only the cipher fields;
// Seal additionally records the KDF so the document opens anywhere.
type envelope struct {
	V           int    `json:"v"`
	KDF         string `json:"kdf,omitempty"`
	Memory      uint32 `json:"m,omitempty"`
	Iterations  uint32 `json:"t,omitempty"`
	Parallelism uint8  `json:"p,omitempty"`
	Salt        []byte `json:"salt,omitempty"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ct"`
}

// Codec seals and opens individual values under per-slot subkeys. It
// implements the webstorage Codec seam.
type Codec struct {
	master *memguard.LockedBuffer
	params Params
	salt   []byte
}

// New derives the master key from passphrase and salt and returns a
// ready codec.
func New(passphrase, salt []byte, params Params) (*Codec, error) {
	key, err := DeriveKey(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	// NewBufferFromBytes wipes the source slice.
	return &Codec{
		master: memguard.NewBufferFromBytes(key),
		params: params,
		salt:   append([]byte(nil), salt...),
	}, nil
}

// Generate builds a codec with a fresh random salt and returns the salt
// for the caller to store alongside the data.
func Generate(passphrase []byte, params Params) (*Codec, []byte, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	salt, err := randomBytes(params.SaltLen)
	if err != nil {
		return nil, nil, err
	}
	codec, err := New(passphrase, salt, params)
	if err != nil {
		return nil, nil, err
	}
	return codec, salt, nil
}

// Salt returns the salt the master key was derived with.
func (c *Codec) Salt() []byte {
	return append([]byte(nil), c.salt...)
}

// Encode seals plain under the subkey for slot.
func (c *Codec) Encode(slot string, plain []byte) ([]byte, error) {
	subkey, err := c.subkey(slot)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(subkey)

	nonce, err := randomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}

	ciphertext, err := sealBytes(subkey, nonce, plain, slotAAD(slot))
	if err != nil {
		return nil, fmt.Errorf("seal %q: %w", slot, err)
	}

	out, err := json.Marshal(envelope{V: formatVersion, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// Decode opens a value previously sealed for slot.
func (c *Codec) Decode(slot string, stored []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(stored, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if env.V != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrUnsupported, env.V)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX || len(env.Ciphertext) == 0 {
		return nil, fmt.Errorf("%w: truncated envelope", ErrBadEnvelope)
	}

	subkey, err := c.subkey(slot)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(subkey)

	plain, err := openBytes(subkey, env.Nonce, env.Ciphertext, slotAAD(slot))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", slot, err)
	}
	return plain, nil
}

// Destroy wipes the master key. The codec is unusable afterwards.
func (c *Codec) Destroy() {
	if c.master != nil {
		c.master.Destroy()
	}
}

func (c *Codec) subkey(slot string) ([]byte, error) {
	if c.master == nil || !c.master.IsAlive() {
		return nil, ErrDestroyed
	}
	return deriveSubkey(c.master.Bytes(), []byte(subkeyInfoPrefix+slot), chacha20poly1305.KeySize)
}

// Seal encrypts a whole document under a key derived per call, recording
// the KDF parameters and salt in the envelope. The label binds the output
// to its purpose the way a slot binds a codec value.
func Seal(passphrase []byte, label string, plain []byte, params Params) ([]byte, error) {
	if params.KeyLen != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key length must be %d", ErrInvalidParams, chacha20poly1305.KeySize)
	}
	salt, err := randomBytes(params.SaltLen)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	nonce, err := randomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	ciphertext, err := sealBytes(key, nonce, plain, slotAAD(label))
	if err != nil {
		return nil, fmt.Errorf("seal %q: %w", label, err)
	}

	out, err := json.Marshal(envelope{
		V:           formatVersion,
		KDF:         kdfArgon2id,
		Memory:      params.Memory,
		Iterations:  params.Iterations,
		Parallelism: params.Parallelism,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// Open decrypts a document produced by Seal with the same label.
func Open(passphrase []byte, label string, stored []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(stored, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}
	if env.V != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrUnsupported, env.V)
	}
	if env.KDF != kdfArgon2id {
		return nil, fmt.Errorf("%w: kdf %q", ErrUnsupported, env.KDF)
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX || len(env.Ciphertext) == 0 {
		return nil, fmt.Errorf("%w: truncated envelope", ErrBadEnvelope)
	}

	params := Params{
		Memory:      env.Memory,
		Iterations:  env.Iterations,
		Parallelism: env.Parallelism,
		SaltLen:     len(env.Salt),
		KeyLen:      DefaultKeyLen,
	}
	key, err := DeriveKey(passphrase, env.Salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	plain, err := openBytes(key, env.Nonce, env.Ciphertext, slotAAD(label))
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", label, err)
	}
	return plain, nil
}

// IsSealed reports whether data looks like a document produced by Seal.
func IsSealed(data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	return env.V >= 1 && env.KDF == kdfArgon2id
}

func slotAAD(slot string) []byte {
	return []byte(aadPrefix + slot)
}

func sealBytes(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidInput, chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidInput, chacha20poly1305.NonceSizeX)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func openBytes(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidInput, chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidInput, chacha20poly1305.NonceSizeX)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("construct xchacha20-poly1305: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return plaintext, nil
}

func deriveSubkey(ikm, info []byte, length int) ([]byte, error) {
	if len(ikm) == 0 {
		return nil, fmt.Errorf("%w: empty key material", ErrInvalidInput)
	}

	r := hkdf.New(sha256.New, ikm, nil, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return out, nil
}

func randomBytes(size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return out, nil
}
