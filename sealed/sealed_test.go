package sealed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iAmSomeone2/browser-storage/webstorage"
)

var _ webstorage.Codec = (*Codec)(nil)

func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, []byte("correct horse battery staple"))
	defer codec.Destroy()

	stored, err := codec.Encode("example.com/local/token", []byte("hunter2"))
	require.NoError(t, err)
	require.NotContains(t, string(stored), "hunter2")

	plain, err := codec.Decode("example.com/local/token", stored)
	require.NoError(t, err)
	require.Equal(t, []byte("hunter2"), plain)
}

func TestCodecEncodeIsNonDeterministic(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, []byte("pass"))
	defer codec.Destroy()

	first, err := codec.Encode("a/local/k", []byte("v"))
	require.NoError(t, err)
	second, err := codec.Encode("a/local/k", []byte("v"))
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestCodecSlotBinding(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, []byte("pass"))
	defer codec.Destroy()

	stored, err := codec.Encode("example.com/local/a", []byte("value"))
	require.NoError(t, err)

	_, err = codec.Decode("example.com/local/b", stored)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestCodecWrongPassphrase(t *testing.T) {
	t.Parallel()

	params := testParams()
	salt := []byte("0123456789abcdef")

	right, err := New([]byte("right"), append([]byte(nil), salt...), params)
	require.NoError(t, err)
	defer right.Destroy()

	wrong, err := New([]byte("wrong"), append([]byte(nil), salt...), params)
	require.NoError(t, err)
	defer wrong.Destroy()

	stored, err := right.Encode("o/local/k", []byte("secret"))
	require.NoError(t, err)

	_, err = wrong.Decode("o/local/k", stored)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestCodecTamperedCiphertext(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, []byte("pass"))
	defer codec.Destroy()

	stored, err := codec.Encode("o/local/k", []byte("secret"))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(stored, &env))
	env.Ciphertext[0] ^= 0xff
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = codec.Decode("o/local/k", tampered)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestCodecDestroyed(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, []byte("pass"))
	stored, err := codec.Encode("o/local/k", []byte("v"))
	require.NoError(t, err)

	codec.Destroy()

	_, err = codec.Encode("o/local/k", []byte("v"))
	require.ErrorIs(t, err, ErrDestroyed)
	_, err = codec.Decode("o/local/k", stored)
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestCodecDecodeMalformed(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, []byte("pass"))
	defer codec.Destroy()

	_, err := codec.Decode("o/local/k", []byte("not json"))
	require.ErrorIs(t, err, ErrBadEnvelope)

	_, err = codec.Decode("o/local/k", []byte(`{"v":9,"nonce":"AA==","ct":"AA=="}`))
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = codec.Decode("o/local/k", []byte(`{"v":1,"nonce":"AA==","ct":"AA=="}`))
	require.ErrorIs(t, err, ErrBadEnvelope)
}

func TestGenerateProducesFreshSalt(t *testing.T) {
	t.Parallel()

	params := testParams()

	first, saltA, err := Generate([]byte("pass"), params)
	require.NoError(t, err)
	defer first.Destroy()

	second, saltB, err := Generate([]byte("pass"), params)
	require.NoError(t, err)
	defer second.Destroy()

	require.Len(t, saltA, params.SaltLen)
	require.NotEqual(t, saltA, saltB)
	require.Equal(t, saltA, first.Salt())
}

func TestDeriveKeyDeterministic(t *testing.T) {
	t.Parallel()

	params := testParams()
	salt := []byte("0123456789abcdef")

	a, err := DeriveKey([]byte("pass"), salt, params)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("pass"), salt, params)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := DeriveKey([]byte("other"), salt, params)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestDeriveKeyRejectsBadInput(t *testing.T) {
	t.Parallel()

	params := testParams()

	_, err := DeriveKey(nil, []byte("0123456789abcdef"), params)
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = DeriveKey([]byte("pass"), []byte("short"), params)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	valid := testParams()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"low memory", func(p *Params) { p.Memory = MinMemoryKiB - 1 }},
		{"zero iterations", func(p *Params) { p.Iterations = 0 }},
		{"zero parallelism", func(p *Params) { p.Parallelism = 0 }},
		{"short salt", func(p *Params) { p.SaltLen = 8 }},
		{"zero key", func(p *Params) { p.KeyLen = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := testParams()
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}
}

func TestSealOpenDocument(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"format":1,"entries":[{"key":"a","value":"1"}]}`)

	stored, err := Seal([]byte("pass"), "kv-archive", doc, testParams())
	require.NoError(t, err)
	require.True(t, IsSealed(stored))
	require.False(t, IsSealed(doc))

	plain, err := Open([]byte("pass"), "kv-archive", stored)
	require.NoError(t, err)
	require.Equal(t, doc, plain)

	_, err = Open([]byte("wrong"), "kv-archive", stored)
	require.ErrorIs(t, err, ErrAuthFailed)

	_, err = Open([]byte("pass"), "db-archive", stored)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestSealEnvelopeIsSelfDescribing(t *testing.T) {
	t.Parallel()

	params := testParams()
	stored, err := Seal([]byte("pass"), "kv-archive", []byte("doc"), params)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(stored, &env))
	require.Equal(t, formatVersion, env.V)
	require.Equal(t, kdfArgon2id, env.KDF)
	require.Equal(t, params.Memory, env.Memory)
	require.Equal(t, params.Iterations, env.Iterations)
	require.Equal(t, params.Parallelism, env.Parallelism)
	require.Len(t, env.Salt, params.SaltLen)
}

func TestOpenRejectsUnknownKDF(t *testing.T) {
	t.Parallel()

	stored, err := Seal([]byte("pass"), "kv-archive", []byte("doc"), testParams())
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(stored, &env))
	env.KDF = "scrypt"
	altered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Open([]byte("pass"), "kv-archive", altered)
	require.ErrorIs(t, err, ErrUnsupported)
}

// testParams keeps Argon2id cheap enough for the test suite.
func testParams() Params {
	return Params{
		Memory:      MinMemoryKiB,
		Iterations:  1,
		Parallelism: 1,
		SaltLen:     DefaultSaltLen,
		KeyLen:      DefaultKeyLen,
	}
}

func newTestCodec(t *testing.T, passphrase []byte) *Codec {
	t.Helper()
	codec, _, err := Generate(passphrase, testParams())
	require.NoError(t, err)
	return codec
}
