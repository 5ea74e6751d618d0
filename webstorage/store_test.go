package webstorage

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iAmSomeone2/browser-storage/origin"
)

func TestOpenAndRoundTrip(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	require.NoError(t, st.Set("greeting", "hello"))
	got, err := st.Get("greeting")
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	require.True(t, st.Has("greeting"))
	require.Equal(t, 1, st.Len())
	require.Equal(t, []string{"greeting"}, st.Keys())

	require.NoError(t, st.Remove("greeting"))
	require.False(t, st.Has("greeting"))
	_, err = st.Get("greeting")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	_, err := st.Get("absent")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestEmptyValueIsNotMissing(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	require.NoError(t, st.Set("empty", ""))
	require.True(t, st.Has("empty"))

	got, err := st.Get("empty")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestSetRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	require.ErrorIs(t, st.Set("", "value"), ErrInvalidKey)
}

func TestRemoveMissingKeyIsNoOp(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	require.NoError(t, st.Remove("never-stored"))
}

func TestKeysSorted(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	for _, key := range []string{"zeta", "alpha", "mu"} {
		require.NoError(t, st.Set(key, "x"))
	}
	require.Equal(t, []string{"alpha", "mu", "zeta"}, st.Keys())
}

func TestPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	st, err := Open("example.com", WithDataDir(base))
	require.NoError(t, err)
	require.NoError(t, st.Set("k1", "v1"))
	require.NoError(t, st.Set("k2", ""))
	usedBefore := st.Used()
	closeNoErr(t, st)

	st, err = Open("example.com", WithDataDir(base))
	require.NoError(t, err)
	defer closeNoErr(t, st)

	require.Equal(t, 2, st.Len())
	require.Equal(t, usedBefore, st.Used())
	got, err := st.Get("k1")
	require.NoError(t, err)
	require.Equal(t, "v1", got)
	got, err = st.Get("k2")
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestOpenRejectsInvalidOrigin(t *testing.T) {
	t.Parallel()

	_, err := Open("../escape", WithDataDir(t.TempDir()))
	require.ErrorIs(t, err, origin.ErrInvalidOrigin)

	_, err = OpenSession("UPPER")
	require.ErrorIs(t, err, origin.ErrInvalidOrigin)
}

func TestOpenRefusesNewerSchemaVersion(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	st, err := Open("example.com", WithDataDir(base))
	require.NoError(t, err)
	closeNoErr(t, st)

	db := openRawKV(t, base, "example.com")
	_, err = db.Exec(`UPDATE kv_meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open("example.com", WithDataDir(base))
	require.ErrorIs(t, err, ErrSchemaTooNew)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRunMigrationsIsAtomic(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	migrations := []migration{
		{
			version:     1,
			description: "create a",
			up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE test_a (id TEXT PRIMARY KEY)`)
				return err
			},
		},
		{
			version:     2,
			description: "create b then fail",
			up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`CREATE TABLE test_b (id TEXT PRIMARY KEY)`); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}

	require.Error(t, runMigrations(db, migrations))

	version, err := readSchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestMigrationHistoryRecordsDescriptions(t *testing.T) {
	t.Parallel()

	base := t.TempDir()

	st, err := Open("example.com", WithDataDir(base))
	require.NoError(t, err)
	closeNoErr(t, st)

	db := openRawKV(t, base, "example.com")
	defer func() { require.NoError(t, db.Close()) }()

	rows, err := db.Query(`SELECT version, description FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()

	got := map[int]string{}
	for rows.Next() {
		var (
			version     int
			description string
		)
		require.NoError(t, rows.Scan(&version, &description))
		got[version] = description
	}
	require.NoError(t, rows.Err())

	want := map[int]string{}
	for _, m := range kvMigrations() {
		require.NotEmpty(t, m.description)
		want[m.version] = m.description
	}
	require.Equal(t, want, got)
}

func TestQuotaEnforced(t *testing.T) {
	t.Parallel()

	st, err := OpenSession("example.com", WithQuota(20))
	require.NoError(t, err)
	defer closeNoErr(t, st)

	require.NoError(t, st.Set("k", "0123456789"))
	require.Equal(t, int64(11), st.Used())

	err = st.Set("j", "0123456789")
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.False(t, st.Has("j"))
	require.Equal(t, int64(11), st.Used())

	// Replacing accounts for the bytes the old value gives back.
	require.NoError(t, st.Set("k", "01234567890"))
	require.Equal(t, int64(12), st.Used())

	err = st.Set("k", strings.Repeat("x", 25))
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestClearResetsUsage(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	require.NoError(t, st.Set("a", "1"))
	require.NoError(t, st.Set("b", "2"))
	require.Positive(t, st.Used())

	require.NoError(t, st.Clear())
	require.Zero(t, st.Len())
	require.Zero(t, st.Used())
	require.Empty(t, st.Keys())
}

func TestSessionAreaIsEphemeral(t *testing.T) {
	t.Parallel()

	st, err := OpenSession("example.com")
	require.NoError(t, err)
	require.NoError(t, st.Set("k", "v"))
	closeNoErr(t, st)

	st, err = OpenSession("example.com")
	require.NoError(t, err)
	defer closeNoErr(t, st)
	require.Zero(t, st.Len())
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")
	require.NoError(t, st.Set("k", "v"))
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err := st.Get("k")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, st.Set("k", "v2"), ErrClosed)
	require.ErrorIs(t, st.Remove("k"), ErrClosed)
	require.ErrorIs(t, st.Clear(), ErrClosed)
	require.False(t, st.Has("k"))
	require.Zero(t, st.Len())
	require.Empty(t, st.Keys())
	require.Zero(t, st.Used())
}

func TestLoggerDefaultsToProcessDefault(t *testing.T) {
	t.Parallel()

	st, err := OpenSession("example.com")
	require.NoError(t, err)
	defer closeNoErr(t, st)
	require.Same(t, slog.Default(), st.log)

	custom := slog.New(slog.DiscardHandler)
	st, err = OpenSession("example.com", WithLogger(custom))
	require.NoError(t, err)
	defer closeNoErr(t, st)
	require.Same(t, custom, st.log)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	var events []Event
	cancel := st.Subscribe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, st.Set("k", "v1"))
	require.NoError(t, st.Set("k", "v2"))
	require.NoError(t, st.Remove("k"))
	require.NoError(t, st.Clear())

	require.Len(t, events, 4)
	require.Equal(t, Event{Origin: "example.com", Area: Local, Key: "k", NewValue: "v1"}, events[0])
	require.Equal(t, Event{Origin: "example.com", Area: Local, Key: "k", OldValue: "v1", NewValue: "v2"}, events[1])
	require.Equal(t, Event{Origin: "example.com", Area: Local, Key: "k", OldValue: "v2"}, events[2])
	require.Equal(t, Event{Origin: "example.com", Area: Local}, events[3])

	cancel()
	require.NoError(t, st.Set("k", "v3"))
	require.Len(t, events, 4)
}

func TestCodecAppliedAtEngineBoundary(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	codec := &stubCodec{}

	st, err := Open("example.com", WithDataDir(base), WithCodec(codec))
	require.NoError(t, err)
	defer closeNoErr(t, st)

	require.NoError(t, st.Set("secret", "plain text"))

	got, err := st.Get("secret")
	require.NoError(t, err)
	require.Equal(t, "plain text", got)

	// The engine row holds the encoded form, never the plaintext.
	db := openRawKV(t, base, "example.com")
	defer func() { require.NoError(t, db.Close()) }()
	var stored string
	require.NoError(t, db.QueryRow(`SELECT value FROM kv WHERE key = 'secret'`).Scan(&stored))
	require.True(t, strings.HasPrefix(stored, "enc:"))
	require.NotContains(t, stored, "plain text")

	require.Contains(t, codec.seen(), "example.com/local/secret")
}

func TestUsageCountsEncodedBytes(t *testing.T) {
	t.Parallel()

	st, err := OpenSession("example.com", WithCodec(&stubCodec{}))
	require.NoError(t, err)
	defer closeNoErr(t, st)

	require.NoError(t, st.Set("k", "hi"))
	encoded := "enc:" + base64.StdEncoding.EncodeToString([]byte("hi"))
	require.Equal(t, int64(len("k")+len(encoded)), st.Used())
}

func TestConcurrentWriters(t *testing.T) {
	t.Parallel()

	st := newTestStore(t, "example.com")

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := fmt.Sprintf("worker-%d", g)
			for i := 0; i < 50; i++ {
				if err := st.Set(key, fmt.Sprintf("%d", i)); err != nil {
					t.Error(err)
					return
				}
				if _, err := st.Get(key); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 8, st.Len())
	for g := 0; g < 8; g++ {
		got, err := st.Get(fmt.Sprintf("worker-%d", g))
		require.NoError(t, err)
		require.Equal(t, "49", got)
	}
}

type stubCodec struct {
	mu    sync.Mutex
	slots []string
}

func (c *stubCodec) Encode(slot string, plain []byte) ([]byte, error) {
	c.record(slot)
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plain)), nil
}

func (c *stubCodec) Decode(slot string, stored []byte) ([]byte, error) {
	c.record(slot)
	raw, ok := strings.CutPrefix(string(stored), "enc:")
	if !ok {
		return nil, errors.New("stub codec: missing prefix")
	}
	return base64.StdEncoding.DecodeString(raw)
}

func (c *stubCodec) record(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = append(c.slots, slot)
}

func (c *stubCodec) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.slots...)
}

func newTestStore(t *testing.T, originName string) *Store {
	t.Helper()
	st, err := Open(originName, WithDataDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func openRawKV(t *testing.T, base, originName string) *sql.DB {
	t.Helper()
	path := filepath.Join(base, "origins", originName, localDBFileName)
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	return db
}

func closeNoErr(t *testing.T, c interface{ Close() error }) {
	t.Helper()
	require.NoError(t, c.Close())
}
