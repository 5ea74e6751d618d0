package cli

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iAmSomeone2/browser-storage/internal/config"
	"github.com/iAmSomeone2/browser-storage/internal/tui"
	"github.com/iAmSomeone2/browser-storage/webstorage"
)

func TestBrowseClientListsAreasStoresAndKeys(t *testing.T) {

	tmp := t.TempDir()
	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)
	_, err = runCLI(t, "", storageArgs(tmp, "db", "put", "inventory", "books", "isbn-1", "Dune")...)
	require.NoError(t, err)

	client := testBrowseClient(t, tmp)
	ctx := context.Background()

	require.Equal(t, "app.example", client.Origin())
	require.NoError(t, client.Put(ctx, tui.Target{}, "theme", "dark"))

	areas, err := client.Areas(ctx)
	require.NoError(t, err)
	require.Len(t, areas, 2)
	require.Equal(t, "kv", areas[0].Name)
	require.False(t, areas[0].Database)
	require.Contains(t, areas[0].Detail, "1 keys")
	require.Equal(t, "inventory", areas[1].Name)
	require.True(t, areas[1].Database)
	require.Contains(t, areas[1].Detail, "v1")

	stores, err := client.Stores(ctx, "inventory")
	require.NoError(t, err)
	require.Equal(t, []string{"books"}, stores)

	keys, err := client.Keys(ctx, tui.Target{Database: "inventory", Store: "books"})
	require.NoError(t, err)
	require.Equal(t, []string{"isbn-1"}, keys)

	value, err := client.Get(ctx, tui.Target{Database: "inventory", Store: "books"}, "isbn-1")
	require.NoError(t, err)
	require.Equal(t, "Dune", value)
}

func TestBrowseClientEditsBothAreas(t *testing.T) {

	tmp := t.TempDir()
	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	client := testBrowseClient(t, tmp)
	ctx := context.Background()
	bookTarget := tui.Target{Database: "inventory", Store: "books"}

	require.NoError(t, client.Put(ctx, tui.Target{}, "theme", "dark"))
	require.NoError(t, client.Put(ctx, bookTarget, "isbn-1", "Dune"))

	require.NoError(t, client.Put(ctx, tui.Target{}, "theme", "light"))
	value, err := client.Get(ctx, tui.Target{}, "theme")
	require.NoError(t, err)
	require.Equal(t, "light", value)

	require.NoError(t, client.Delete(ctx, bookTarget, "isbn-1"))
	keys, err := client.Keys(ctx, bookTarget)
	require.NoError(t, err)
	require.Empty(t, keys)

	require.NoError(t, client.Delete(ctx, tui.Target{}, "theme"))
	keys, err = client.Keys(ctx, tui.Target{})
	require.NoError(t, err)
	require.Empty(t, keys)

	out, err := runCLI(t, "", storageArgs(tmp, "db", "keys", "inventory", "books")...)
	require.NoError(t, err)
	require.Empty(t, out)
}

func testBrowseClient(t *testing.T, tmp string) *browseClient {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(tmp, "data")
	cfg.Storage.DefaultOrigin = "app.example"

	store, err := webstorage.Open("app.example", webstorage.WithDataDir(cfg.Storage.DataDir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rt := cmdRuntime{cfg: cfg, logger: slog.New(slog.DiscardHandler)}
	return &browseClient{rt: rt, store: store}
}
