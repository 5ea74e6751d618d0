package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDBCreateStoreCreatesDatabaseAtVersionOne(t *testing.T) {

	tmp := t.TempDir()

	out, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)
	require.Contains(t, out, "created store books in inventory (version 1)")

	out, err = runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "authors")...)
	require.NoError(t, err)
	require.Contains(t, out, "created store authors in inventory (version 2)")

	out, err = runCLI(t, "", storageArgs(tmp, "db", "info", "inventory")...)
	require.NoError(t, err)
	require.Contains(t, out, "name=inventory version=2 stores=2")
}

func TestDBPutGetRoundTrip(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "db", "put", "inventory", "books", "isbn-1", `{"title":"Dune"}`)...)
	require.NoError(t, err)
	require.Contains(t, out, "put isbn-1")

	out, err = runCLI(t, "", storageArgs(tmp, "db", "get", "inventory", "books", "isbn-1")...)
	require.NoError(t, err)
	require.Equal(t, `{"title":"Dune"}`+"\n", out)

	out, err = runCLI(t, "", storageArgs(tmp, "db", "keys", "inventory", "books")...)
	require.NoError(t, err)
	require.Equal(t, "isbn-1\n", out)

	out, err = runCLI(t, "", storageArgs(tmp, "db", "rm", "inventory", "books", "isbn-1")...)
	require.NoError(t, err)
	require.Contains(t, out, "removed isbn-1")

	_, err = runCLI(t, "", storageArgs(tmp, "db", "get", "inventory", "books", "isbn-1")...)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestDBPutReadsValueFromStdin(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	_, err = runCLI(t, "piped record\n", storageArgs(tmp, "db", "put", "inventory", "books", "isbn-2")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "db", "get", "inventory", "books", "isbn-2")...)
	require.NoError(t, err)
	require.Equal(t, "piped record\n", out)
}

func TestDBListShowsVersionAndStores(t *testing.T) {

	tmp := t.TempDir()

	out, err := runCLI(t, "", storageArgs(tmp, "db", "list")...)
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)
	_, err = runCLI(t, "", storageArgs(tmp, "db", "create-store", "analytics", "events")...)
	require.NoError(t, err)

	out, err = runCLI(t, "", storageArgs(tmp, "db", "list")...)
	require.NoError(t, err)
	require.Equal(t, "analytics v1 (1 stores)\ninventory v1 (1 stores)\n", out)
}

func TestDBInfoOutputsJSON(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "--json", "db", "info", "inventory")...)
	require.NoError(t, err)

	var payload struct {
		Name    string   `json:"name"`
		ID      string   `json:"id"`
		Version int      `json:"version"`
		Stores  []string `json:"stores"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "inventory", payload.Name)
	require.NotEmpty(t, payload.ID)
	require.Equal(t, 1, payload.Version)
	require.Equal(t, []string{"books"}, payload.Stores)
}

func TestDBStoresListsObjectStores(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)
	_, err = runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "authors")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "db", "stores", "inventory")...)
	require.NoError(t, err)
	require.Equal(t, "authors\nbooks\n", out)
}

func TestDBStoresJSONIsEmptyArrayWhenEmpty(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)
	_, err = runCLI(t, "", storageArgs(tmp, "db", "drop-store", "inventory", "books")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "--json", "db", "stores", "inventory")...)
	require.NoError(t, err)
	require.JSONEq(t, "[]", out)
}

func TestDBMissingDatabaseIsNotFound(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "info", "nope")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
	require.ErrorContains(t, err, `database "nope" not found`)

	_, err = runCLI(t, "", storageArgs(tmp, "db", "get", "nope", "books", "isbn-1")...)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestDBUnknownStoreIsNotFound(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	_, err = runCLI(t, "", storageArgs(tmp, "db", "keys", "inventory", "nope")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestDBDropStoreBumpsVersion(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "db", "drop-store", "inventory", "books")...)
	require.NoError(t, err)
	require.Contains(t, out, "dropped store books from inventory (version 2)")

	out, err = runCLI(t, "", storageArgs(tmp, "db", "stores", "inventory")...)
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = runCLI(t, "", storageArgs(tmp, "db", "drop-store", "inventory", "books")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestDBDropStoreRequiresExistingDatabase(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "drop-store", "nope", "books")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	out, err := runCLI(t, "", storageArgs(tmp, "db", "list")...)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDBDeleteRequiresConfirmation(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	_, err = runCLI(t, "", storageArgs(tmp, "db", "delete", "inventory")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))

	out, err := runCLI(t, "", storageArgs(tmp, "db", "delete", "inventory", "--yes")...)
	require.NoError(t, err)
	require.Contains(t, out, "deleted inventory")

	_, err = runCLI(t, "", storageArgs(tmp, "db", "info", "inventory")...)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = runCLI(t, "", storageArgs(tmp, "db", "delete", "inventory", "--yes")...)
	require.NoError(t, err)
}

func TestDBRejectsInvalidDatabaseName(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "../evil", "books")...)
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
	require.ErrorContains(t, err, "invalid database name")
}

func TestDoctorReportsHealthyChecks(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "kv", "set", "theme", "dark")...)
	require.NoError(t, err)
	_, err = runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	out, err := runCLI(t, "", storageArgs(tmp, "doctor")...)
	require.NoError(t, err)
	require.Contains(t, out, "config: ok")
	require.Contains(t, out, "data-dir: ok")
	require.Contains(t, out, "kv: ok")
	require.Contains(t, out, "db:inventory: ok")
	require.NotContains(t, out, "fail")
}

func TestDoctorSkipsOriginChecksWithoutOrigin(t *testing.T) {

	tmp := t.TempDir()

	out, err := runCLI(t, "",
		"--config", filepath.Join(tmp, "config.toml"),
		"--data-dir", filepath.Join(tmp, "data"),
		"doctor")
	require.NoError(t, err)
	require.Contains(t, out, "skipped (no origin selected)")
}

func TestDoctorOutputsJSON(t *testing.T) {

	tmp := t.TempDir()

	out, err := runCLI(t, "", storageArgs(tmp, "--json", "doctor")...)
	require.NoError(t, err)

	var payload struct {
		Checks []struct {
			Name    string `json:"name"`
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.NotEmpty(t, payload.Checks)
	for _, check := range payload.Checks {
		require.Truef(t, check.OK, "check %q failed: %s", check.Name, check.Message)
	}
}

func TestDatabasesLiveUnderTheOriginDirectory(t *testing.T) {

	tmp := t.TempDir()

	_, err := runCLI(t, "", storageArgs(tmp, "db", "create-store", "inventory", "books")...)
	require.NoError(t, err)

	path := filepath.Join(tmp, "data", "origins", "app.example", "databases", "inventory.db")
	_, err = os.Stat(path)
	require.NoError(t, err)
}
