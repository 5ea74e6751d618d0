package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"golang.org/x/term"

	"github.com/iAmSomeone2/browser-storage/internal/config"
	"github.com/iAmSomeone2/browser-storage/internal/log"
	"github.com/iAmSomeone2/browser-storage/internal/version"
	"github.com/iAmSomeone2/browser-storage/objectdb"
	"github.com/iAmSomeone2/browser-storage/origin"
	"github.com/iAmSomeone2/browser-storage/webstorage"
)

var loadConfigFn = config.Load

const (
	databasesSubdir = "databases"
	databaseSuffix  = ".db"
)

type GlobalOptions struct {
	Origin     string
	ConfigPath string
	DataDir    string
	JSON       bool
	Quiet      bool
	Verbose    bool
}

type commandDeps struct {
	out     io.Writer
	errOut  io.Writer
	globals *GlobalOptions
	build   BuildInfo
}

// cmdRuntime carries the loaded configuration and logger for the duration
// of one command invocation.
type cmdRuntime struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
}

func newRuntime(deps commandDeps) (cmdRuntime, io.Closer, error) {
	loadOpts := config.LoadOptions{}
	if deps.globals != nil {
		if configPath := strings.TrimSpace(deps.globals.ConfigPath); configPath != "" {
			loadOpts.ConfigPath = configPath
		}
		if dataDir := strings.TrimSpace(deps.globals.DataDir); dataDir != "" {
			loadOpts.Flags.DataDir = &dataDir
		}
		if originName := strings.TrimSpace(deps.globals.Origin); originName != "" {
			loadOpts.Flags.Origin = &originName
		}
	}

	cfg, configPath, err := loadConfigFn(loadOpts)
	if err != nil {
		return cmdRuntime{}, nil, fmt.Errorf("load config: %w", err)
	}
	if deps.globals != nil && deps.globals.Verbose {
		cfg.Logging.Level = "debug"
	}

	logger, closer, err := log.Setup(cfg.Logging)
	if err != nil {
		return cmdRuntime{}, nil, fmt.Errorf("set up logging: %w", err)
	}
	logger.Debug("runtime ready", "agent", version.UserAgent(), "config", configPath)
	return cmdRuntime{cfg: cfg, configPath: configPath, logger: logger}, closer, nil
}

func withRuntime(deps commandDeps, fn func(rt cmdRuntime) error) error {
	rt, closer, err := newRuntime(deps)
	if err != nil {
		return mapCommandError(err)
	}
	defer closer.Close()
	return mapCommandError(fn(rt))
}

// originName resolves the origin a command operates on. The --origin flag
// is folded into the config before this runs, so the config value is
// already the flag value when one was given.
func (rt cmdRuntime) originName() (string, error) {
	if name := rt.cfg.Storage.DefaultOrigin; name != "" {
		return name, nil
	}
	return "", usageErrorf("no origin selected: pass --origin or set storage.default_origin")
}

func (rt cmdRuntime) originDir() (string, error) {
	name, err := rt.originName()
	if err != nil {
		return "", err
	}
	if base := rt.cfg.Storage.DataDir; base != "" {
		if err := origin.Check(name); err != nil {
			return "", err
		}
		return filepath.Join(base, "origins", name), nil
	}
	return origin.Dir(name)
}

// databasePath places a database file under the origin's directory.
// Database names follow the same character rules as origin names so a
// name can never escape the directory.
func (rt cmdRuntime) databasePath(name string) (string, error) {
	if err := origin.Check(name); err != nil {
		return "", usageErrorf("invalid database name %q", name)
	}
	dir, err := rt.originDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, databasesSubdir, name+databaseSuffix), nil
}

func (rt cmdRuntime) listDatabases() ([]string, error) {
	dir, err := rt.originDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, databasesSubdir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), databaseSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), databaseSuffix))
	}
	sort.Strings(names)
	return names, nil
}

func withStore(deps commandDeps, fn func(rt cmdRuntime, store *webstorage.Store) error) error {
	return withRuntime(deps, func(rt cmdRuntime) error {
		name, err := rt.originName()
		if err != nil {
			return err
		}
		opts := []webstorage.Option{
			webstorage.WithLogger(rt.logger),
			webstorage.WithQuota(rt.cfg.Storage.QuotaBytes),
		}
		if rt.cfg.Storage.DataDir != "" {
			opts = append(opts, webstorage.WithDataDir(rt.cfg.Storage.DataDir))
		}
		store, err := webstorage.Open(name, opts...)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return fn(rt, store)
	})
}

// withDatabase opens an existing database at its stored version. The
// version comes from a read-only peek so no upgrade can run here.
func withDatabase(deps commandDeps, name string, fn func(rt cmdRuntime, db *objectdb.DB) error) error {
	return withRuntime(deps, func(rt cmdRuntime) error {
		path, err := rt.databasePath(name)
		if err != nil {
			return err
		}
		info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout))
		if err != nil {
			return describeDatabaseError(err, name)
		}
		db, err := objectdb.Open(path, info.Version,
			objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout),
			objectdb.WithLogger(rt.logger),
		)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return fn(rt, db)
	})
}

// openForSchemaChange opens a database one version ahead of its stored
// version so the change callback runs as that version's upgrade.
func openForSchemaChange(rt cmdRuntime, name string, mustExist bool, change objectdb.UpgradeFunc) (*objectdb.DB, error) {
	path, err := rt.databasePath(name)
	if err != nil {
		return nil, err
	}

	current := 0
	info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout))
	switch {
	case err == nil:
		current = info.Version
	case errors.Is(err, os.ErrNotExist):
		if mustExist {
			return nil, asExitError(ExitCodeNotFound, fmt.Errorf("database %q not found", name))
		}
	default:
		return nil, err
	}

	return objectdb.Open(path, current+1,
		objectdb.WithUpgrade(change),
		objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout),
		objectdb.WithLogger(rt.logger),
	)
}

func describeDatabaseError(err error, name string) error {
	if errors.Is(err, os.ErrNotExist) {
		return asExitError(ExitCodeNotFound, fmt.Errorf("database %q not found", name))
	}
	return err
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// renderValue pretty-prints a value that holds JSON; anything else passes
// through unchanged.
func renderValue(value string, prettyPrint bool) string {
	if !prettyPrint || !json.Valid([]byte(value)) {
		return value
	}
	return strings.TrimRight(string(pretty.Pretty([]byte(value))), "\n")
}

// readValueArg returns the positional value at index, falling back to
// stdin so values can be piped in.
func readValueArg(cmd *cobra.Command, args []string, index int) (string, error) {
	if len(args) > index {
		return args[index], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read value from stdin: %w", err)
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// readPassphrase collects a passphrase either from stdin (one line, for
// scripts) or interactively without echo. confirm asks for it twice.
func readPassphrase(cmd *cobra.Command, fromStdin, confirm bool) ([]byte, error) {
	if fromStdin {
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		pass := strings.TrimRight(line, "\r\n")
		if pass == "" {
			return nil, usageErrorf("passphrase must not be empty")
		}
		return []byte(pass), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, usageErrorf("stdin is not a terminal; use --passphrase-stdin")
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if len(pass) == 0 {
		return nil, usageErrorf("passphrase must not be empty")
	}
	if confirm {
		fmt.Fprint(cmd.ErrOrStderr(), "Confirm passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		if !bytes.Equal(pass, again) {
			return nil, usageErrorf("passphrases do not match")
		}
		wipeBytes(again)
	}
	return pass, nil
}

func wipeBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
