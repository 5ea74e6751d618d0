package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/iAmSomeone2/browser-storage/internal/archive"
	"github.com/iAmSomeone2/browser-storage/sealed"
	"github.com/iAmSomeone2/browser-storage/webstorage"
)

// kvArchiveLabel binds sealed snapshots to this command family so an
// envelope sealed for another purpose cannot be imported here.
const kvArchiveLabel = "kv-archive"

func newKVCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Key/value storage for an origin",
	}
	cmd.AddCommand(
		newKVGetCommand(deps),
		newKVSetCommand(deps),
		newKVRemoveCommand(deps),
		newKVKeysCommand(deps),
		newKVLenCommand(deps),
		newKVClearCommand(deps),
		newKVExportCommand(deps),
		newKVImportCommand(deps),
	)
	return cmd
}

func newKVGetCommand(deps commandDeps) *cobra.Command {
	var prettyPrint bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("kv get requires exactly one key")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				value, err := store.Get(args[0])
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"key": args[0], "value": value})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintln(deps.out, renderValue(value, prettyPrint))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&prettyPrint, "pretty", false, "Pretty-print JSON values")
	return cmd
}

func newKVSetCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a value under a key",
		Long:  "Store a value under a key. With no value argument the value is read from stdin.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return usageErrorf("kv set requires a key and a value (or a value on stdin)")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValueArg(cmd, args, 1)
			if err != nil {
				return mapCommandError(err)
			}
			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				if err := store.Set(args[0], value); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"key": args[0], "bytes": len(value)})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "set %s (%d bytes)\n", args[0], len(value))
				return err
			})
		},
	}
}

func newKVRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a key",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("kv rm requires exactly one key")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				if err := store.Remove(args[0]); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"removed": args[0]})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "removed %s\n", args[0])
				return err
			})
		},
	}
}

func newKVKeysCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List keys in sorted order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("kv keys does not accept positional arguments")
			}
			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				keys := store.Keys()
				if deps.globals.JSON {
					return printJSON(deps.out, keys)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, key := range keys {
					if _, err := fmt.Fprintln(deps.out, key); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newKVLenCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "len",
		Short: "Report key count and space usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("kv len does not accept positional arguments")
			}
			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"keys":        store.Len(),
						"used_bytes":  store.Used(),
						"quota_bytes": store.Quota(),
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "%d keys, %d bytes used\n", store.Len(), store.Used())
				return err
			})
		},
	}
}

func newKVClearCommand(deps commandDeps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key for the origin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("kv clear does not accept positional arguments")
			}
			if !yes {
				return usageErrorf("kv clear removes every key; confirm with --yes")
			}
			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				removed := store.Len()
				if err := store.Clear(); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"cleared": removed})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "cleared %d keys\n", removed)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing all keys")
	return cmd
}

func newKVExportCommand(deps commandDeps) *cobra.Command {
	var (
		sealedOut bool
		passStdin bool
	)
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Write all keys to a snapshot file",
		Long: "Write all keys to a snapshot file. A .gz, .zst or .br extension " +
			"compresses the snapshot; --sealed encrypts it with a passphrase instead.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("kv export requires exactly one output path")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			outputPath := args[0]

			var pass []byte
			if sealedOut {
				var err error
				pass, err = readPassphrase(cmd, passStdin, !passStdin)
				if err != nil {
					return mapCommandError(err)
				}
			}
			defer wipeBytes(pass)

			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				pairs := make(map[string]string, store.Len())
				for _, key := range store.Keys() {
					value, err := store.Get(key)
					if err != nil {
						return err
					}
					pairs[key] = value
				}

				snap := archive.New(store.Origin(), string(store.Area()), pairs)
				if sealedOut {
					if err := writeSealedSnapshot(outputPath, snap, pass); err != nil {
						return err
					}
				} else if err := archive.Write(outputPath, snap); err != nil {
					return err
				}

				rt.logger.Info("snapshot exported",
					"origin", store.Origin(),
					"keys", len(pairs),
					"path", outputPath,
					"sealed", sealedOut,
				)
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"path":   outputPath,
						"keys":   len(pairs),
						"sealed": sealedOut,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "exported %d keys to %s\n", len(pairs), outputPath)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&sealedOut, "sealed", false, "Encrypt the snapshot with a passphrase")
	cmd.Flags().BoolVar(&passStdin, "passphrase-stdin", false, "Read the passphrase from stdin")
	return cmd
}

func newKVImportCommand(deps commandDeps) *cobra.Command {
	var (
		replace   bool
		passStdin bool
	)
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Load keys from a snapshot file",
		Long: "Load keys from a snapshot file. Sealed snapshots are detected " +
			"automatically and prompt for the passphrase. Existing keys are " +
			"overwritten; --replace clears the store first.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("kv import requires exactly one input path")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(cmd, args[0], passStdin)
			if err != nil {
				return mapCommandError(err)
			}

			return withStore(deps, func(rt cmdRuntime, store *webstorage.Store) error {
				if snap.Origin != "" && snap.Origin != store.Origin() {
					rt.logger.Warn("snapshot origin differs",
						"snapshot_origin", snap.Origin,
						"origin", store.Origin(),
					)
				}
				if replace {
					if err := store.Clear(); err != nil {
						return err
					}
				}
				for _, entry := range snap.Entries {
					if err := store.Set(entry.Key, entry.Value); err != nil {
						return err
					}
				}

				rt.logger.Info("snapshot imported",
					"origin", store.Origin(),
					"keys", len(snap.Entries),
					"path", args[0],
					"replace", replace,
				)
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"path":     args[0],
						"keys":     len(snap.Entries),
						"replaced": replace,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "imported %d keys from %s\n", len(snap.Entries), args[0])
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "Clear the store before importing")
	cmd.Flags().BoolVar(&passStdin, "passphrase-stdin", false, "Read the passphrase from stdin")
	return cmd
}

func writeSealedSnapshot(path string, snap archive.Snapshot, pass []byte) error {
	plain, err := archive.Encode(snap)
	if err != nil {
		return err
	}
	envelope, err := sealed.Seal(pass, kvArchiveLabel, plain, sealed.DefaultParams())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, envelope, 0o600); err != nil {
		return fmt.Errorf("write sealed snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads a snapshot file, transparently opening sealed
// envelopes after prompting for the passphrase.
func readSnapshot(cmd *cobra.Command, path string, passStdin bool) (archive.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return archive.Snapshot{}, err
	}
	if !sealed.IsSealed(raw) {
		return archive.Read(path)
	}

	pass, err := readPassphrase(cmd, passStdin, false)
	if err != nil {
		return archive.Snapshot{}, err
	}
	defer wipeBytes(pass)

	plain, err := sealed.Open(pass, kvArchiveLabel, raw)
	if err != nil {
		return archive.Snapshot{}, err
	}
	return archive.Decode(plain)
}
