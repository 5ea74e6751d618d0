package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iAmSomeone2/browser-storage/objectdb"
)

func newDBCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Versioned object databases for an origin",
	}
	cmd.AddCommand(
		newDBListCommand(deps),
		newDBInfoCommand(deps),
		newDBStoresCommand(deps),
		newDBKeysCommand(deps),
		newDBGetCommand(deps),
		newDBPutCommand(deps),
		newDBRemoveCommand(deps),
		newDBCreateStoreCommand(deps),
		newDBDropStoreCommand(deps),
		newDBDeleteCommand(deps),
	)
	return cmd
}

func newDBListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the origin's databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("db list does not accept positional arguments")
			}
			return withRuntime(deps, func(rt cmdRuntime) error {
				names, err := rt.listDatabases()
				if err != nil {
					return err
				}

				type row struct {
					Name    string `json:"name"`
					Version int    `json:"version,omitempty"`
					Stores  int    `json:"stores,omitempty"`
					Error   string `json:"error,omitempty"`
				}
				rows := make([]row, 0, len(names))
				for _, name := range names {
					path, err := rt.databasePath(name)
					if err != nil {
						return err
					}
					info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout))
					if err != nil {
						rows = append(rows, row{Name: name, Error: err.Error()})
						continue
					}
					rows = append(rows, row{Name: name, Version: info.Version, Stores: len(info.Stores)})
				}

				if deps.globals.JSON {
					return printJSON(deps.out, rows)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, r := range rows {
					if r.Error != "" {
						if _, err := fmt.Fprintf(deps.out, "%s (unreadable: %s)\n", r.Name, r.Error); err != nil {
							return err
						}
						continue
					}
					if _, err := fmt.Fprintf(deps.out, "%s v%d (%d stores)\n", r.Name, r.Version, r.Stores); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDBInfoCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "info <database>",
		Short: "Show a database's version and object stores",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("db info requires exactly one database name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(deps, func(rt cmdRuntime) error {
				path, err := rt.databasePath(args[0])
				if err != nil {
					return err
				}
				info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout))
				if err != nil {
					return describeDatabaseError(err, args[0])
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"name":       args[0],
						"id":         info.ID,
						"version":    info.Version,
						"created_at": info.CreatedAt,
						"stores":     info.Stores,
						"path":       info.Path,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "name=%s version=%d stores=%d created=%s\n",
					args[0], info.Version, len(info.Stores), info.CreatedAt.UTC().Format(time.RFC3339))
				return err
			})
		},
	}
}

func newDBStoresCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "stores <database>",
		Short: "List a database's object stores",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("db stores requires exactly one database name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(deps, func(rt cmdRuntime) error {
				path, err := rt.databasePath(args[0])
				if err != nil {
					return err
				}
				info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout))
				if err != nil {
					return describeDatabaseError(err, args[0])
				}
				if deps.globals.JSON {
					stores := info.Stores
					if stores == nil {
						stores = []string{}
					}
					return printJSON(deps.out, stores)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, store := range info.Stores {
					if _, err := fmt.Fprintln(deps.out, store); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDBKeysCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "keys <database> <store>",
		Short: "List the keys in an object store",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("db keys requires a database and a store name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(deps, args[0], func(rt cmdRuntime, db *objectdb.DB) error {
				var keys []string
				err := db.View(func(tx *objectdb.Tx) error {
					store, err := tx.Store(args[1])
					if err != nil {
						return err
					}
					keys = store.Keys()
					return nil
				})
				if err != nil {
					return err
				}
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

func newDBGetCommand(deps commandDeps) *cobra.Command {
	var prettyPrint bool
	cmd := &cobra.Command{
		Use:   "get <database> <store> <key>",
		Short: "Print the value stored under a key",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return usageErrorf("db get requires a database, a store and a key")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(deps, args[0], func(rt cmdRuntime, db *objectdb.DB) error {
				var value []byte
				err := db.View(func(tx *objectdb.Tx) error {
					store, err := tx.Store(args[1])
					if err != nil {
						return err
					}
					value, err = store.Get(args[2])
					return err
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"key": args[2], "value": string(value)})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintln(deps.out, renderValue(string(value), prettyPrint))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&prettyPrint, "pretty", false, "Pretty-print JSON values")
	return cmd
}

func newDBPutCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "put <database> <store> <key> [value]",
		Short: "Store a value under a key",
		Long:  "Store a value under a key. With no value argument the value is read from stdin.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 3 || len(args) > 4 {
				return usageErrorf("db put requires a database, a store, a key and a value (or a value on stdin)")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := readValueArg(cmd, args, 3)
			if err != nil {
				return mapCommandError(err)
			}
			return withDatabase(deps, args[0], func(rt cmdRuntime, db *objectdb.DB) error {
				err := db.Update(func(tx *objectdb.Tx) error {
					store, err := tx.Store(args[1])
					if err != nil {
						return err
					}
					return store.Put(args[2], []byte(value))
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"key": args[2], "bytes": len(value)})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "put %s (%d bytes)\n", args[2], len(value))
				return err
			})
		},
	}
}

func newDBRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <database> <store> <key>",
		Short: "Remove a key from an object store",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				return usageErrorf("db rm requires a database, a store and a key")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(deps, args[0], func(rt cmdRuntime, db *objectdb.DB) error {
				err := db.Update(func(tx *objectdb.Tx) error {
					store, err := tx.Store(args[1])
					if err != nil {
						return err
					}
					return store.Delete(args[2])
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"removed": args[2]})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "removed %s\n", args[2])
				return err
			})
		},
	}
}

func newDBCreateStoreCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "create-store <database> <store>",
		Short: "Add an object store, creating the database if needed",
		Long: "Add an object store. The database's version is bumped by one and " +
			"the store is created during the upgrade; a missing database is " +
			"created at version 1.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("db create-store requires a database and a store name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(deps, func(rt cmdRuntime) error {
				db, err := openForSchemaChange(rt, args[0], false, func(tx *objectdb.UpgradeTx, _, _ int) error {
					_, err := tx.CreateStore(args[1])
					return err
				})
				if err != nil {
					return err
				}
				version := db.Version()
				if err := db.Close(); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"database": args[0],
						"store":    args[1],
						"version":  version,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "created store %s in %s (version %d)\n", args[1], args[0], version)
				return err
			})
		},
	}
}

func newDBDropStoreCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-store <database> <store>",
		Short: "Remove an object store and its contents",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("db drop-store requires a database and a store name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(deps, func(rt cmdRuntime) error {
				db, err := openForSchemaChange(rt, args[0], true, func(tx *objectdb.UpgradeTx, _, _ int) error {
					return tx.DeleteStore(args[1])
				})
				if err != nil {
					return err
				}
				version := db.Version()
				if err := db.Close(); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"database": args[0],
						"store":    args[1],
						"version":  version,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "dropped store %s from %s (version %d)\n", args[1], args[0], version)
				return err
			})
		},
	}
}

func newDBDeleteCommand(deps commandDeps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <database>",
		Short: "Delete a database file",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("db delete requires exactly one database name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return usageErrorf("db delete removes the database file; confirm with --yes")
			}
			return withRuntime(deps, func(rt cmdRuntime) error {
				path, err := rt.databasePath(args[0])
				if err != nil {
					return err
				}
				err = objectdb.Delete(path,
					objectdb.WithLockTimeout(rt.cfg.Database.LockTimeout),
					objectdb.WithLogger(rt.logger),
				)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"deleted": args[0]})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "deleted %s\n", args[0])
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting the database")
	return cmd
}
