package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/iAmSomeone2/browser-storage/internal/tui"
	"github.com/iAmSomeone2/browser-storage/objectdb"
	"github.com/iAmSomeone2/browser-storage/webstorage"
)

func newBrowseCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse an origin's storage interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("browse does not accept positional arguments")
			}
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

				return tui.Run(tui.Options{
					Client: &browseClient{rt: rt, store: store},
					IsTTY: func() bool {
						return term.IsTerminal(int(os.Stdout.Fd()))
					},
				})
			})
		},
	}
}

// browseClient adapts the storage packages to the tui.Client interface.
// The key/value store stays open for the whole session; databases are
// opened per operation so the browser never holds a database lock while
// idle.
type browseClient struct {
	rt    cmdRuntime
	store *webstorage.Store
}

func (c *browseClient) Origin() string { return c.store.Origin() }

func (c *browseClient) Areas(context.Context) ([]tui.AreaInfo, error) {
	areas := []tui.AreaInfo{{
		Name:   "kv",
		Detail: fmt.Sprintf("%d keys, %d bytes", c.store.Len(), c.store.Used()),
	}}

	names, err := c.rt.listDatabases()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		detail := "database"
		if path, err := c.rt.databasePath(name); err == nil {
			info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(c.rt.cfg.Database.LockTimeout))
			if err == nil {
				detail = fmt.Sprintf("v%d, %d stores", info.Version, len(info.Stores))
			}
		}
		areas = append(areas, tui.AreaInfo{Name: name, Database: true, Detail: detail})
	}
	return areas, nil
}

func (c *browseClient) Stores(_ context.Context, database string) ([]string, error) {
	path, err := c.rt.databasePath(database)
	if err != nil {
		return nil, err
	}
	info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(c.rt.cfg.Database.LockTimeout))
	if err != nil {
		return nil, err
	}
	return info.Stores, nil
}

func (c *browseClient) Keys(_ context.Context, target tui.Target) ([]string, error) {
	if target.Database == "" {
		return c.store.Keys(), nil
	}
	var keys []string
	err := c.withDB(target.Database, func(db *objectdb.DB) error {
		return db.View(func(tx *objectdb.Tx) error {
			store, err := tx.Store(target.Store)
			if err != nil {
				return err
			}
			keys = store.Keys()
			return nil
		})
	})
	return keys, err
}

func (c *browseClient) Get(_ context.Context, target tui.Target, key string) (string, error) {
	if target.Database == "" {
		return c.store.Get(key)
	}
	var value []byte
	err := c.withDB(target.Database, func(db *objectdb.DB) error {
		return db.View(func(tx *objectdb.Tx) error {
			store, err := tx.Store(target.Store)
			if err != nil {
				return err
			}
			value, err = store.Get(key)
			return err
		})
	})
	return string(value), err
}

func (c *browseClient) Put(_ context.Context, target tui.Target, key, value string) error {
	if target.Database == "" {
		return c.store.Set(key, value)
	}
	return c.withDB(target.Database, func(db *objectdb.DB) error {
		return db.Update(func(tx *objectdb.Tx) error {
			store, err := tx.Store(target.Store)
			if err != nil {
				return err
			}
			return store.Put(key, []byte(value))
		})
	})
}

func (c *browseClient) Delete(_ context.Context, target tui.Target, key string) error {
	if target.Database == "" {
		return c.store.Remove(key)
	}
	return c.withDB(target.Database, func(db *objectdb.DB) error {
		return db.Update(func(tx *objectdb.Tx) error {
			store, err := tx.Store(target.Store)
			if err != nil {
				return err
			}
			return store.Delete(key)
		})
	})
}

func (c *browseClient) withDB(name string, fn func(db *objectdb.DB) error) error {
	path, err := c.rt.databasePath(name)
	if err != nil {
		return err
	}
	info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(c.rt.cfg.Database.LockTimeout))
	if err != nil {
		return err
	}
	db, err := objectdb.Open(path, info.Version,
		objectdb.WithLockTimeout(c.rt.cfg.Database.LockTimeout),
		objectdb.WithLogger(c.rt.logger),
	)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}
