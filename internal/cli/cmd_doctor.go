package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iAmSomeone2/browser-storage/internal/config"
	"github.com/iAmSomeone2/browser-storage/objectdb"
	"github.com/iAmSomeone2/browser-storage/origin"
	"github.com/iAmSomeone2/browser-storage/webstorage"
)

func newDoctorCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run local storage health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("doctor does not accept positional arguments")
			}

			type doctorCheck struct {
				Name    string `json:"name"`
				OK      bool   `json:"ok"`
				Message string `json:"message"`
			}
			checks := []doctorCheck{}

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
			cfg, configPath, cfgErr := loadConfigFn(loadOpts)
			if cfgErr != nil {
				checks = append(checks, doctorCheck{Name: "config", OK: false, Message: cfgErr.Error()})
			} else {
				checks = append(checks, doctorCheck{Name: "config", OK: true, Message: configPath})

				baseDir := cfg.Storage.DataDir
				if baseDir == "" {
					resolved, err := origin.BaseDir()
					if err != nil {
						checks = append(checks, doctorCheck{Name: "data-dir", OK: false, Message: err.Error()})
					} else {
						baseDir = resolved
					}
				}
				if baseDir != "" {
					if err := probeWritable(baseDir); err != nil {
						checks = append(checks, doctorCheck{Name: "data-dir", OK: false, Message: err.Error()})
					} else {
						checks = append(checks, doctorCheck{Name: "data-dir", OK: true, Message: baseDir})
					}
				}

				if originName := cfg.Storage.DefaultOrigin; originName == "" {
					checks = append(checks, doctorCheck{Name: "kv", OK: true, Message: "skipped (no origin selected)"})
					checks = append(checks, doctorCheck{Name: "databases", OK: true, Message: "skipped (no origin selected)"})
				} else {
					storeOpts := []webstorage.Option{webstorage.WithQuota(cfg.Storage.QuotaBytes)}
					if cfg.Storage.DataDir != "" {
						storeOpts = append(storeOpts, webstorage.WithDataDir(cfg.Storage.DataDir))
					}
					store, err := webstorage.Open(originName, storeOpts...)
					if err != nil {
						checks = append(checks, doctorCheck{Name: "kv", OK: false, Message: err.Error()})
					} else {
						keys := store.Len()
						_ = store.Close()
						checks = append(checks, doctorCheck{
							Name:    "kv",
							OK:      true,
							Message: fmt.Sprintf("%s (%d keys)", originName, keys),
						})
					}

					rt := cmdRuntime{cfg: cfg}
					names, err := rt.listDatabases()
					switch {
					case err != nil:
						checks = append(checks, doctorCheck{Name: "databases", OK: false, Message: err.Error()})
					case len(names) == 0:
						checks = append(checks, doctorCheck{Name: "databases", OK: true, Message: "none"})
					default:
						for _, name := range names {
							path, err := rt.databasePath(name)
							if err != nil {
								checks = append(checks, doctorCheck{Name: "db:" + name, OK: false, Message: err.Error()})
								continue
							}
							info, err := objectdb.Inspect(path, objectdb.WithLockTimeout(cfg.Database.LockTimeout))
							if err != nil {
								checks = append(checks, doctorCheck{Name: "db:" + name, OK: false, Message: err.Error()})
								continue
							}
							checks = append(checks, doctorCheck{
								Name:    "db:" + name,
								OK:      true,
								Message: fmt.Sprintf("version %d (%d stores)", info.Version, len(info.Stores)),
							})
						}
					}
				}
			}

			if deps.globals.JSON {
				if err := printJSON(deps.out, map[string]any{"checks": checks}); err != nil {
					return mapCommandError(err)
				}
			} else if !deps.globals.Quiet {
				for _, check := range checks {
					state := "ok"
					if !check.OK {
						state = "fail"
					}
					if _, err := fmt.Fprintf(deps.out, "%s: %s (%s)\n", check.Name, state, check.Message); err != nil {
						return mapCommandError(err)
					}
				}
			}

			for _, check := range checks {
				if !check.OK {
					return asExitError(ExitCodeGeneric, fmt.Errorf("doctor: one or more checks failed"))
				}
			}
			return nil
		},
	}
}

func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
