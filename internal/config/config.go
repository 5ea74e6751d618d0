// Package config loads bstore CLI configuration. Values layer in order:
// built-in defaults, the TOML config file, BSTORE_* environment
// variables, then command-line flags; validation runs last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/iAmSomeone2/browser-storage/origin"
)

const (
	defaultLockTimeout  = time.Second
	defaultLogLevel     = "info"
	defaultLogMaxSizeMB = 10
	defaultLogMaxFiles  = 5
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
}

type StorageConfig struct {
	DataDir       string `toml:"data_dir"`
	DefaultOrigin string `toml:"default_origin"`
	QuotaBytes    int64  `toml:"quota_bytes"`
}

type DatabaseConfig struct {
	LockTimeout time.Duration `toml:"lock_timeout"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	DataDir *string
	Origin  *string
}

func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:       "",
			DefaultOrigin: "",
			QuotaBytes:    0,
		},
		Database: DatabaseConfig{
			LockTimeout: defaultLockTimeout,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load resolves and layers the configuration, returning it together with
// the config file path it looked at. A missing file is not an error.
func Load(opts LoadOptions) (Config, string, error) {
	cfg := DefaultConfig()

	configPath, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, "", fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, configPath, err
	}

	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, configPath, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, configPath, err
	}

	return cfg, configPath, nil
}

// raw* mirror the TOML sections with pointer fields so an absent key is
// distinguishable from a zero value.
type rawConfig struct {
	Storage  *rawStorage  `toml:"storage"`
	Database *rawDatabase `toml:"database"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawStorage struct {
	DataDir       *string `toml:"data_dir"`
	DefaultOrigin *string `toml:"default_origin"`
	QuotaBytes    *int64  `toml:"quota_bytes"`
}

type rawDatabase struct {
	LockTimeout *string `toml:"lock_timeout"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	if raw.Storage != nil {
		setString(raw.Storage.DataDir, &cfg.Storage.DataDir)
		setString(raw.Storage.DefaultOrigin, &cfg.Storage.DefaultOrigin)
		setInt64(raw.Storage.QuotaBytes, &cfg.Storage.QuotaBytes)
	}
	if raw.Database != nil {
		if err := setDuration("database.lock_timeout", raw.Database.LockTimeout, &cfg.Database.LockTimeout); err != nil {
			return err
		}
	}
	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "BSTORE_DATA_DIR"); ok {
		cfg.Storage.DataDir = value
	}
	if value, ok := lookupEnv(opts, "BSTORE_ORIGIN"); ok {
		cfg.Storage.DefaultOrigin = value
	}
	if value, ok := lookupEnv(opts, "BSTORE_QUOTA_BYTES"); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: parse BSTORE_QUOTA_BYTES: %v", ErrInvalidConfig, err)
		}
		cfg.Storage.QuotaBytes = parsed
	}

	if value, ok := lookupEnv(opts, "BSTORE_DB_LOCK_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse BSTORE_DB_LOCK_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.Database.LockTimeout = d
	}

	if value, ok := lookupEnv(opts, "BSTORE_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "BSTORE_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := lookupEnv(opts, "BSTORE_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse BSTORE_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := lookupEnv(opts, "BSTORE_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse BSTORE_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.DataDir != nil {
		cfg.Storage.DataDir = *flags.DataDir
	}
	if flags.Origin != nil {
		cfg.Storage.DefaultOrigin = *flags.Origin
	}
}

func validate(cfg Config) error {
	if cfg.Storage.QuotaBytes < 0 {
		return fmt.Errorf("%w: storage.quota_bytes must be >= 0", ErrInvalidConfig)
	}
	if cfg.Storage.DefaultOrigin != "" {
		if err := origin.Check(cfg.Storage.DefaultOrigin); err != nil {
			return fmt.Errorf("%w: storage.default_origin: %v", ErrInvalidConfig, err)
		}
	}
	if cfg.Database.LockTimeout <= 0 || cfg.Database.LockTimeout > 5*time.Minute {
		return fmt.Errorf("%w: database.lock_timeout must be > 0 and <= 5m", ErrInvalidConfig)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be debug, info, warn, or error", ErrInvalidConfig)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be > 0", ErrInvalidConfig)
	}
	if cfg.Logging.MaxFiles < 1 {
		return fmt.Errorf("%w: logging.max_files must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw != nil {
		*target = *raw
	}
}

func setInt(raw *int, target *int) {
	if raw != nil {
		*target = *raw
	}
}

func setInt64(raw *int64, target *int64) {
	if raw != nil {
		*target = *raw
	}
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "BSTORE_CONFIG"); ok {
		return value, nil
	}
	return defaultConfigPath()
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "bstore", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "bstore", "config.toml"), nil
}
