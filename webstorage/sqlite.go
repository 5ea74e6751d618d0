package webstorage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode=WAL`
	pragmaForeignKeysOn  = `PRAGMA foreign_keys=ON`
	pragmaBusyTimeout    = `PRAGMA busy_timeout=5000`
)

type sqliteEngine struct {
	db   *sql.DB
	path string
}

func openSQLiteEngine(path string) (*sqliteEngine, error) {
	if path == "" {
		return nil, fmt.Errorf("open engine: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open engine: create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)

	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db, kvMigrations()); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureFilePermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqliteEngine{db: db, path: path}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{pragmaJournalModeWAL, pragmaForeignKeysOn, pragmaBusyTimeout}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("configure sqlite %q: %w", stmt, err)
		}
	}
	return nil
}

func ensureFilePermissions(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set db file permissions: %w", err)
		}
	}

	walPath := path + "-wal"
	if err := os.Chmod(walPath, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set wal file permissions: %w", err)
		}
	}
	return nil
}

func (e *sqliteEngine) load() (map[string]int, error) {
	// Byte length, not rune count; CAST forces LENGTH onto the raw bytes.
	rows, err := e.db.Query(`SELECT key, LENGTH(CAST(value AS BLOB)) FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]int)
	for rows.Next() {
		var (
			key  string
			size int
		)
		if err := rows.Scan(&key, &size); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[key] = size
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (e *sqliteEngine) get(key string) (string, bool, error) {
	var value string
	err := e.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (e *sqliteEngine) put(key, value string) error {
	if _, err := e.db.Exec(
		`INSERT OR REPLACE INTO kv(key, value, updated_at) VALUES(?, ?, ?)`,
		key, value, nowUTCString(),
	); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (e *sqliteEngine) delete(key string) error {
	if _, err := e.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (e *sqliteEngine) clear() error {
	if _, err := e.db.Exec(`DELETE FROM kv`); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (e *sqliteEngine) close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}
