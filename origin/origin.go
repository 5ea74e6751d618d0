// Package origin maps origin names to per-origin data directories.
//
// An origin is the unit of isolation for everything in this module: each
// origin owns one directory, every storage area lives inside its origin's
// directory, and nothing reaches across.
package origin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// ErrInvalidOrigin reports an origin name that cannot be used.
var ErrInvalidOrigin = errors.New("origin: invalid origin name")

const maxNameLen = 128

// Check validates an origin name. Names are 1-128 characters drawn from
// lowercase letters, digits, '.', '-', '_' and ':', with no leading or
// trailing separator and no ".." sequence.
func Check(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidOrigin)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidOrigin, name, maxNameLen)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains a parent reference", ErrInvalidOrigin, name)
	}
	if isSeparator(rune(name[0])) || isSeparator(rune(name[len(name)-1])) {
		return fmt.Errorf("%w: %q starts or ends with a separator", ErrInvalidOrigin, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case isSeparator(r):
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidOrigin, name, r)
		}
	}
	return nil
}

func isSeparator(r rune) bool {
	return r == '.' || r == '-' || r == '_' || r == ':'
}

// BaseDir returns the root under which all origin directories live:
// $BSTORE_DATA_DIR when set, otherwise the platform data directory.
func BaseDir() (string, error) {
	if dir, ok := os.LookupEnv("BSTORE_DATA_DIR"); ok && dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "bstore"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := os.LookupEnv("XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "bstore"), nil
}

// Dir returns the data directory for an origin without creating it.
func Dir(name string) (string, error) {
	if err := Check(name); err != nil {
		return "", err
	}
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "origins", name), nil
}

// EnsureDir returns the data directory for an origin, creating it and its
// parents with mode 0700 if needed.
func EnsureDir(name string) (string, error) {
	dir, err := Dir(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create origin dir: %w", err)
	}
	return dir, nil
}

// List returns the names of origins that currently have directories,
// sorted. A missing base directory yields an empty list.
func List() ([]string, error) {
	base, err := BaseDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(base, "origins"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list origins: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if Check(entry.Name()) != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
