// Package archive reads and writes key/value snapshot files for export
// and import. Snapshots are JSON documents, optionally compressed; the
// file extension picks the codec on write and content sniffing picks it
// on read.
package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

const (
	formatVersion = 1

	// maxSnapshotBytes caps snapshot reads to prevent memory exhaustion
	// from crafted or corrupt files.
	maxSnapshotBytes = 256 << 20
)

// ErrBadSnapshot reports a file that is not a readable snapshot.
var ErrBadSnapshot = errors.New("archive: malformed snapshot")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Entry is one key/value pair in a snapshot.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Snapshot is the export file payload. Entries are sorted by key.
type Snapshot struct {
	Format     int     `json:"format"`
	Origin     string  `json:"origin"`
	Area       string  `json:"area"`
	ExportedAt string  `json:"exported_at"`
	Entries    []Entry `json:"entries"`
}

// New builds a snapshot from a key/value map, stamped with the current
// time.
func New(origin, area string, pairs map[string]string) Snapshot {
	entries := make([]Entry, 0, len(pairs))
	for key, value := range pairs {
		entries = append(entries, Entry{Key: key, Value: value})
	}
	sortEntries(entries)
	return Snapshot{
		Format:     formatVersion,
		Origin:     origin,
		Area:       area,
		ExportedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Entries:    entries,
	}
}

// Encode normalizes snap and renders it as plain snapshot JSON.
func Encode(snap Snapshot) ([]byte, error) {
	snap.Format = formatVersion
	snap.Entries = append([]Entry(nil), snap.Entries...)
	sortEntries(snap.Entries)

	plain, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return plain, nil
}

// Decode parses and validates plain snapshot JSON.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w: %w", ErrBadSnapshot, err)
	}
	if snap.Format != formatVersion {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w: unsupported format %d", ErrBadSnapshot, snap.Format)
	}
	for _, entry := range snap.Entries {
		if entry.Key == "" {
			return Snapshot{}, fmt.Errorf("decode snapshot: %w: entry with empty key", ErrBadSnapshot)
		}
	}
	sortEntries(snap.Entries)
	return snap, nil
}

// Write stores snap at path, compressed per the extension: .gz, .zst,
// .br, anything else plain JSON. Parent directories are created.
func Write(path string, snap Snapshot) error {
	plain, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	encoded, err := compressForPath(path, plain)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("write snapshot: create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Read loads the snapshot at path. Compressed content is detected by
// magic bytes, so a plain JSON file with a .gz name still reads.
func Read(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if info.Size() > maxSnapshotBytes {
		return Snapshot{}, fmt.Errorf("read snapshot: file exceeds %d MiB limit", maxSnapshotBytes>>20)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	plain, err := decompress(path, raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w: %w", ErrBadSnapshot, err)
	}

	snap, err := Decode(plain)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

func compressForPath(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".zst":
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ".br":
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

func decompress(path string, raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, gzipMagic):
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, maxSnapshotBytes))
	case bytes.HasPrefix(raw, zstdMagic):
		r, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, maxSnapshotBytes))
	}
	// Brotli has no magic bytes. Trust the extension but fall back to the
	// raw bytes when they are not a brotli stream.
	if strings.ToLower(filepath.Ext(path)) == ".br" {
		if plain, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(raw)), maxSnapshotBytes)); err == nil {
			return plain, nil
		}
	}
	return raw, nil
}
