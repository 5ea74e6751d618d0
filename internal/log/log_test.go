package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iAmSomeone2/browser-storage/internal/config"
)

func TestRedactionSensitiveFields(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"value", "old_value", "new_value", "data", "plaintext", "passphrase"} {
		out := logSingleField(t, key, "hunter2")
		require.Equal(t, "[REDACTED]", out[key])
	}
}

func TestRedactionIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	out := logSingleField(t, "Passphrase", "hunter2")
	require.Equal(t, "[REDACTED]", out["Passphrase"])
}

func TestRedactionCoversValueSuffixKeys(t *testing.T) {
	t.Parallel()

	out := logSingleField(t, "stored_value", "hunter2")
	require.Equal(t, "[REDACTED]", out["stored_value"])
}

func TestNonSensitiveFieldsPassThrough(t *testing.T) {
	t.Parallel()

	out := logSingleField(t, "origin", "example.com")
	require.Equal(t, "example.com", out["origin"])
}

func TestRedactionInsideGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRedactingHandler(base))
	logger.Info("test", slog.Group("event", slog.String("key", "theme"), slog.String("new_value", "dark")))

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	event, ok := out["event"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "theme", event["key"])
	require.Equal(t, "[REDACTED]", event["new_value"])
}

func TestRedactionAppliesToWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRedactingHandler(base)).With("value", "secret")
	logger.Info("test")

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	require.Equal(t, "[REDACTED]", out["value"])
}

func TestSetupStderrLogger(t *testing.T) {
	t.Parallel()

	logger, closer, err := Setup(config.LoggingConfig{Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	require.NoError(t, closer.Close())
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, _, err := Setup(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}

func TestSetupFileLoggerWritesAndRedacts(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "logs", "bstore.log")
	logger, closer, err := Setup(config.LoggingConfig{
		Level:     "debug",
		File:      logPath,
		MaxSizeMB: 1,
		MaxFiles:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	logger.Info("key set", "origin", "example.com", "key", "theme", "new_value", "dark")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "example.com")
	require.Contains(t, string(data), "[REDACTED]")
	require.NotContains(t, string(data), "dark")
}

func TestRotationCreatesNewFileWhenFull(t *testing.T) {
	logDir := t.TempDir()
	logPath := filepath.Join(logDir, "bstore.log")

	writer, err := newRotatingWriter(config.LoggingConfig{
		File:      logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	chunk := bytes.Repeat([]byte("a"), 256*1024)
	for i := 0; i < 6; i++ {
		_, err = writer.Write(chunk)
		require.NoError(t, err)
	}

	files, err := filepath.Glob(filepath.Join(logDir, "bstore*"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(files), 2)
}

func logSingleField(t *testing.T, key, value string) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRedactingHandler(base))
	logger.Info("test", key, value)

	out := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out))
	return out
}
