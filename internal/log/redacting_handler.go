package log

import (
	"context"
	"log/slog"
	"strings"
)

// redactedKeys are attribute keys whose values never reach the log:
// stored values, key material, anything a caller typed in.
var redactedKeys = map[string]struct{}{
	"value":      {},
	"data":       {},
	"plaintext":  {},
	"passphrase": {},
}

// Change events carry the payload under old_value/new_value style keys.
const redactedSuffix = "_value"

// RedactingHandler wraps a slog.Handler and blanks sensitive attributes,
// recursively through groups. A panic in the inner handler is swallowed
// into a degraded error record so logging never takes the process down.
type RedactingHandler struct {
	inner slog.Handler
}

func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fallback := slog.NewRecord(record.Time, slog.LevelError, "log handler panic recovered", record.PC)
			fallback.AddAttrs(slog.String("panic", "[REDACTED]"))
			err = h.inner.Handle(ctx, fallback)
		}
	}()

	scrubbed := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		scrubbed.AddAttrs(scrubAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, scrubbed)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		scrubbed[i] = scrubAttr(attr)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(scrubbed)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

func scrubAttr(attr slog.Attr) slog.Attr {
	if isSensitiveKey(attr.Key) {
		return slog.String(attr.Key, "[REDACTED]")
	}

	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		scrubbed := make([]slog.Attr, len(group))
		for i, nested := range group {
			scrubbed[i] = scrubAttr(nested)
		}
		return slog.Attr{
			Key:   attr.Key,
			Value: slog.GroupValue(scrubbed...),
		}
	}

	return attr
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	if _, ok := redactedKeys[key]; ok {
		return true
	}
	return strings.HasSuffix(key, redactedSuffix)
}
