// Package tracing generates the per-connection span identifiers that
// internal/inbound attaches to a connection's context and structured
// logger, so every log line from detection through dispatch can be
// correlated back to one accepted connection.
//
// Grounded on bassosimone-nop's spanid.go (doc.go describes the span
// terminology as borrowed from OTel: a sequence of operations that can
// fail in one specific way, such as a single TLS handshake or a single
// endpoint dial). NewSpanID here returns the uuid.NewV7 value directly
// rather than through bassosimone's runtimex.PanicOnError1 wrapper, since
// that helper lives in a separate module this repo has no other reason
// to depend on; instead of panicking on a generator error it falls back
// to a random UUIDv4, so callers always get a usable span ID.
package tracing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 span identifier: time-ordered, so spans
// sort chronologically in log aggregation without a separate timestamp
// field. Falls back to a random UUIDv4 if the v7 generator's entropy
// source fails, which should only happen under extraordinary
// circumstances.
func NewSpanID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type spanCtxKey struct{}

// WithSpan attaches spanID to ctx for later retrieval by SpanFromContext.
func WithSpan(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanCtxKey{}, spanID)
}

// SpanFromContext recovers the span ID attached by WithSpan, returning
// "" if none was attached.
func SpanFromContext(ctx context.Context) string {
	id, _ := ctx.Value(spanCtxKey{}).(string)
	return id
}

// Attrs returns the slog.Attr fields for a freshly generated span: a
// single "span" field.
func Attrs(spanID string) []slog.Attr {
	return []slog.Attr{slog.String("span", spanID)}
}
