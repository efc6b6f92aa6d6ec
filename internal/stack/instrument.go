package stack

import (
	"context"
	"log/slog"
)

// Instrument attaches structured log context per key, the instrument(f)
// combinator of spec §4.1. f derives the slog.Attr fields to attach from
// the key; the resulting logger is available to inner via context using
// LoggerFromContext.
func Instrument[K comparable, Req, Resp any](
	inner NewService[K, Req, Resp],
	base *slog.Logger,
	fields func(K) []slog.Attr,
) NewService[K, Req, Resp] {
	return NewServiceFunc[K, Req, Resp](func(key K) (Service[Req, Resp], error) {
		attrs := fields(key)
		args := make([]any, 0, len(attrs))
		for _, a := range attrs {
			args = append(args, a)
		}
		logger := base.With(args...)
		svc, err := inner.NewService(key)
		if err != nil {
			return nil, err
		}
		return &instrumented[Req, Resp]{inner: svc, logger: logger}, nil
	})
}

type loggerCtxKey struct{}

// LoggerFromContext recovers the per-key logger attached by Instrument,
// falling back to slog.Default() if none was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type instrumented[Req, Resp any] struct {
	inner  Service[Req, Resp]
	logger *slog.Logger
}

func (i *instrumented[Req, Resp]) Ready(ctx context.Context) error {
	return i.inner.Ready(context.WithValue(ctx, loggerCtxKey{}, i.logger))
}

func (i *instrumented[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return i.inner.Call(context.WithValue(ctx, loggerCtxKey{}, i.logger), req)
}
