package stack

import "context"

// targetCtxKey is the context key family used by InsertTarget/FromContext —
// spec §4.1's insert_target/retain: annotate the request with typed
// extensions so downstream layers (tap, metrics, drain) can recover
// context that isn't part of the request value itself.
type targetCtxKey[T any] struct{}

// InsertTarget returns a context carrying value under T's own key, so
// downstream layers can recover it with FromContext[T].
func InsertTarget[T any](ctx context.Context, value T) context.Context {
	return context.WithValue(ctx, targetCtxKey[T]{}, value)
}

// FromContext recovers a value inserted by InsertTarget[T], reporting ok
// when present.
func FromContext[T any](ctx context.Context) (T, bool) {
	v, ok := ctx.Value(targetCtxKey[T]{}).(T)
	return v, ok
}

// Retain wraps inner so that, for every call, value extracted from the
// request via extract is inserted into the context before inner runs —
// the retain half of spec §4.1's insert_target/retain pair.
func Retain[T any, Req, Resp any](inner Service[Req, Resp], extract func(Req) T) Service[Req, Resp] {
	return ServiceFunc[Req, Resp]{
		ReadyFunc: inner.Ready,
		CallFunc: func(ctx context.Context, req Req) (Resp, error) {
			ctx = InsertTarget(ctx, extract(req))
			return inner.Call(ctx, req)
		},
	}
}
