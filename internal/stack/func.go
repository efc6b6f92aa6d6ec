// Package stack implements the service/stack algebra of spec §4.1: a
// two-step contract (readiness, then call) and the layering combinators
// that compose per-connection behavior by type.
//
// Per spec §9's design note, this favors concrete generic combinators over
// a deeply generic type-erased tower: each combinator here is a plain
// struct implementing Service, not a boxed/any-typed layer.
package stack

import "context"

// Service is the two-step contract of spec §4.1: Ready performs a
// nonblocking readiness check, Call consumes one input and returns one
// output. Callers call Ready before Call; the implementations in this
// package do not track whether they did, and Call proceeds either way.
type Service[Req, Resp any] interface {
	Ready(ctx context.Context) error
	Call(ctx context.Context, req Req) (Resp, error)
}

// NewService is a factory that, given a target key, yields a Service bound
// to that key ("new-service" in spec §4.1).
type NewService[K comparable, Req, Resp any] interface {
	NewService(key K) (Service[Req, Resp], error)
}

// NewServiceFunc adapts a function to NewService.
type NewServiceFunc[K comparable, Req, Resp any] func(key K) (Service[Req, Resp], error)

func (f NewServiceFunc[K, Req, Resp]) NewService(key K) (Service[Req, Resp], error) {
	return f(key)
}

// ServiceFunc adapts two functions to Service, for ad-hoc services that
// don't need their own type.
type ServiceFunc[Req, Resp any] struct {
	ReadyFunc func(ctx context.Context) error
	CallFunc  func(ctx context.Context, req Req) (Resp, error)
}

func (f ServiceFunc[Req, Resp]) Ready(ctx context.Context) error { return f.ReadyFunc(ctx) }
func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f.CallFunc(ctx, req)
}

// notReadyError backs ErrNotReady, which SpawnBuffer's Ready returns
// while its queue is full. No Call in this package returns it.
type notReadyError struct{}

func (notReadyError) Error() string { return "stack: Call invoked without a successful Ready" }

var ErrNotReady error = notReadyError{}
