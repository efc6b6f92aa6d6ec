package stack

// Switch chooses, at factory time, between a primary and an alternate
// stack based on a predicate over the key — the switch combinator of
// spec §4.1. internal/inbound's port-skip and loop-prevent switches are
// plain conditionals in handleConn/routeConn and do not use it.
func Switch[K comparable, Req, Resp any](
	predicate func(K) bool,
	primary, alternate NewService[K, Req, Resp],
) NewService[K, Req, Resp] {
	return NewServiceFunc[K, Req, Resp](func(key K) (Service[Req, Resp], error) {
		if predicate(key) {
			return primary.NewService(key)
		}
		return alternate.NewService(key)
	})
}

// UnwrapOr builds from alt when primary's factory function returns a zero
// value for its side-channel lookup — the unwrap_or combinator of spec
// §4.1. lookup returns (value, ok); when ok is false, alt is used instead
// of calling build with a zero value.
func UnwrapOr[K comparable, V any, Req, Resp any](
	lookup func(K) (V, bool),
	build func(K, V) (Service[Req, Resp], error),
	alt NewService[K, Req, Resp],
) NewService[K, Req, Resp] {
	return NewServiceFunc[K, Req, Resp](func(key K) (Service[Req, Resp], error) {
		if v, ok := lookup(key); ok {
			return build(key, v)
		}
		return alt.NewService(key)
	})
}
