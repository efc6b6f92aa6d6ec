package stack

// MapTarget transforms the factory key before it reaches inner, the
// map_target combinator of spec §4.1.
func MapTarget[K1, K2 comparable, Req, Resp any](
	inner NewService[K2, Req, Resp],
	f func(K1) K2,
) NewService[K1, Req, Resp] {
	return NewServiceFunc[K1, Req, Resp](func(key K1) (Service[Req, Resp], error) {
		return inner.NewService(f(key))
	})
}
