package stack

import "context"

// Router computes a key from each request via keyFn and dispatches to the
// per-key service produced by perKey (itself ordinarily built via Cache),
// spec §4.1's router(key_fn). Ready on the router reports ready once any
// routing is structurally possible; readiness of the per-key service is
// checked at Call time since the key is only known per-request.
func Router[K comparable, Req, Resp any](
	perKey NewService[K, Req, Resp],
	keyFn func(Req) K,
) Service[Req, Resp] {
	return &router[K, Req, Resp]{perKey: perKey, keyFn: keyFn}
}

type router[K comparable, Req, Resp any] struct {
	perKey NewService[K, Req, Resp]
	keyFn  func(Req) K
}

func (r *router[K, Req, Resp]) Ready(ctx context.Context) error {
	return nil
}

func (r *router[K, Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	key := r.keyFn(req)
	svc, err := r.perKey.NewService(key)
	if err != nil {
		var zero Resp
		return zero, err
	}
	if err := svc.Ready(ctx); err != nil {
		var zero Resp
		return zero, err
	}
	return svc.Call(ctx, req)
}
