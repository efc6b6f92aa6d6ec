package discovery

import (
	"net/netip"

	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// EndpointTable maintains the dense addr-keyed endpoint set a concrete
// destination's balancer consumes, applying Add/Remove/Reset/DoesNotExist
// updates as spec §4.9 describes. It is not safe for concurrent use by
// multiple goroutines; callers serialize updates through the owning
// concrete's service task (spec §5's per-concrete ownership rule).
type EndpointTable struct {
	byAddr   map[netip.AddrPort]target.Endpoint
	notFound bool
}

// Apply folds one Update frame into the table.
func (t *EndpointTable) Apply(u Update) {
	if t.byAddr == nil {
		t.byAddr = make(map[netip.AddrPort]target.Endpoint)
	}
	switch u.Kind {
	case Add:
		t.notFound = false
		for _, ep := range u.Endpoints {
			t.byAddr[ep.Addr] = ep
		}
	case Remove:
		for _, addr := range u.Addrs {
			delete(t.byAddr, addr)
		}
	case Reset:
		t.notFound = false
		fresh := make(map[netip.AddrPort]target.Endpoint, len(u.Endpoints))
		for _, ep := range u.Endpoints {
			fresh[ep.Addr] = ep
		}
		t.byAddr = fresh
	case DoesNotExist:
		t.notFound = true
		t.byAddr = map[netip.AddrPort]target.Endpoint{}
	}
}

// Endpoints returns the current endpoint set as a slice, in no
// particular order.
func (t *EndpointTable) Endpoints() []target.Endpoint {
	out := make([]target.Endpoint, 0, len(t.byAddr))
	for _, ep := range t.byAddr {
		out = append(out, ep)
	}
	return out
}

// NotFound reports whether the target has transitioned to the terminal
// does-not-exist state.
func (t *EndpointTable) NotFound() bool {
	return t.notFound
}
