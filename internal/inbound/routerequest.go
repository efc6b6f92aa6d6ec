package inbound

import (
	"context"
	"net/http"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/discovery"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/metrics"
	"github.com/linkerd-sidecar/meshcore/internal/stack"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// routeRequest implements spec §4.4 step 7's route_request layer: it
// matches each request against the profile's route table in insertion
// order (first match wins), injects a target.Route extension for
// tap/classification, applies the matched route's timeout in place of
// the stack's default dispatch timeout, retries once when the matched
// route's retry budget still allows it, and records the response
// classification the route assigns the reply.
type routeRequest struct {
	dispatch dispatchService
	logical  string
	routes   []discovery.RouteSpec
	limiters map[string]*discovery.RetryLimiter
	fallback time.Duration
}

// newRouteRequest builds a routeRequest for profile's route table, one
// RetryLimiter per route name so a route's budget is shared across every
// request that matches it, not reset per call.
func newRouteRequest(dispatch dispatchService, logical string, profile discovery.Profile, fallback time.Duration) *routeRequest {
	limiters := make(map[string]*discovery.RetryLimiter, len(profile.Routes))
	for _, r := range profile.Routes {
		limiters[r.Name] = discovery.NewRetryLimiter(r.Retry)
	}
	return &routeRequest{
		dispatch: dispatch,
		logical:  logical,
		routes:   profile.Routes,
		limiters: limiters,
		fallback: fallback,
	}
}

func (r *routeRequest) Ready(ctx context.Context) error { return r.dispatch.Ready(ctx) }

func (r *routeRequest) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	spec, matched := discovery.MatchRoute(r.routes, req)
	routeName := "unmatched"
	timeout := r.fallback
	if matched {
		routeName = spec.Name
		if spec.Timeout > 0 {
			timeout = spec.Timeout
		}
	}
	ctx = stack.InsertTarget(ctx, target.Route{LogicalAddr: r.logical, RouteSpec: routeName, Direction: "inbound"})

	resp, err := r.call(ctx, req, timeout)
	// A retried call re-sends req through dispatchService, which clones
	// req and writes its Body to the wire; a body already consumed by the
	// first attempt can't be replayed, so only bodiless requests retry.
	if matched && err != nil && req.ContentLength == 0 && isRetryableErr(err) {
		if limiter := r.limiters[spec.Name]; limiter != nil && limiter.Allow(time.Now()) {
			metrics.RouteRetriesTotal.WithLabelValues(routeName).Inc()
			resp, err = r.call(ctx, req, timeout)
		}
	}
	if matched && err == nil {
		if class := spec.Classify(resp.StatusCode); class != "" {
			metrics.RouteResponseClassTotal.WithLabelValues(routeName, class).Inc()
		}
	}
	return resp, err
}

func (r *routeRequest) call(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.dispatch.Call(cctx, req)
}

// isRetryableErr reports whether err is one of the recoverable kinds a
// route's retry budget may be spent on (spec §7's Io/Timeout kinds).
func isRetryableErr(err error) bool {
	switch errkind.KindOf(err) {
	case errkind.Io, errkind.Timeout:
		return true
	default:
		return false
	}
}
