// Package discovery defines the adapters the outbound pipeline uses to
// reach the control plane: a profile watch and an endpoint resolution
// stream, plus the allow-list filter that gates which logicals may use
// either one.
//
// Grounded on original_source/linkerd/app/test/src/resolver.rs for the
// Resolver/Update shape (generalized here to a generic Update[T] instead
// of a Rust enum over a fixed endpoint-metadata type) and on
// original_source/linkerd/app/core/src/config.rs for the allow-list's
// name-suffix/CIDR semantics (reused directly from internal/config's
// AllowDiscovery, which this package filters against).
package discovery

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/config"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// Profile is a live, watched record describing how a logical destination
// should be routed: an optional canonical name, an ordered route table
// (request matcher, response classification, per-route timeout and retry
// budget), and a traffic split.
type Profile struct {
	CanonicalName string
	Targets       []target.Concrete
	Routes        []RouteSpec
}

// RouteSpec is one entry of a profile's route table (spec §3's Profile
// "response-class rules (request match → classification), per-route
// timeouts, retry budgets"). Routes are matched first-match, in the
// order they appear in Profile.Routes (spec §4.4 step 7).
type RouteSpec struct {
	// Name identifies the route for metrics/tap (target.Route.RouteSpec).
	Name string
	// Match selects which requests this route applies to.
	Match RouteMatch
	// Timeout overrides the stack's default dispatch timeout for calls
	// matching this route; zero means "use the default".
	Timeout time.Duration
	// Retry bounds how many of this route's failed calls may be retried.
	Retry RetryBudget
	// ResponseClasses classifies a response's status code into a label
	// (e.g. "success", "failure"), first match wins.
	ResponseClasses []ResponseClass
}

// RouteMatch is a request matcher: an empty field matches any value.
type RouteMatch struct {
	Method     string
	PathPrefix string
}

// Matches reports whether req satisfies m.
func (m RouteMatch) Matches(req *http.Request) bool {
	if m.Method != "" && !strings.EqualFold(m.Method, req.Method) {
		return false
	}
	if m.PathPrefix != "" && !strings.HasPrefix(req.URL.Path, m.PathPrefix) {
		return false
	}
	return true
}

// ResponseClass maps a status-code range to a classification label.
type ResponseClass struct {
	MinStatus int
	MaxStatus int
	Label     string
}

// Classify returns the first ResponseClass whose range contains
// statusCode, or "" if none match.
func (r RouteSpec) Classify(statusCode int) string {
	for _, c := range r.ResponseClasses {
		if statusCode >= c.MinStatus && statusCode <= c.MaxStatus {
			return c.Label
		}
	}
	return ""
}

// MatchRoute returns the first route in routes whose Match selects req,
// in insertion order, per spec §4.4 step 7's "first-match, insertion
// order" rule.
func MatchRoute(routes []RouteSpec, req *http.Request) (RouteSpec, bool) {
	for _, r := range routes {
		if r.Match.Matches(req) {
			return r, true
		}
	}
	return RouteSpec{}, false
}

// RetryBudget bounds the retry rate a route is allowed, expressed the way
// the control plane publishes it: a minimum retry allowance plus a ratio
// of retries to original requests.
type RetryBudget struct {
	MinRetriesPerSecond uint32
	RetryRatio          float64
}

// RetryLimiter enforces a RetryBudget against a one-second rolling
// window: a route may retry up to MinRetriesPerSecond times plus
// RetryRatio times the number of original calls seen in the current
// window, mirroring the request-proportional retry budget the control
// plane publishes per route.
type RetryLimiter struct {
	mu        sync.Mutex
	budget    RetryBudget
	windowEnd time.Time
	calls     uint32
	retries   uint32
}

// NewRetryLimiter returns a limiter enforcing budget.
func NewRetryLimiter(budget RetryBudget) *RetryLimiter {
	return &RetryLimiter{budget: budget}
}

// Allow records one original call and reports whether a retry of it may
// still be spent against the current window's allowance.
func (l *RetryLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.windowEnd) {
		l.calls, l.retries = 0, 0
		l.windowEnd = now.Add(time.Second)
	}
	l.calls++

	allowance := l.budget.MinRetriesPerSecond + uint32(float64(l.calls)*l.budget.RetryRatio)
	if l.retries >= allowance {
		return false
	}
	l.retries++
	return true
}

// ProfileWatch delivers the latest Profile snapshot; callers observe the
// most recent value and are notified of updates via Updates(). A closed
// Updates channel means the control plane cancelled the watch; the
// caller reverts to the profile-less stack.
type ProfileWatch interface {
	Current() Profile
	Updates() <-chan Profile
	Close()
}

// UpdateKind distinguishes the four endpoint-stream update shapes.
type UpdateKind int

const (
	Add UpdateKind = iota
	Remove
	Reset
	DoesNotExist
)

// Update is one frame of an endpoint resolution stream. Add and Reset
// carry Endpoints; Remove carries only Addrs; DoesNotExist carries
// neither.
type Update struct {
	Kind      UpdateKind
	Endpoints []target.Endpoint
	Addrs     []netip.AddrPort
}

// EndpointStream is the unbounded sequence of updates for a single
// concrete destination. Recv blocks until the next update, ctx is done,
// or the stream ends with an error.
type EndpointStream interface {
	Recv(ctx context.Context) (Update, error)
	Close()
}

// Client is the control-plane interface the outbound pipeline resolves
// through.
type Client interface {
	GetProfile(ctx context.Context, logicalName string) (ProfileWatch, error)
	Resolve(ctx context.Context, concreteAddr string) (EndpointStream, error)
}

// AllowProfile gates which logical names may perform discovery at all,
// per spec §4.9's allow-list: name-suffix and CIDR membership, reusing
// internal/config's AllowDiscovery policy directly.
type AllowProfile struct {
	Policy config.AllowDiscovery
}

// Check returns a DiscoveryRejected error if name/addr is not covered by
// the allow-list, nil otherwise.
func (a AllowProfile) Check(name string, addr netip.Addr) error {
	if a.Policy.Allows(name, addr) {
		return nil
	}
	return errkind.New(errkind.DiscoveryRejected, "logical not covered by discovery allow-list: "+name)
}
