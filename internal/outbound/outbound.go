// Package outbound assembles the logical → profile → concrete → endpoint
// resolution chain of spec §4.5 and the backoff-governed dial that turns
// a picked endpoint into a live connection.
//
// Grounded on original_source/linkerd/app/outbound/src/endpoint.rs for
// the Logical/Concrete/HttpEndpoint layering (already expressed in
// internal/target), and on tamecalm-signal-proxy/internal/proxy/handler.go's
// net.Dialer{Timeout}+DialContext dial for the connect mechanics,
// extended with the reconnect backoff schedule internal/config.Backoff
// already describes.
package outbound

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/balancer"
	"github.com/linkerd-sidecar/meshcore/internal/config"
	"github.com/linkerd-sidecar/meshcore/internal/discovery"
	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/svccache"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// DstOverrideHeader is the header an upstream mesh hop sets to pin the
// logical destination explicitly, taking priority over any other source.
const DstOverrideHeader = "l5d-dst-override"

// ResolveLogicalName implements spec §4.5's priority chain for deriving
// a logical destination name: the dst-override header, the request
// authority, the Host header, then the raw socket destination.
func ResolveLogicalName(h http.Header, authority string, origDst netip.AddrPort) string {
	if v := h.Get(DstOverrideHeader); v != "" {
		return v
	}
	if authority != "" {
		return authority
	}
	if v := h.Get("Host"); v != "" {
		return v
	}
	return origDst.String()
}

// Stack owns the per-logical service cache and the discovery client
// every logical resolves through.
type Stack struct {
	cfg    *config.Config
	client discovery.Client
	allow  discovery.AllowProfile

	services *svccache.Cache[string, *logicalService]
}

// NewStack builds an outbound resolution stack bound to client, evicting
// idle logicals per cfg.CacheMaxIdleAge.
func NewStack(cfg *config.Config, client discovery.Client) *Stack {
	s := &Stack{cfg: cfg, client: client, allow: discovery.AllowProfile{Policy: cfg.AllowDiscovery}}
	s.services = svccache.New(cfg.CacheMaxIdleAge, nil, s.buildLogical)
	return s
}

// Len reports the number of live logicals, for internal/metrics.CacheSize.
func (s *Stack) Len() int { return s.services.Len() }

// Sweep evicts idle logicals. NewStack starts no sweeper of its own;
// callers run this on a timer (cmd/meshproxyd does).
func (s *Stack) Sweep() int { return s.services.Sweep() }

// Profile returns logicalName's current profile snapshot, bounded by
// timeout (spec §6's profile_idle_timeout / spec §4.4 step 7's
// when_unready bound): if discovery hasn't produced the logical's
// profile within timeout, ok is false and the caller falls back to the
// profile-less path. Construction is detached from this particular
// wait — it keeps running in the background via the same single-flight
// cache Pick uses, so a later call for the same logical observes the
// profile once it resolves, and a slow first lookup never loses the
// work already done.
func (s *Stack) Profile(logicalName string, timeout time.Duration) (discovery.Profile, bool) {
	type result struct {
		svc *logicalService
		err error
	}
	ch := make(chan result, 1)
	go func() {
		svc, err := s.services.GetOrMake(context.Background(), logicalName)
		ch <- result{svc, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return discovery.Profile{}, false
		}
		res.svc.mu.Lock()
		p := res.svc.profile
		res.svc.mu.Unlock()
		return p, true
	case <-time.After(timeout):
		return discovery.Profile{}, false
	}
}

// logicalService is the per-logical-name resolution state: the live
// profile snapshot and one EWMA balancer per concrete split target.
type logicalService struct {
	mu        sync.Mutex
	profile   discovery.Profile
	balancers map[string]*balancer.EWMA
}

func (s *Stack) buildLogical(ctx context.Context, name string) (*logicalService, error) {
	if err := s.allow.Check(name, netip.Addr{}); err != nil {
		return nil, err
	}
	watch, err := s.client.GetProfile(ctx, name)
	if err != nil {
		return nil, errkind.Wrap(errkind.NotFound, "profile lookup failed for "+name, err)
	}

	svc := &logicalService{balancers: make(map[string]*balancer.EWMA)}
	// The watch outlives the constructing call's context; it runs for as
	// long as this logical stays in the cache.
	watchCtx := context.Background()
	svc.applyProfile(watchCtx, watch.Current(), s.client)
	go svc.watchProfile(watchCtx, watch, s.client)
	return svc, nil
}

func (svc *logicalService) applyProfile(ctx context.Context, p discovery.Profile, client discovery.Client) {
	svc.mu.Lock()
	svc.profile = p
	for _, c := range p.Targets {
		if _, ok := svc.balancers[c.SplitTarget]; ok {
			continue
		}
		b := balancer.New(0, 0)
		svc.balancers[c.SplitTarget] = b
		go watchEndpoints(ctx, client, c.SplitTarget, b)
	}
	svc.mu.Unlock()
}

func (svc *logicalService) watchProfile(ctx context.Context, watch discovery.ProfileWatch, client discovery.Client) {
	defer watch.Close()
	for {
		select {
		case p, ok := <-watch.Updates():
			if !ok {
				return
			}
			svc.applyProfile(ctx, p, client)
		case <-ctx.Done():
			return
		}
	}
}

// watchEndpoints folds one concrete's resolution stream into its
// balancer until the stream ends or ctx is cancelled, per spec §4.9's
// dense addr-keyed table maintenance rule.
func watchEndpoints(ctx context.Context, client discovery.Client, addr string, b *balancer.EWMA) {
	stream, err := client.Resolve(ctx, addr)
	if err != nil {
		b.MarkNotFound()
		return
	}
	defer stream.Close()

	var table discovery.EndpointTable
	for {
		u, err := stream.Recv(ctx)
		if err != nil {
			return
		}
		table.Apply(u)
		if table.NotFound() {
			b.MarkNotFound()
			continue
		}
		b.UpdateEndpoints(table.Endpoints())
	}
}

func (svc *logicalService) pick(intn func(int) int) (target.Endpoint, func(time.Duration), error) {
	svc.mu.Lock()
	targets := svc.profile.Targets
	balancers := svc.balancers
	svc.mu.Unlock()

	if len(targets) == 0 {
		return target.Endpoint{}, nil, errkind.New(errkind.NotFound, "logical has no traffic split targets")
	}
	concrete, ok := balancer.WeightedSplit(targets, intn)
	if !ok {
		return target.Endpoint{}, nil, errkind.New(errkind.NotFound, "traffic split has no weighted concretes")
	}
	b, ok := balancers[concrete.SplitTarget]
	if !ok {
		return target.Endpoint{}, nil, errkind.New(errkind.NotFound, "no balancer registered for concrete "+concrete.SplitTarget)
	}
	return b.Pick()
}

// Pick resolves logicalName to a service (constructing it if absent) and
// selects an endpoint through its traffic split and balancer. The
// returned func must be called with the observed latency once the call
// completes, feeding the endpoint's EWMA.
func (s *Stack) Pick(ctx context.Context, logicalName string) (target.Endpoint, func(time.Duration), error) {
	svc, err := s.services.GetOrMake(ctx, logicalName)
	if err != nil {
		return target.Endpoint{}, nil, err
	}
	s.services.Touch(logicalName)
	return svc.pick(nil)
}

// Connect dials ep with keepalive, retrying on failure per cfg's
// exponential backoff schedule until cfg.DispatchTimeout elapses, at
// which point it reports BadGateway.
func (s *Stack) Connect(ctx context.Context, ep target.Endpoint) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.cfg.ConnectTimeout, KeepAlive: s.cfg.ConnectKeepalive}
	backoff := s.cfg.ConnectBackoff

	cctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	defer cancel()

	delay := backoff.Min
	var lastErr error
	for {
		conn, err := dialer.DialContext(cctx, "tcp", ep.Addr.String())
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if cctx.Err() != nil {
			return nil, errkind.Wrap(errkind.Io, "endpoint unreachable", lastErr)
		}

		select {
		case <-time.After(jitter(delay, backoff.Jitter)):
		case <-cctx.Done():
			return nil, errkind.Wrap(errkind.Io, "endpoint unreachable", lastErr)
		}

		delay *= 2
		if delay > backoff.Max {
			delay = backoff.Max
		}
	}
}

func jitter(d time.Duration, ratio float64) time.Duration {
	if ratio <= 0 {
		return d
	}
	spread := float64(d) * ratio
	offset := (rand.Float64()*2 - 1) * spread
	out := float64(d) + offset
	if out < 0 {
		return 0
	}
	return time.Duration(out)
}
