// Package balancer implements the outbound endpoint picker: an
// Exponentially Weighted Moving Average of RTT per endpoint, load-adjusted
// at pick time, with the weighted traffic split used to choose among a
// logical's concretes.
//
// Grounded on spec §4.5's algorithm description directly (no corpus file
// implements P2C/EWMA balancing; original_source/linkerd/app/outbound/src/endpoint.rs
// only shapes the Concrete/Logical/HttpEndpoint types, not the picker),
// and on internal/discovery.EndpointTable for the endpoint set it reads.
package balancer

import (
	"math"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/linkerd-sidecar/meshcore/internal/errkind"
	"github.com/linkerd-sidecar/meshcore/internal/target"
)

const (
	defaultInitialRTT = 50 * time.Millisecond
	defaultDecay      = 10 * time.Second

	// minSampleWeight floors how little a single observation can move the
	// EWMA even when back-to-back picks leave almost no elapsed time
	// between them, so a burst of calls still converges instead of
	// freezing at the initial estimate.
	minSampleWeight = 0.1
)

// endpointStat tracks one endpoint's EWMA(latency) and in-flight count.
type endpointStat struct {
	endpoint  target.Endpoint
	ewmaNanos float64
	lastUse   time.Time
	inFlight  int64
}

// EWMA is a per-concrete endpoint picker. It is owned exclusively by the
// concrete's service task (spec §5's per-concrete ownership rule); every
// method, and the completion func Pick returns, serializes on its own
// mutex, so concurrent pickers and endpoint updates are safe.
type EWMA struct {
	mu         sync.Mutex
	stats      map[netip.AddrPort]*endpointStat
	notFound   bool
	initialRTT time.Duration
	decay      time.Duration
	now        func() time.Time
	rngIntn    func(int) int
}

// New returns an EWMA balancer with the given initial RTT estimate and
// decay constant; zero values fall back to spec defaults.
func New(initialRTT, decay time.Duration) *EWMA {
	if initialRTT <= 0 {
		initialRTT = defaultInitialRTT
	}
	if decay <= 0 {
		decay = defaultDecay
	}
	return &EWMA{
		stats:      make(map[netip.AddrPort]*endpointStat),
		initialRTT: initialRTT,
		decay:      decay,
		now:        time.Now,
		rngIntn:    rand.Intn,
	}
}

// UpdateEndpoints replaces the balancer's view of the endpoint set,
// preserving EWMA history for addresses that persist across the update
// and seeding new ones at the initial RTT.
func (b *EWMA) UpdateEndpoints(endpoints []target.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notFound = false

	fresh := make(map[netip.AddrPort]*endpointStat, len(endpoints))
	for _, ep := range endpoints {
		if existing, ok := b.stats[ep.Addr]; ok {
			existing.endpoint = ep
			fresh[ep.Addr] = existing
			continue
		}
		fresh[ep.Addr] = &endpointStat{
			endpoint:  ep,
			ewmaNanos: float64(b.initialRTT),
			lastUse:   b.now(),
		}
	}
	b.stats = fresh
}

// MarkNotFound transitions the balancer into the terminal does-not-exist
// state; all subsequent Pick calls fail with NotFound.
func (b *EWMA) MarkNotFound() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notFound = true
	b.stats = map[netip.AddrPort]*endpointStat{}
}

// Pick selects the endpoint with the minimum load-adjusted cost, ties
// broken randomly. Cost is EWMA(latency) scaled up by (1 + in-flight
// count), a cheap proxy for the endpoint's current queue depth.
func (b *EWMA) Pick() (target.Endpoint, func(latency time.Duration), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.notFound {
		return target.Endpoint{}, nil, errkind.New(errkind.NotFound, "concrete destination does not exist")
	}
	if len(b.stats) == 0 {
		return target.Endpoint{}, nil, errkind.New(errkind.NotFound, "no endpoints available")
	}

	var best *endpointStat
	var bestCost float64
	var tied []*endpointStat

	for _, st := range b.stats {
		cost := st.ewmaNanos * float64(1+st.inFlight)
		switch {
		case best == nil || cost < bestCost:
			best = st
			bestCost = cost
			tied = []*endpointStat{st}
		case cost == bestCost:
			tied = append(tied, st)
		}
	}
	if len(tied) > 1 {
		best = tied[b.rngIntn(len(tied))]
	}

	best.inFlight++
	addr := best.endpoint.Addr
	pickedAt := b.now()
	done := func(latency time.Duration) {
		b.mu.Lock()
		defer b.mu.Unlock()
		st, ok := b.stats[addr]
		if !ok {
			return
		}
		st.inFlight--

		elapsed := pickedAt.Sub(st.lastUse)
		if elapsed < 0 {
			elapsed = 0
		}
		alpha := 1 - math.Exp(-float64(elapsed)/float64(b.decay))
		if alpha < minSampleWeight {
			alpha = minSampleWeight
		}
		st.ewmaNanos = st.ewmaNanos*(1-alpha) + float64(latency)*alpha
		st.lastUse = b.now()
	}
	return best.endpoint, done, nil
}
