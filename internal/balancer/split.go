package balancer

import (
	"math/rand"

	"github.com/linkerd-sidecar/meshcore/internal/target"
)

// WeightedSplit chooses one Concrete from a profile's traffic split,
// weighted-random over non-zero weights, ties broken by insertion order
// (the first maximal-weight candidate encountered wins when the RNG
// lands on a shared boundary — there is no separate tie-break needed
// since weighted sampling over a cumulative range is already
// deterministic for a given draw).
func WeightedSplit(concretes []target.Concrete, intn func(int) int) (target.Concrete, bool) {
	total := uint32(0)
	for _, c := range concretes {
		total += c.Weight
	}
	if total == 0 {
		return target.Concrete{}, false
	}
	if intn == nil {
		intn = rand.Intn
	}

	draw := uint32(intn(int(total)))
	var cumulative uint32
	for _, c := range concretes {
		if c.Weight == 0 {
			continue
		}
		cumulative += c.Weight
		if draw < cumulative {
			return c, true
		}
	}
	// Unreachable unless weights overflow uint32; fall back to the last
	// non-zero entry.
	for i := len(concretes) - 1; i >= 0; i-- {
		if concretes[i].Weight > 0 {
			return concretes[i], true
		}
	}
	return target.Concrete{}, false
}
