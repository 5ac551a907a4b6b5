package loadbalancer

import (
	"sync/atomic"
)

// RoundRobin implements the unweighted round-robin policy named in spec.md
// §4.3: a request is handed the next entry of the upstream's cached healthy
// slice in order, wrapping back to the start. The counter is shared across
// all requests against a given upstream (the Open Question in DESIGN.md
// resolves "per-route vs per-upstream scope" in favor of per-upstream).
type RoundRobin struct {
	baseBalancer
	current uint64
}

// NewRoundRobin creates a round-robin balancer over the given backends.
func NewRoundRobin(backends []*Backend) *RoundRobin {
	rr := &RoundRobin{}
	for _, b := range backends {
		if b.Weight == 0 {
			b.Weight = 1
		}
	}
	rr.backends = backends
	rr.buildIndex()
	return rr
}

// Next returns the next healthy backend, reading the pre-computed healthy
// cache so the hot path never takes baseBalancer's mutex.
func (rr *RoundRobin) Next() *Backend {
	healthy := rr.CachedHealthyBackends()
	if len(healthy) == 0 {
		return nil
	}
	idx := atomic.AddUint64(&rr.current, 1)
	return healthy[(idx-1)%uint64(len(healthy))]
}
