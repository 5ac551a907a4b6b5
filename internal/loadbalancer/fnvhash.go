package loadbalancer

import (
	"hash/fnv"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/variables"
)

// FNVHash implements a hash-ring balancer keyed by a configurable session
// variable or header, using FNV-1a (hash/fnv) rather than the ketama/MD5
// ring ConsistentHash uses. Distinct from ConsistentHash so routes can pick
// whichever hash family fits their key distribution.
type FNVHash struct {
	baseBalancer
	cfg      config.ConsistentHashConfig
	ring     []fnvRingEntry
	ringMu   sync.RWMutex
	replicas int
}

type fnvRingEntry struct {
	hash    uint32
	backend *Backend
}

// NewFNVHash creates a new FNV-1a hash-ring balancer.
func NewFNVHash(backends []*Backend, cfg config.ConsistentHashConfig) *FNVHash {
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 150
	}
	fh := &FNVHash{cfg: cfg, replicas: replicas}
	for _, b := range backends {
		if b.Weight == 0 {
			b.Weight = 1
		}
	}
	fh.backends = backends
	fh.buildIndex()
	fh.rebuildRing()
	return fh
}

func fnv1aHash(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func (fh *FNVHash) rebuildRing() {
	fh.mu.RLock()
	healthy := fh.healthyBackends()
	fh.mu.RUnlock()

	var ring []fnvRingEntry
	for _, b := range healthy {
		vnodes := fh.replicas * b.Weight
		for i := 0; i < vnodes; i++ {
			ring = append(ring, fnvRingEntry{hash: fnv1aHash(b.URL + "#" + strconv.Itoa(i)), backend: b})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	fh.ringMu.Lock()
	fh.ring = ring
	fh.ringMu.Unlock()
}

// Next returns a backend without a request-aware key, used when a caller has
// no request context. Falls back to the first ring entry.
func (fh *FNVHash) Next() *Backend {
	fh.ringMu.RLock()
	defer fh.ringMu.RUnlock()
	if len(fh.ring) == 0 {
		return nil
	}
	return fh.ring[0].backend
}

// NextForHTTPRequest hashes the configured session variable/header and
// walks the ring clockwise to the first entry at or past that hash.
func (fh *FNVHash) NextForHTTPRequest(r *http.Request) (*Backend, string) {
	key := extractHashKey(fh.cfg, r)
	h := fnv1aHash(key)

	fh.ringMu.RLock()
	ring := fh.ring
	fh.ringMu.RUnlock()

	if len(ring) == 0 {
		return nil, ""
	}
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= h })
	if idx >= len(ring) {
		idx = 0
	}
	return ring[idx].backend, key
}

func (fh *FNVHash) UpdateBackends(backends []*Backend) {
	fh.baseBalancer.UpdateBackends(backends)
	fh.rebuildRing()
}

func (fh *FNVHash) MarkHealthy(url string) {
	fh.baseBalancer.MarkHealthy(url)
	fh.rebuildRing()
}

func (fh *FNVHash) MarkUnhealthy(url string) {
	fh.baseBalancer.MarkUnhealthy(url)
	fh.rebuildRing()
}

// extractHashKey pulls the hash key out of the request per cfg.Key, using
// the built-in variable set for "var" so any session variable (not just a
// fixed header/cookie/path/ip list) can key the ring.
func extractHashKey(cfg config.ConsistentHashConfig, r *http.Request) string {
	switch cfg.Key {
	case "header":
		return r.Header.Get(cfg.HeaderName)
	case "cookie":
		if c, err := r.Cookie(cfg.HeaderName); err == nil {
			return c.Value
		}
		return ""
	case "path":
		return r.URL.Path
	case "ip":
		return extractClientIP(r)
	case "var":
		ctx := variables.NewContext(r)
		v, _ := variables.NewBuiltinVariables().Get(cfg.HeaderName, ctx)
		return v
	default:
		return r.URL.Path
	}
}
