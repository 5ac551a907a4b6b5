package catalog

import (
	"fmt"
	"sync"

	"github.com/pingsix/pingsix/internal/config"
)

// subscriberBuffer bounds each subscriber's event channel. A slow or absent
// subscriber does not block Reload; once full, the oldest unread event is
// dropped to make room for the new one (Reload cares about delivering the
// latest state, not replaying every intermediate transition).
const subscriberBuffer = 256

// Registry is the central Catalog of spec.md §4.1: four typed stores
// (Upstreams, Routes, Services, GlobalRules) plus the SSL store, each
// readable lock-free via an atomic snapshot, rebuilt wholesale by Reload.
type Registry struct {
	upstreams   *Store[*Upstream]
	routes      *Store[*Route]
	services    *Store[*Service]
	globalRules *Store[*GlobalRule]
	sslCerts    *Store[*SSLCert]

	subMu sync.Mutex
	subs  []chan Event
}

// New creates an empty Registry. Call Reload to populate it.
func New() *Registry {
	return &Registry{
		upstreams:   NewStore[*Upstream](),
		routes:      NewStore[*Route](),
		services:    NewStore[*Service](),
		globalRules: NewStore[*GlobalRule](),
		sslCerts:    NewStore[*SSLCert](),
	}
}

// Snapshot is an immutable, point-in-time view of every store. Holding a
// Snapshot across a request guarantees the request sees one consistent
// version of the catalog even if Reload runs concurrently.
type Snapshot struct {
	Upstreams   map[string]*Upstream
	Routes      map[string]*Route
	Services    map[string]*Service
	GlobalRules map[string]*GlobalRule
	SSLCerts    map[string]*SSLCert
}

// Snapshot returns the current state of every store.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Upstreams:   r.upstreams.All(),
		Routes:      r.routes.All(),
		Services:    r.services.All(),
		GlobalRules: r.globalRules.All(),
		SSLCerts:    r.sslCerts.All(),
	}
}

// Upstream looks up a single upstream by id.
func (r *Registry) Upstream(id string) (*Upstream, bool) { return r.upstreams.Get(id) }

// Reload validates cfg's cross-references, builds fresh runtime entities for
// every store, and atomically swaps them in. On validation failure the
// previous catalog state is left untouched and an error is returned — a bad
// Reload must never leave the gateway half-updated.
func (r *Registry) Reload(cfg *config.Config) error {
	if err := validateReferences(cfg); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	nextUpstreams := make(map[string]*Upstream, len(cfg.Upstreams))
	for id, uc := range cfg.Upstreams {
		nextUpstreams[id] = NewUpstream(id, uc)
	}

	nextServices := make(map[string]*Service, len(cfg.Services))
	for _, sc := range cfg.Services {
		nextServices[sc.ID] = &Service{ID: sc.ID, Config: sc}
	}

	nextRoutes := make(map[string]*Route, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		route := &Route{ID: rc.ID, Config: rc}
		if rc.ServiceID != "" {
			route.Service = nextServices[rc.ServiceID]
		}
		// A route with embedded backends and no named upstream gets a
		// synthetic per-route upstream, keyed by the route's own id, so
		// the balancer/health-check machinery never has to special-case
		// "inline" backends.
		if len(rc.Backends) > 0 && rc.Upstream == "" && (route.Service == nil || route.Service.Config.UpstreamID == "") {
			inlineID := "route:" + rc.ID
			nextUpstreams[inlineID] = NewUpstream(inlineID, config.UpstreamConfig{
				Backends:       rc.Backends,
				LoadBalancer:   rc.LoadBalancer,
				ConsistentHash: rc.ConsistentHash,
			})
			route.Config.Upstream = inlineID
		}
		nextRoutes[rc.ID] = route
	}

	nextGlobalRules := make(map[string]*GlobalRule, len(cfg.GlobalRules))
	for _, gc := range cfg.GlobalRules {
		nextGlobalRules[gc.ID] = &GlobalRule{ID: gc.ID, Config: gc}
	}

	nextSSL := make(map[string]*SSLCert, len(cfg.SSL))
	for _, sc := range cfg.SSL {
		cert, err := NewSSLCert(sc.ID, sc)
		if err != nil {
			return fmt.Errorf("catalog: ssl cert %s: %w", sc.ID, err)
		}
		nextSSL[sc.ID] = cert
	}

	var events []Event
	events = append(events, diffEvents(EntityUpstream, r.upstreams, nextUpstreams, nil)...)
	events = append(events, diffEvents(EntityRoute, r.routes, nextRoutes, nil)...)
	events = append(events, diffEvents(EntityService, r.services, nextServices, nil)...)
	events = append(events, diffEvents(EntityGlobalRule, r.globalRules, nextGlobalRules, nil)...)
	events = append(events, diffEvents(EntitySSL, r.sslCerts, nextSSL, nil)...)

	r.publish(events)
	return nil
}

// diffEvents computes the Added/Removed/Replaced set for one store ahead of
// the actual swap, so Subscribe()rs learn about a change at the same moment
// readers start observing it.
func diffEvents[T any](entity EntityKind, store *Store[T], next map[string]T, equal func(a, b T) bool) []Event {
	prev := store.All()
	var events []Event
	for id, v := range next {
		if old, ok := prev[id]; !ok {
			events = append(events, Event{Entity: entity, Kind: EventAdded, ID: id, Value: v})
		} else if equal == nil || !equal(old, v) {
			events = append(events, Event{Entity: entity, Kind: EventReplaced, ID: id, Value: v})
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			events = append(events, Event{Entity: entity, Kind: EventRemoved, ID: id})
		}
	}
	store.Replace(next, equal)
	return events
}

// Subscribe returns a channel of RegistryEvents produced by future Reloads.
// The channel is bounded; a subscriber that falls behind loses its oldest
// unread events rather than stalling Reload.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) publish(events []Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				// Drop the oldest queued event to make room, per the
				// bounded drop-oldest contract in spec.md §4.1.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}
}
