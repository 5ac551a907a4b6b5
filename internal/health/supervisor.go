package health

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/logging"
)

// Supervisor is the process-wide health-check executor of spec.md §4.4: one
// background probe task per upstream that declares an active check,
// spawned and torn down by subscribing to the catalog Registry's event
// stream rather than being told explicitly which upstreams exist.
//
// It wraps the teacher's Checker/TCPChecker (flat url->state maps) with a
// per-upstream ownership layer so Added/Removed/Replaced events can be
// translated into Checker.UpdateBackend/RemoveBackend calls, and so a
// status transition on a probe can be routed back to the owning
// *catalog.Upstream's Balancer.MarkHealthy/MarkUnhealthy.
type Supervisor struct {
	registry *catalog.Registry
	global   config.HealthCheckConfig

	http *Checker
	tcp  *TCPChecker

	mu           sync.Mutex
	owner        map[string]string          // probe key -> owning upstream id
	upstreamKeys map[string]map[string]bool // upstream id -> probe keys currently registered for it
}

// NewSupervisor builds a Supervisor. global supplies defaults for any
// health-check field an upstream or backend leaves unset.
func NewSupervisor(registry *catalog.Registry, global config.HealthCheckConfig) *Supervisor {
	s := &Supervisor{
		registry:     registry,
		global:       global,
		owner:        make(map[string]string),
		upstreamKeys: make(map[string]map[string]bool),
	}
	s.http = NewChecker(Config{
		DefaultTimeout:  global.Timeout,
		DefaultInterval: global.Interval,
		OnChange:        s.onHTTPChange,
	})
	s.tcp = NewTCPChecker(TCPCheckerConfig{
		DefaultTimeout:  global.Timeout,
		DefaultInterval: global.Interval,
		OnChange:        s.onTCPChange,
	})
	return s
}

// HTTPChecker exposes the supervisor's active HTTP checker for proxy.Config,
// so the proxy's passive failure reporting shares the same checker state
// the supervisor's own probes update.
func (s *Supervisor) HTTPChecker() *Checker {
	return s.http
}

// Run syncs the registry's current upstreams, then processes its event
// stream until ctx is cancelled. It blocks; call it from its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	events := s.registry.Subscribe()

	for id, u := range s.registry.Snapshot().Upstreams {
		s.syncUpstream(id, u)
	}

	for {
		select {
		case <-ctx.Done():
			s.http.Stop()
			s.tcp.Stop()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Entity != catalog.EntityUpstream {
				continue
			}
			switch ev.Kind {
			case catalog.EventAdded, catalog.EventReplaced:
				if u, ok := ev.Value.(*catalog.Upstream); ok {
					s.syncUpstream(ev.ID, u)
				}
			case catalog.EventRemoved:
				s.removeUpstream(ev.ID)
			}
		}
	}
}

// syncUpstream (re)registers every backend of u that declares an active
// health check, and drops any previously-registered backend no longer
// present — covering both Added (prevKeys empty) and Replaced (backend set
// may have shrunk, grown, or changed probe type).
func (s *Supervisor) syncUpstream(id string, u *catalog.Upstream) {
	s.mu.Lock()
	prevKeys := s.upstreamKeys[id]
	s.mu.Unlock()

	nextKeys := make(map[string]bool, len(u.Config.Backends))

	for _, b := range u.Config.Backends {
		cfg, enabled := s.backendHealthCheck(u, b)
		if !enabled {
			continue
		}

		probeType := cfg.Type
		if probeType == "" {
			probeType = "http"
		}

		if probeType == "tcp" {
			addr := tcpAddress(b.URL)
			key := "tcp:" + addr
			nextKeys[key] = true
			s.setOwner(key, id)
			s.tcp.UpdateBackend(TCPBackend{
				Address:        addr,
				Timeout:        cfg.Timeout,
				Interval:       cfg.Interval,
				HealthyAfter:   cfg.HealthyAfter,
				UnhealthyAfter: cfg.UnhealthyAfter,
			})
			continue
		}

		key := "http:" + b.URL
		nextKeys[key] = true
		s.setOwner(key, id)
		s.http.UpdateBackend(Backend{
			URL:            b.URL,
			HealthPath:     cfg.Path,
			Method:         cfg.Method,
			Headers:        cfg.Headers,
			Timeout:        cfg.Timeout,
			Interval:       cfg.Interval,
			HealthyAfter:   cfg.HealthyAfter,
			UnhealthyAfter: cfg.UnhealthyAfter,
			ExpectedStatus: parseExpectedStatuses(cfg.ExpectedStatus),
		})
	}

	for key := range prevKeys {
		if !nextKeys[key] {
			s.removeKey(key)
		}
	}

	s.mu.Lock()
	s.upstreamKeys[id] = nextKeys
	s.mu.Unlock()
}

func (s *Supervisor) removeUpstream(id string) {
	s.mu.Lock()
	keys := s.upstreamKeys[id]
	delete(s.upstreamKeys, id)
	s.mu.Unlock()

	for key := range keys {
		s.removeKey(key)
	}
}

func (s *Supervisor) removeKey(key string) {
	s.mu.Lock()
	delete(s.owner, key)
	s.mu.Unlock()

	if addr, ok := strings.CutPrefix(key, "tcp:"); ok {
		s.tcp.RemoveBackend(addr)
	} else if u, ok := strings.CutPrefix(key, "http:"); ok {
		s.http.RemoveBackend(u)
	}
}

func (s *Supervisor) setOwner(key, upstreamID string) {
	s.mu.Lock()
	s.owner[key] = upstreamID
	s.mu.Unlock()
}

// backendHealthCheck reports whether b has an active health check declared
// (on the upstream or the backend itself) and, if so, the effective
// merged config: global defaults, overridden by the upstream's HealthCheck,
// overridden in turn by the backend's own HealthCheck.
func (s *Supervisor) backendHealthCheck(u *catalog.Upstream, b config.BackendConfig) (config.HealthCheckConfig, bool) {
	if u.Config.HealthCheck == nil && b.HealthCheck == nil {
		return config.HealthCheckConfig{}, false
	}
	merged := s.global
	merged = mergeHealthCheck(merged, u.Config.HealthCheck)
	merged = mergeHealthCheck(merged, b.HealthCheck)
	return merged, true
}

func mergeHealthCheck(base config.HealthCheckConfig, override *config.HealthCheckConfig) config.HealthCheckConfig {
	if override == nil {
		return base
	}
	merged := base
	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Path != "" {
		merged.Path = override.Path
	}
	if override.Method != "" {
		merged.Method = override.Method
	}
	if len(override.Headers) > 0 {
		merged.Headers = override.Headers
	}
	if override.Interval != 0 {
		merged.Interval = override.Interval
	}
	if override.Timeout != 0 {
		merged.Timeout = override.Timeout
	}
	if override.HealthyAfter != 0 {
		merged.HealthyAfter = override.HealthyAfter
	}
	if override.UnhealthyAfter != 0 {
		merged.UnhealthyAfter = override.UnhealthyAfter
	}
	if len(override.ExpectedStatus) > 0 {
		merged.ExpectedStatus = override.ExpectedStatus
	}
	return merged
}

func parseExpectedStatuses(specs []string) []StatusRange {
	if len(specs) == 0 {
		return nil
	}
	ranges := make([]StatusRange, 0, len(specs))
	for _, spec := range specs {
		if r, err := ParseStatusRange(spec); err == nil {
			ranges = append(ranges, r)
		}
	}
	return ranges
}

// tcpAddress extracts the host:port a TCP probe should dial from a backend
// URL. Backends are usually written as full URLs (http://host:port) even
// when probed over TCP; a bare host:port is passed through unchanged.
func tcpAddress(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func (s *Supervisor) onHTTPChange(probeURL string, status Status) {
	s.applyStatus("http:"+probeURL, probeURL, status)
}

func (s *Supervisor) onTCPChange(addr string, status Status) {
	s.applyStatus("tcp:"+addr, addr, status)
}

// applyStatus routes a probe's status transition to the owning upstream's
// Balancer, translating a bare TCP address back to the backend's full URL
// (the key the balancer tracks backends by) when necessary.
func (s *Supervisor) applyStatus(key, probeKey string, status Status) {
	if status != StatusHealthy && status != StatusUnhealthy {
		return
	}

	s.mu.Lock()
	upstreamID, ok := s.owner[key]
	s.mu.Unlock()
	if !ok {
		return
	}

	u, ok := s.registry.Upstream(upstreamID)
	if !ok || u.Balancer == nil {
		return
	}

	backendURL := probeKey
	if strings.HasPrefix(key, "tcp:") {
		backendURL = resolveBackendURL(u, probeKey)
	}

	if status == StatusHealthy {
		u.Balancer.MarkHealthy(backendURL)
		return
	}

	u.Balancer.MarkUnhealthy(backendURL)
	if u.Balancer.HealthyCount() == 0 {
		// Fail open: spec.md §9 treats health checking as routing hygiene,
		// not a hard gate, so the balancer keeps serving every backend as
		// if checks were disabled. This is the one place that decision
		// needs to be loud rather than silent.
		logging.Warn("all backends unhealthy, failing open",
			zap.String("upstream", upstreamID))
	}
}

func resolveBackendURL(u *catalog.Upstream, addr string) string {
	for _, b := range u.Config.Backends {
		if tcpAddress(b.URL) == addr {
			return b.URL
		}
	}
	return addr
}
