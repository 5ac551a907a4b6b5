package catalog

import (
	"crypto/tls"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/loadbalancer"
)

// Upstream is the runtime form of config.UpstreamConfig: resolved backends
// plus the load balancer policy instance selected for them, per spec.md
// §4.3. Rebuilt wholesale on every catalog Reload and on health-check
// transitions (handled in-place via the Balancer's MarkHealthy/Unhealthy,
// not a Reload).
type Upstream struct {
	ID       string
	Config   config.UpstreamConfig
	Balancer loadbalancer.Balancer
}

// NewUpstream builds the runtime Upstream and its balancer from config. The
// default policy is round_robin when LoadBalancer is unset.
func NewUpstream(id string, cfg config.UpstreamConfig) *Upstream {
	backends := make([]*loadbalancer.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backend := &loadbalancer.Backend{URL: b.URL, Weight: b.Weight, Healthy: true}
		backend.InitParsedURL()
		backends = append(backends, backend)
	}

	var bal loadbalancer.Balancer
	switch cfg.LoadBalancer {
	case "random":
		bal = loadbalancer.NewRandom(backends)
	case "consistent_hash":
		bal = loadbalancer.NewConsistentHash(backends, cfg.ConsistentHash)
	case "fnv_hash":
		bal = loadbalancer.NewFNVHash(backends, cfg.ConsistentHash)
	default:
		bal = loadbalancer.NewRoundRobin(backends)
	}

	return &Upstream{ID: id, Config: cfg, Balancer: bal}
}

// Service is the runtime form of config.ServiceDefConfig: a named bundle of
// upstream reference and plugin map that routes can share, per spec.md §3.
type Service struct {
	ID     string
	Config config.ServiceDefConfig
}

// GlobalRule is the runtime form of config.GlobalRuleConfig: a plugin map
// applied to every request regardless of route, per spec.md §3.
type GlobalRule struct {
	ID     string
	Config config.GlobalRuleConfig
}

// SSLCert is the runtime form of config.SSLConfig: a parsed certificate
// ready to hand to tls.Config.GetCertificate, plus the SNI hostnames it
// answers for. Parsing (PEM decode, tls.X509KeyPair) happens once here at
// catalog build time, not per-handshake.
type SSLCert struct {
	ID        string
	Config    config.SSLConfig
	Cert      *tls.Certificate
	IsDefault bool
}

// NewSSLCert parses the PEM cert/key pair in cfg. Returns an error if the
// pair does not parse, so the registry can reject a bad Reload outright
// instead of serving a broken listener.
func NewSSLCert(id string, cfg config.SSLConfig) (*SSLCert, error) {
	cert, err := tls.X509KeyPair([]byte(cfg.Cert), []byte(cfg.Key))
	if err != nil {
		return nil, err
	}
	return &SSLCert{ID: id, Config: cfg, Cert: &cert, IsDefault: cfg.IsDefault}, nil
}

// Route is the runtime form of config.RouteConfig, holding a resolved
// pointer to its Service (if any) so the lifecycle orchestrator never has
// to re-look the service up mid-request.
type Route struct {
	ID      string
	Config  config.RouteConfig
	Service *Service // resolved from Config.ServiceID; nil if the route has none
}

// ResolvedUpstreamID returns the upstream id this route should proxy to,
// honoring spec.md §4.6 step 4's precedence: embedded backends win (handled
// by the caller, which checks Config.Backends first), then an explicit
// Config.Upstream reference, then the route's Service's upstream_id.
func (r *Route) ResolvedUpstreamID() string {
	if r.Config.Upstream != "" {
		return r.Config.Upstream
	}
	if r.Service != nil {
		return r.Service.Config.UpstreamID
	}
	return ""
}

// MergedPlugins returns the route's effective plugin map, applying spec.md
// §9's innermost-wins decision: a plugin named on the route replaces one of
// the same name inherited from its Service, which in turn would replace one
// inherited from a GlobalRule (GlobalRule merging happens one layer up, in
// the plugin pipeline builder, since a route has no GlobalRule reference).
func (r *Route) MergedPlugins() config.PluginConfig {
	merged := config.PluginConfig{}
	if r.Service != nil {
		for name, raw := range r.Service.Config.Plugins {
			merged[name] = raw
		}
	}
	for name, raw := range r.Config.Plugins {
		merged[name] = raw
	}
	return merged
}
