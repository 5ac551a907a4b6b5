package catalog

import (
	"fmt"

	"github.com/pingsix/pingsix/internal/config"
)

// validateReferences checks the cross-entity references spec.md §3's
// Invariants require: a route's upstream_id or service_id must resolve,
// and a service's upstream_id must resolve, before any of it is allowed
// into the catalog.
func validateReferences(cfg *config.Config) error {
	services := make(map[string]config.ServiceDefConfig, len(cfg.Services))
	for _, s := range cfg.Services {
		if s.ID == "" {
			return fmt.Errorf("service with empty id")
		}
		if _, dup := services[s.ID]; dup {
			return fmt.Errorf("duplicate service id %q", s.ID)
		}
		services[s.ID] = s
	}
	for _, s := range cfg.Services {
		if s.UpstreamID != "" {
			if _, ok := cfg.Upstreams[s.UpstreamID]; !ok {
				return fmt.Errorf("service %q references unknown upstream %q", s.ID, s.UpstreamID)
			}
		}
	}

	seenRoute := map[string]bool{}
	for _, rt := range cfg.Routes {
		if rt.ID == "" {
			return fmt.Errorf("route with empty id")
		}
		if seenRoute[rt.ID] {
			return fmt.Errorf("duplicate route id %q", rt.ID)
		}
		seenRoute[rt.ID] = true

		hasBackends := len(rt.Backends) > 0
		hasUpstream := rt.Upstream != ""
		hasService := rt.ServiceID != ""

		if !hasBackends && !hasUpstream && !hasService {
			return fmt.Errorf("route %q has no backends, upstream, or service to resolve a target from", rt.ID)
		}
		if hasUpstream {
			if _, ok := cfg.Upstreams[rt.Upstream]; !ok {
				return fmt.Errorf("route %q references unknown upstream %q", rt.ID, rt.Upstream)
			}
		}
		if hasService {
			svc, ok := services[rt.ServiceID]
			if !ok {
				return fmt.Errorf("route %q references unknown service %q", rt.ID, rt.ServiceID)
			}
			if !hasBackends && !hasUpstream && svc.UpstreamID == "" {
				return fmt.Errorf("route %q's service %q has no upstream_id and the route has no override", rt.ID, rt.ServiceID)
			}
		}
	}

	seenRule := map[string]bool{}
	for _, gr := range cfg.GlobalRules {
		if gr.ID == "" {
			return fmt.Errorf("global rule with empty id")
		}
		if seenRule[gr.ID] {
			return fmt.Errorf("duplicate global rule id %q", gr.ID)
		}
		seenRule[gr.ID] = true
	}

	seenSSL := map[string]bool{}
	for _, sc := range cfg.SSL {
		if sc.ID == "" {
			return fmt.Errorf("ssl cert with empty id")
		}
		if seenSSL[sc.ID] {
			return fmt.Errorf("duplicate ssl cert id %q", sc.ID)
		}
		if len(sc.Snis) == 0 && !sc.IsDefault {
			return fmt.Errorf("ssl cert %q has no snis and is not the default cert", sc.ID)
		}
		seenSSL[sc.ID] = true
	}

	return nil
}
