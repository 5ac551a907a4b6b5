package admin

import (
	"encoding/json"
	"fmt"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/plugin"
)

// kind adapts one catalog entity type (route, upstream, service, global
// rule, ssl cert) onto a uniform CRUD surface so Server's handlers don't
// need a type switch per resource. Each kind operates directly on the
// *config.Config a PUT/DELETE candidate is built from.
type kind interface {
	list(cfg *config.Config) map[string]json.RawMessage
	get(cfg *config.Config, id string) (json.RawMessage, bool)
	put(cfg *config.Config, id string, raw json.RawMessage) error
	delete(cfg *config.Config, id string) bool
}

// sliceKind adapts a []T field (routes, services, global rules, ssl certs)
// keyed by each element's own ID field.
type sliceKind[T any] struct {
	label    string
	idOf     func(T) string
	setID    func(*T, string)
	validate func(T) error
	slice    func(*config.Config) *[]T
}

func (k sliceKind[T]) list(cfg *config.Config) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for _, item := range *k.slice(cfg) {
		b, _ := json.Marshal(item)
		out[k.idOf(item)] = b
	}
	return out
}

func (k sliceKind[T]) get(cfg *config.Config, id string) (json.RawMessage, bool) {
	for _, item := range *k.slice(cfg) {
		if k.idOf(item) == id {
			b, _ := json.Marshal(item)
			return b, true
		}
	}
	return nil, false
}

func (k sliceKind[T]) put(cfg *config.Config, id string, raw json.RawMessage) error {
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("%s: decode: %w", k.label, err)
	}
	k.setID(&item, id)
	if k.validate != nil {
		if err := k.validate(item); err != nil {
			return fmt.Errorf("%s: %w", k.label, err)
		}
	}

	s := k.slice(cfg)
	for i, existing := range *s {
		if k.idOf(existing) == id {
			(*s)[i] = item
			return nil
		}
	}
	*s = append(*s, item)
	return nil
}

func (k sliceKind[T]) delete(cfg *config.Config, id string) bool {
	s := k.slice(cfg)
	for i, existing := range *s {
		if k.idOf(existing) == id {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}

// mapKind adapts the map[string]config.UpstreamConfig field, keyed by the
// map key rather than an ID field embedded in the value.
type mapKind[T any] struct {
	label    string
	setID    func(*T, string)
	validate func(T) error
	m        func(*config.Config) *map[string]T
}

func (k mapKind[T]) list(cfg *config.Config) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for id, item := range *k.m(cfg) {
		b, _ := json.Marshal(item)
		out[id] = b
	}
	return out
}

func (k mapKind[T]) get(cfg *config.Config, id string) (json.RawMessage, bool) {
	item, ok := (*k.m(cfg))[id]
	if !ok {
		return nil, false
	}
	b, _ := json.Marshal(item)
	return b, true
}

func (k mapKind[T]) put(cfg *config.Config, id string, raw json.RawMessage) error {
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return fmt.Errorf("%s: decode: %w", k.label, err)
	}
	if k.setID != nil {
		k.setID(&item, id)
	}
	if k.validate != nil {
		if err := k.validate(item); err != nil {
			return fmt.Errorf("%s: %w", k.label, err)
		}
	}
	mp := k.m(cfg)
	if *mp == nil {
		*mp = make(map[string]T)
	}
	(*mp)[id] = item
	return nil
}

func (k mapKind[T]) delete(cfg *config.Config, id string) bool {
	mp := k.m(cfg)
	if _, ok := (*mp)[id]; !ok {
		return false
	}
	delete(*mp, id)
	return true
}

// validatePlugins rejects a plugin map referencing an unknown plugin name or
// failing that plugin's own schema check, mirroring original_source's
// validate_plugins_if_supported: a PUT must not be accepted if any of its
// plugin configs would fail to build.
func validatePlugins(plugins config.PluginConfig) error {
	if len(plugins) == 0 {
		return nil
	}
	_, err := plugin.Build(plugins)
	return err
}

// buildKinds returns the five resource kinds the admin surface serves,
// mirroring catalog.Registry's own five stores.
func buildKinds() map[string]kind {
	return map[string]kind{
		"routes": sliceKind[config.RouteConfig]{
			label: "route",
			idOf:  func(r config.RouteConfig) string { return r.ID },
			setID: func(r *config.RouteConfig, id string) { r.ID = id },
			validate: func(r config.RouteConfig) error {
				return validatePlugins(r.Plugins)
			},
			slice: func(cfg *config.Config) *[]config.RouteConfig { return &cfg.Routes },
		},
		"upstreams": mapKind[config.UpstreamConfig]{
			label: "upstream",
			setID: func(u *config.UpstreamConfig, id string) { u.ID = id },
			m:     func(cfg *config.Config) *map[string]config.UpstreamConfig { return &cfg.Upstreams },
		},
		"services": sliceKind[config.ServiceDefConfig]{
			label: "service",
			idOf:  func(s config.ServiceDefConfig) string { return s.ID },
			setID: func(s *config.ServiceDefConfig, id string) { s.ID = id },
			validate: func(s config.ServiceDefConfig) error {
				return validatePlugins(s.Plugins)
			},
			slice: func(cfg *config.Config) *[]config.ServiceDefConfig { return &cfg.Services },
		},
		"global_rules": sliceKind[config.GlobalRuleConfig]{
			label: "global_rule",
			idOf:  func(g config.GlobalRuleConfig) string { return g.ID },
			setID: func(g *config.GlobalRuleConfig, id string) { g.ID = id },
			validate: func(g config.GlobalRuleConfig) error {
				return validatePlugins(g.Plugins)
			},
			slice: func(cfg *config.Config) *[]config.GlobalRuleConfig { return &cfg.GlobalRules },
		},
		"ssl": sliceKind[config.SSLConfig]{
			label: "ssl",
			idOf:  func(s config.SSLConfig) string { return s.ID },
			setID: func(s *config.SSLConfig, id string) { s.ID = id },
			slice: func(cfg *config.Config) *[]config.SSLConfig { return &cfg.SSL },
		},
	}
}
