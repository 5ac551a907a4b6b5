package plugin

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Constructor builds a configured Plugin instance from its raw JSON config
// blob, validating against the plugin's own schema as it unmarshals (per
// spec.md's "validated via the plugin's own schema check").
type Constructor func(raw json.RawMessage) (Plugin, error)

// Registry is the process-wide table of constructible plugin names,
// populated by each concrete plugin package's init() via Register.
type Registry struct {
	constructors map[string]Constructor
}

var global = &Registry{constructors: make(map[string]Constructor)}

// Register adds a named plugin constructor to the global registry. Called
// from the plugins subpackages' init() functions.
func Register(name string, ctor Constructor) {
	global.constructors[name] = ctor
}

// Build resolves an ordered map of plugin name -> raw config into concrete
// Plugin instances, per spec.md §4.5: unknown plugin names are a
// configuration error (surfaced at catalog load time, not per-request).
func Build(plugins map[string]json.RawMessage) ([]Plugin, error) {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	instances := make([]Plugin, 0, len(names))
	for _, name := range names {
		ctor, ok := global.constructors[name]
		if !ok {
			return nil, fmt.Errorf("plugin: unknown plugin %q", name)
		}
		p, err := ctor(plugins[name])
		if err != nil {
			return nil, fmt.Errorf("plugin: %s: %w", name, err)
		}
		instances = append(instances, p)
	}

	sort.SliceStable(instances, func(i, j int) bool {
		pi, pj := priorityOf(instances[i]), priorityOf(instances[j])
		if pi != pj {
			return pi > pj
		}
		return instances[i].Name() < instances[j].Name()
	})
	return instances, nil
}

func priorityOf(p Plugin) int {
	if pr, ok := p.(Priority); ok {
		return pr.Priority()
	}
	return 0
}
