package plugins

import (
	"encoding/json"
	"math/rand"

	"github.com/pingsix/pingsix/internal/plugin"
	"github.com/pingsix/pingsix/internal/variables"
)

func init() {
	plugin.Register("traffic-split", newTrafficSplit)
}

var trafficSplitSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"vars": {
						"type": "array",
						"items": {
							"type": "array",
							"items": {"type": "string"},
							"minItems": 3,
							"maxItems": 3
						}
					},
					"weighted_upstreams": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"properties": {
								"upstream_id": {"type": "string", "minLength": 1},
								"weight": {"type": "integer"}
							},
							"required": ["upstream_id"]
						}
					}
				},
				"required": ["weighted_upstreams"]
			}
		}
	}
}`)

// trafficSplitVars is one `(variable, operator, literal)` predicate from
// spec.md §4.5, e.g. `["http_x-user-type","==","beta"]`. A rule matches
// only when every one of its Vars predicates holds.
type trafficSplitVars [3]string

func (v trafficSplitVars) variable() string { return v[0] }
func (v trafficSplitVars) operator() string { return v[1] }
func (v trafficSplitVars) literal() string  { return v[2] }

// weightedUpstream is one candidate in a matched rule's weighted pool. It
// names an upstream by id rather than carrying inline backends: the plugin
// resolves it against the live catalog at request time (via
// variables.Context.UpstreamOverride, consulted by internal/proxy), so the
// override always targets whatever the registry currently holds for that
// id rather than a snapshot taken at plugin-build time.
type weightedUpstream struct {
	UpstreamID string `json:"upstream_id"`
	Weight     int    `json:"weight"`
}

// trafficSplitRule is one entry of the plugin's `rules` list. A rule with
// no Vars is the default rule and matches unconditionally, per spec.md
// §4.5 ("Default rule (empty predicate list) matches unconditionally").
type trafficSplitRule struct {
	Vars              []trafficSplitVars `json:"vars"`
	WeightedUpstreams []weightedUpstream `json:"weighted_upstreams"`
}

type trafficSplitConfig struct {
	Rules []trafficSplitRule `json:"rules"`
}

// trafficSplit evaluates its rules in order against the request and, on
// the first match, overrides the request's effective upstream with a
// weighted random pick from that rule's weighted_upstreams, per spec.md
// §4.5 and the §8 scenario-2 end-to-end test.
type trafficSplit struct {
	rules []trafficSplitRule
	vars  *variables.BuiltinVariables
}

func newTrafficSplit(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(trafficSplitSchema, raw); err != nil {
		return nil, err
	}
	var cfg trafficSplitConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return &trafficSplit{rules: cfg.Rules, vars: variables.NewBuiltinVariables()}, nil
}

func (p *trafficSplit) Name() string  { return "traffic-split" }
func (p *trafficSplit) Priority() int { return 8000 }

func (p *trafficSplit) BeforeProxy(ctx *plugin.RequestContext) plugin.Result {
	for _, rule := range p.rules {
		if !p.matches(ctx, rule.Vars) {
			continue
		}
		if id := p.pick(rule.WeightedUpstreams); id != "" && ctx.Vars != nil {
			ctx.Vars.UpstreamOverride = id
		}
		return plugin.OK()
	}
	return plugin.OK()
}

// matches reports whether every predicate in vars holds against ctx. An
// empty predicate list is the default rule and always matches.
func (p *trafficSplit) matches(ctx *plugin.RequestContext, vars []trafficSplitVars) bool {
	if len(vars) == 0 {
		return true
	}
	if ctx.Vars == nil {
		return false
	}
	for _, v := range vars {
		actual, _ := p.vars.Get(v.variable(), ctx.Vars)
		switch v.operator() {
		case "==":
			if actual != v.literal() {
				return false
			}
		case "!=":
			if actual == v.literal() {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// pick performs a uniform-random weighted draw over candidates, per
// spec.md §4.3's "chosen from weighted candidates (by uniform random over
// weights)". Candidates with weight <= 0 are treated as weight 1.
func (p *trafficSplit) pick(candidates []weightedUpstream) string {
	total := 0
	weights := make([]int, len(candidates))
	for i, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return ""
	}
	roll := rand.Intn(total)
	cumulative := 0
	for i, w := range weights {
		cumulative += w
		if roll < cumulative {
			return candidates[i].UpstreamID
		}
	}
	return candidates[len(candidates)-1].UpstreamID
}
