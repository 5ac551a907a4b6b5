package plugins

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pingsix/pingsix/internal/plugin"
	"github.com/pingsix/pingsix/internal/variables"
)

func newTrafficSplitCtx(header, value string) *plugin.RequestContext {
	r := httptest.NewRequest(http.MethodGet, "/api/users/42", nil)
	if header != "" {
		r.Header.Set(header, value)
	}
	return &plugin.RequestContext{Request: r, Vars: variables.NewContext(r)}
}

// TestTrafficSplitMatchedRuleOverridesUpstream covers spec.md §8 scenario
// 2: a request carrying X-User-Type: beta must be routed to the canary
// upstream, while an identical request without the header reaches the
// route's default upstream (no override set).
func TestTrafficSplitMatchedRuleOverridesUpstream(t *testing.T) {
	raw := json.RawMessage(`{
		"rules": [
			{
				"vars": [["http_x-user-type", "==", "beta"]],
				"weighted_upstreams": [{"upstream_id": "canary", "weight": 100}]
			}
		]
	}`)
	p, err := newTrafficSplit(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := p.(*trafficSplit)

	betaCtx := newTrafficSplitCtx("X-User-Type", "beta")
	if res := ts.BeforeProxy(betaCtx); res.Outcome != plugin.Continue {
		t.Fatalf("expected Continue outcome, got %v", res.Outcome)
	}
	if got := betaCtx.Vars.UpstreamOverride; got != "canary" {
		t.Fatalf("expected beta request to override to canary, got %q", got)
	}

	plainCtx := newTrafficSplitCtx("", "")
	if res := ts.BeforeProxy(plainCtx); res.Outcome != plugin.Continue {
		t.Fatalf("expected Continue outcome, got %v", res.Outcome)
	}
	if got := plainCtx.Vars.UpstreamOverride; got != "" {
		t.Fatalf("expected non-beta request to leave the default upstream untouched, got override %q", got)
	}
}

// TestTrafficSplitDefaultRuleAlwaysMatches covers spec.md §4.5's "Default
// rule (empty predicate list) matches unconditionally".
func TestTrafficSplitDefaultRuleAlwaysMatches(t *testing.T) {
	raw := json.RawMessage(`{
		"rules": [
			{"weighted_upstreams": [{"upstream_id": "canary", "weight": 1}]}
		]
	}`)
	p, err := newTrafficSplit(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := p.(*trafficSplit)

	ctx := newTrafficSplitCtx("", "")
	ts.BeforeProxy(ctx)
	if got := ctx.Vars.UpstreamOverride; got != "canary" {
		t.Fatalf("expected default rule to always override, got %q", got)
	}
}

// TestTrafficSplitNotEqualOperator exercises the "!=" predicate operator.
func TestTrafficSplitNotEqualOperator(t *testing.T) {
	raw := json.RawMessage(`{
		"rules": [
			{
				"vars": [["http_x-user-type", "!=", "beta"]],
				"weighted_upstreams": [{"upstream_id": "stable", "weight": 1}]
			}
		]
	}`)
	p, err := newTrafficSplit(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts := p.(*trafficSplit)

	betaCtx := newTrafficSplitCtx("X-User-Type", "beta")
	ts.BeforeProxy(betaCtx)
	if got := betaCtx.Vars.UpstreamOverride; got != "" {
		t.Fatalf("expected beta request not to match != beta rule, got override %q", got)
	}

	otherCtx := newTrafficSplitCtx("X-User-Type", "other")
	ts.BeforeProxy(otherCtx)
	if got := otherCtx.Vars.UpstreamOverride; got != "stable" {
		t.Fatalf("expected non-beta request to match != beta rule, got %q", got)
	}
}

// TestTrafficSplitWeightedPickStaysWithinCandidates asserts pick always
// returns one of the configured upstream ids.
func TestTrafficSplitWeightedPickStaysWithinCandidates(t *testing.T) {
	ts := &trafficSplit{}
	candidates := []weightedUpstream{
		{UpstreamID: "a", Weight: 1},
		{UpstreamID: "b", Weight: 99},
	}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[ts.pick(candidates)] = true
	}
	if len(seen) == 0 || (!seen["a"] && !seen["b"]) {
		t.Fatalf("expected pick to return only configured candidates, got %v", seen)
	}
	for id := range seen {
		if id != "a" && id != "b" {
			t.Fatalf("pick returned unexpected candidate %q", id)
		}
	}
}
