package rules

import (
	"net/http/httptest"
	"testing"

	"github.com/pingsix/pingsix/internal/config"
)

func TestEngine_EvaluateRequest_StopsOnTerminatingMatch(t *testing.T) {
	eng, err := NewEngine(config.RulesConfig{
		Request: []config.RuleConfig{
			{ID: "set-header", Expression: `true`, Action: "set_headers",
				Headers: config.HeaderTransform{Set: map[string]string{"X-Seen": "1"}}},
			{ID: "block-all", Expression: `true`, Action: "block", StatusCode: 403},
			{ID: "never-reached", Expression: `true`, Action: "log"},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	results := eng.EvaluateRequest(NewRequestEnv(r, nil))

	if len(results) != 2 {
		t.Fatalf("expected 2 results (stopping at the terminating rule), got %d", len(results))
	}
	if results[0].RuleID != "set-header" || results[0].Terminated {
		t.Errorf("expected first result to be the non-terminating set-header rule, got %+v", results[0])
	}
	if results[1].RuleID != "block-all" || !results[1].Terminated {
		t.Errorf("expected second result to be the terminating block-all rule, got %+v", results[1])
	}
}

func TestEngine_EvaluateRequest_SkipsDisabledRules(t *testing.T) {
	disabled := false
	eng, err := NewEngine(config.RulesConfig{
		Request: []config.RuleConfig{
			{ID: "off", Expression: `true`, Action: "block", Enabled: &disabled},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	results := eng.EvaluateRequest(NewRequestEnv(r, nil))
	if len(results) != 0 {
		t.Errorf("expected no results for a disabled rule, got %d", len(results))
	}
}

func TestEngine_CompileError(t *testing.T) {
	_, err := NewEngine(config.RulesConfig{
		Request: []config.RuleConfig{
			{ID: "bad", Expression: `(((`, Action: "block"},
		},
	})
	if err == nil {
		t.Error("expected NewEngine to fail on an invalid expression")
	}
}

func TestEngine_HasRequestResponseRules(t *testing.T) {
	eng, err := NewEngine(config.RulesConfig{
		Response: []config.RuleConfig{
			{ID: "r1", Expression: `true`, Action: "log"},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if eng.HasRequestRules() {
		t.Error("expected no request rules")
	}
	if !eng.HasResponseRules() {
		t.Error("expected response rules to be present")
	}
}

func TestEngine_MetricsSnapshot(t *testing.T) {
	eng, err := NewEngine(config.RulesConfig{
		Request: []config.RuleConfig{
			{ID: "set-header", Expression: `true`, Action: "set_headers"},
			{ID: "no-match", Expression: `false`, Action: "block"},
		},
	})
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	r := httptest.NewRequest("GET", "http://localhost/", nil)
	eng.EvaluateRequest(NewRequestEnv(r, nil))

	snap := eng.Metrics()
	if snap.Evaluated != 2 {
		t.Errorf("expected 2 evaluations, got %d", snap.Evaluated)
	}
	if snap.Matched != 1 {
		t.Errorf("expected 1 match, got %d", snap.Matched)
	}
	if snap.ActionCounts["set_headers"] != 1 {
		t.Errorf("expected set_headers count 1, got %d", snap.ActionCounts["set_headers"])
	}
}
