package plugin

import (
	"encoding/json"
	"testing"
)

type stubAccess struct {
	name     string
	priority int
	result   Result
	called   *[]string
}

func (s *stubAccess) Name() string     { return s.name }
func (s *stubAccess) Priority() int    { return s.priority }
func (s *stubAccess) AccessFilter(ctx *RequestContext) Result {
	*s.called = append(*s.called, s.name)
	return s.result
}

func TestPipelineRunAccessFilterStopsOnFirstNonContinue(t *testing.T) {
	var called []string
	p := NewPipeline([]Plugin{
		&stubAccess{name: "a", priority: 10, result: OK(), called: &called},
		&stubAccess{name: "b", priority: 5, result: StopWith(429, nil, nil), called: &called},
		&stubAccess{name: "c", priority: 1, result: OK(), called: &called},
	})

	r := p.RunAccessFilter(&RequestContext{})
	if r.Outcome != Stop {
		t.Fatalf("expected Stop outcome, got %v", r.Outcome)
	}
	if len(called) != 2 || called[0] != "a" || called[1] != "b" {
		t.Fatalf("expected a then b to run and c to be skipped, got %v", called)
	}
}

func TestBuildSortsByPriorityThenName(t *testing.T) {
	Register("zz-test-low", func(raw json.RawMessage) (Plugin, error) {
		return &stubAccess{name: "zz-test-low", priority: 0, result: OK(), called: &[]string{}}, nil
	})
	Register("aa-test-high", func(raw json.RawMessage) (Plugin, error) {
		return &stubAccess{name: "aa-test-high", priority: 100, result: OK(), called: &[]string{}}, nil
	})

	instances, err := Build(map[string]json.RawMessage{
		"zz-test-low":  json.RawMessage(`{}`),
		"aa-test-high": json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instances[0].Name() != "aa-test-high" {
		t.Fatalf("expected the higher-priority plugin first, got %s", instances[0].Name())
	}
}

func TestBuildRejectsUnknownPlugin(t *testing.T) {
	_, err := Build(map[string]json.RawMessage{"does-not-exist": json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected an error for an unregistered plugin name")
	}
}
