package rules

import (
	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/logging"
)

// Result is the outcome of evaluating a single rule.
type Result struct {
	Matched    bool
	Terminated bool
	Action     Action
	RuleID     string
}

// Engine holds the compiled request and response rule chains of
// Config.Rules, evaluated once per request by lifecycle.Orchestrator ahead
// of (request phase) and after (response phase) its per-route plugin
// pipeline.
type Engine struct {
	requestRules  []*CompiledRule
	responseRules []*CompiledRule
	metrics       *Metrics
}

// NewEngine compiles every request and response rule in cfg. Compilation
// failure for any single rule fails the whole reload, the same way an
// invalid route or upstream does in catalog.Registry.Reload.
func NewEngine(cfg config.RulesConfig) (*Engine, error) {
	e := &Engine{metrics: NewMetrics()}

	for _, rc := range cfg.Request {
		cr, err := CompileRequestRule(rc)
		if err != nil {
			return nil, err
		}
		e.requestRules = append(e.requestRules, cr)
	}

	for _, rc := range cfg.Response {
		cr, err := CompileResponseRule(rc)
		if err != nil {
			return nil, err
		}
		e.responseRules = append(e.responseRules, cr)
	}

	return e, nil
}

// EvaluateRequest evaluates request-phase rules in order, stopping on the
// first terminating match.
func (e *Engine) EvaluateRequest(env RequestEnv) []Result {
	return e.evaluate(e.requestRules, env)
}

// EvaluateResponse evaluates response-phase rules in order, stopping on the
// first terminating match.
func (e *Engine) EvaluateResponse(env ResponseEnv) []Result {
	return e.evaluate(e.responseRules, env)
}

func (e *Engine) evaluate(rules []*CompiledRule, env any) []Result {
	var results []Result

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		e.metrics.Evaluated.Add(1)

		matched, err := rule.Evaluate(env)
		if err != nil {
			e.metrics.Errors.Add(1)
			logging.Error("rule evaluation error", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if !matched {
			continue
		}

		e.metrics.Matched.Add(1)
		terminated := IsTerminating(rule.Action)
		if terminated {
			e.metrics.Blocked.Add(1)
		}
		if rule.Action.Type == "log" {
			e.metrics.Logged.Add(1)
		}
		if !terminated {
			e.metrics.IncrAction(rule.Action.Type)
		}

		results = append(results, Result{
			Matched:    true,
			Terminated: terminated,
			Action:     rule.Action,
			RuleID:     rule.ID,
		})

		if terminated {
			break
		}
	}

	return results
}

// HasRequestRules reports whether any request-phase rule is configured.
func (e *Engine) HasRequestRules() bool {
	return len(e.requestRules) > 0
}

// HasResponseRules reports whether any response-phase rule is configured.
func (e *Engine) HasResponseRules() bool {
	return len(e.responseRules) > 0
}

// Metrics returns a snapshot of the engine's evaluation counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// RuleInfo is the admin-facing view of one compiled rule.
type RuleInfo struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
	Action     string `json:"action"`
	Enabled    bool   `json:"enabled"`
}

// RequestRuleInfos returns metadata about every request-phase rule.
func (e *Engine) RequestRuleInfos() []RuleInfo {
	return ruleInfos(e.requestRules)
}

// ResponseRuleInfos returns metadata about every response-phase rule.
func (e *Engine) ResponseRuleInfos() []RuleInfo {
	return ruleInfos(e.responseRules)
}

func ruleInfos(rules []*CompiledRule) []RuleInfo {
	infos := make([]RuleInfo, len(rules))
	for i, r := range rules {
		infos[i] = RuleInfo{
			ID:         r.ID,
			Expression: r.Expression,
			Action:     r.Action.Type,
			Enabled:    r.Enabled,
		}
	}
	return infos
}

// Stats is the admin API view of the engine's current state.
type Stats struct {
	RequestRules  []RuleInfo      `json:"request_rules"`
	ResponseRules []RuleInfo      `json:"response_rules"`
	Metrics       MetricsSnapshot `json:"metrics"`
}

// Snapshot returns the engine's admin-facing state in one call.
func (e *Engine) Snapshot() Stats {
	return Stats{
		RequestRules:  e.RequestRuleInfos(),
		ResponseRules: e.ResponseRuleInfos(),
		Metrics:       e.Metrics(),
	}
}
