package retry

import (
	"bytes"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pingsix/pingsix/internal/config"
)

// BufferBody reads and replaces r.Body with a rewindable buffer so it can be
// replayed against a freshly selected peer on each retry attempt.
func BufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	b, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	return b, nil
}

// DefaultRetryableStatuses are HTTP status codes that trigger a retry.
var DefaultRetryableStatuses = []int{502, 503, 504}

// DefaultRetryableMethods are HTTP methods safe to retry.
var DefaultRetryableMethods = []string{"GET", "HEAD", "OPTIONS"}

// Policy governs how many attempts a request gets and how long the overall
// attempt sequence may run. Unlike a transport-level retry loop, a Policy
// does not perform the retry itself: the lifecycle orchestrator re-selects
// a peer from the balancer on every attempt and calls Policy only to decide
// whether another attempt is permitted.
type Policy struct {
	MaxAttempts       int
	TotalBudget       time.Duration
	PerTryTimeout     time.Duration
	RetryableStatuses map[int]bool
	RetryableMethods  map[string]bool
	Metrics           *RouteRetryMetrics
}

// RouteRetryMetrics tracks retry statistics for a route.
type RouteRetryMetrics struct {
	Requests  atomic.Int64
	Attempts  atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *RouteRetryMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:  m.Requests.Load(),
		Attempts:  m.Attempts.Load(),
		Successes: m.Successes.Load(),
		Failures:  m.Failures.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of retry metrics.
type MetricsSnapshot struct {
	Requests  int64 `json:"requests"`
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// NewPolicy creates a retry policy from config. MaxAttempts counts the
// first try, so MaxAttempts=1 means no retries.
func NewPolicy(cfg config.RetryConfig) *Policy {
	p := &Policy{
		MaxAttempts:   cfg.MaxAttempts,
		TotalBudget:   cfg.TotalBudget,
		PerTryTimeout: cfg.PerTryTimeout,
		Metrics:       &RouteRetryMetrics{},
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	p.RetryableStatuses = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		p.RetryableStatuses[s] = true
	}

	methods := cfg.RetryableMethods
	if len(methods) == 0 {
		methods = DefaultRetryableMethods
	}
	p.RetryableMethods = make(map[string]bool, len(methods))
	for _, m := range methods {
		p.RetryableMethods[m] = true
	}

	return p
}

// Attempt describes the state of one attempt sequence, tracked by the
// lifecycle orchestrator across calls to the balancer and the proxy.
type Attempt struct {
	Number    int
	Deadline  time.Time
	StartedAt time.Time
}

// NewAttemptSequence starts tracking a fresh attempt sequence and records
// the incoming request against the budget.
func (p *Policy) NewAttemptSequence(budget *Budget) *Attempt {
	p.Metrics.Requests.Add(1)
	if budget != nil {
		budget.RecordRequest()
	}
	now := time.Now()
	a := &Attempt{Number: 1, StartedAt: now}
	if p.TotalBudget > 0 {
		a.Deadline = now.Add(p.TotalBudget)
	}
	return a
}

// PerTryDeadline returns the deadline for the current attempt, bounded by
// both PerTryTimeout and the sequence's total budget deadline, whichever is
// sooner. ok is false when there is no per-try bound.
func (p *Policy) PerTryDeadline(a *Attempt) (deadline time.Time, ok bool) {
	now := time.Now()
	if p.PerTryTimeout > 0 {
		deadline = now.Add(p.PerTryTimeout)
		ok = true
	}
	if !a.Deadline.IsZero() && (!ok || a.Deadline.Before(deadline)) {
		deadline = a.Deadline
		ok = true
	}
	return deadline, ok
}

// ShouldRetry decides whether another attempt should be made given the
// outcome of the current one. It consults the retryable method/status
// table, the remaining attempt count, the total budget deadline, and the
// route's retry Budget (if any).
func (p *Policy) ShouldRetry(a *Attempt, method string, statusCode int, err error, budget *Budget) bool {
	if err == nil && !p.isRetryableStatus(method, statusCode) {
		return false
	}
	if a.Number >= p.MaxAttempts {
		return false
	}
	if !a.Deadline.IsZero() && time.Now().After(a.Deadline) {
		return false
	}
	if budget != nil && !budget.AllowRetry() {
		return false
	}
	return true
}

// Advance records that a retry is being made and returns the next attempt.
func (p *Policy) Advance(a *Attempt, budget *Budget) *Attempt {
	p.Metrics.Attempts.Add(1)
	if budget != nil {
		budget.RecordRetry()
	}
	return &Attempt{Number: a.Number + 1, Deadline: a.Deadline, StartedAt: a.StartedAt}
}

// RecordOutcome finalizes the metrics for an attempt sequence.
func (p *Policy) RecordOutcome(success bool) {
	if success {
		p.Metrics.Successes.Add(1)
	} else {
		p.Metrics.Failures.Add(1)
	}
}

// isRetryableStatus reports whether the method+status combination is
// eligible for a retry.
func (p *Policy) isRetryableStatus(method string, statusCode int) bool {
	if !p.RetryableMethods[method] {
		return false
	}
	return p.RetryableStatuses[statusCode]
}
