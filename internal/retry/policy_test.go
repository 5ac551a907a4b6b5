package retry

import (
	"testing"
	"time"

	"github.com/pingsix/pingsix/internal/config"
)

func TestNewPolicy(t *testing.T) {
	cfg := config.RetryConfig{
		MaxAttempts:       3,
		TotalBudget:       2 * time.Second,
		PerTryTimeout:     200 * time.Millisecond,
		RetryableStatuses: []int{502, 504},
		RetryableMethods:  []string{"GET"},
	}
	p := NewPolicy(cfg)

	if p.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts 3, got %d", p.MaxAttempts)
	}
	if !p.RetryableStatuses[502] || !p.RetryableStatuses[504] {
		t.Errorf("expected configured retryable statuses to be set")
	}
	if !p.RetryableMethods["GET"] {
		t.Errorf("expected GET to be retryable")
	}
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(config.RetryConfig{})

	if p.MaxAttempts != 1 {
		t.Errorf("expected default MaxAttempts 1, got %d", p.MaxAttempts)
	}
	for _, s := range DefaultRetryableStatuses {
		if !p.RetryableStatuses[s] {
			t.Errorf("expected default retryable status %d", s)
		}
	}
	for _, m := range DefaultRetryableMethods {
		if !p.RetryableMethods[m] {
			t.Errorf("expected default retryable method %s", m)
		}
	}
}

func TestPolicy_ShouldRetry_RespectsMaxAttempts(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 2})
	a := p.NewAttemptSequence(nil)

	if !p.ShouldRetry(a, "GET", 503, nil, nil) {
		t.Fatalf("expected retry to be allowed on attempt 1 of 2")
	}
	a = p.Advance(a, nil)
	if p.ShouldRetry(a, "GET", 503, nil, nil) {
		t.Fatalf("expected no retry once MaxAttempts is reached")
	}
}

func TestPolicy_ShouldRetry_NonRetryableStatus(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 5})
	a := p.NewAttemptSequence(nil)

	if p.ShouldRetry(a, "GET", 200, nil, nil) {
		t.Fatalf("expected no retry for a successful response")
	}
	if p.ShouldRetry(a, "GET", 404, nil, nil) {
		t.Fatalf("expected no retry for a non-retryable status")
	}
}

func TestPolicy_ShouldRetry_NonRetryableMethod(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 5})
	a := p.NewAttemptSequence(nil)

	if p.ShouldRetry(a, "POST", 503, nil, nil) {
		t.Fatalf("expected no retry for a non-idempotent method")
	}
}

func TestPolicy_ShouldRetry_OnTransportError(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 3, RetryableMethods: []string{"POST"}})
	a := p.NewAttemptSequence(nil)

	if !p.ShouldRetry(a, "POST", 0, errConnRefused, nil) {
		t.Fatalf("expected retry on transport error regardless of status")
	}
}

func TestPolicy_ShouldRetry_RespectsTotalBudget(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 10, TotalBudget: 10 * time.Millisecond})
	a := p.NewAttemptSequence(nil)
	time.Sleep(20 * time.Millisecond)

	if p.ShouldRetry(a, "GET", 503, nil, nil) {
		t.Fatalf("expected no retry once the total budget deadline has passed")
	}
}

func TestPolicy_ShouldRetry_RespectsRetryBudget(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 10})
	budget := NewBudget(0, 0, time.Second) // ratio 0: never allow retries
	a := p.NewAttemptSequence(budget)

	if p.ShouldRetry(a, "GET", 503, nil, budget) {
		t.Fatalf("expected retry budget to reject the retry")
	}
}

func TestPolicy_PerTryDeadline_PicksEarliest(t *testing.T) {
	p := NewPolicy(config.RetryConfig{MaxAttempts: 3, TotalBudget: time.Hour, PerTryTimeout: time.Millisecond})
	a := p.NewAttemptSequence(nil)

	deadline, ok := p.PerTryDeadline(a)
	if !ok {
		t.Fatalf("expected a per-try deadline")
	}
	if deadline.After(a.StartedAt.Add(time.Second)) {
		t.Fatalf("expected the per-try timeout, not the much larger total budget, to bound the deadline")
	}
}

func TestPolicy_RecordOutcome(t *testing.T) {
	p := NewPolicy(config.RetryConfig{})
	p.RecordOutcome(true)
	p.RecordOutcome(false)

	snap := p.Metrics.Snapshot()
	if snap.Successes != 1 || snap.Failures != 1 {
		t.Errorf("expected 1 success and 1 failure, got %+v", snap)
	}
}

type fakeConnErr struct{}

func (fakeConnErr) Error() string { return "connection refused" }

var errConnRefused error = fakeConnErr{}
