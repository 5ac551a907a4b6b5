package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-ticker.C:
		case <-deadline:
			t.Fatal("condition not met before timeout")
		}
	}
}

func TestSupervisorMarksBackendUnhealthyThenHealthy(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	reg := catalog.New()
	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {
				Backends: []config.BackendConfig{{URL: srv.URL, Weight: 1}},
				HealthCheck: &config.HealthCheckConfig{
					Path:           "/health",
					Interval:       20 * time.Millisecond,
					Timeout:        time.Second,
					HealthyAfter:   1,
					UnhealthyAfter: 1,
				},
			},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/foo", Upstream: "up1"}},
	}
	if err := reg.Reload(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sup := NewSupervisor(reg, config.HealthCheckConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	up, _ := reg.Upstream("up1")
	waitFor(t, time.Second, func() bool { return up.Balancer.HealthyCount() == 1 })

	healthy = false
	waitFor(t, time.Second, func() bool { return up.Balancer.HealthyCount() == 0 })

	healthy = true
	waitFor(t, time.Second, func() bool { return up.Balancer.HealthyCount() == 1 })
}

func TestSupervisorSkipsUpstreamsWithNoHealthCheck(t *testing.T) {
	reg := catalog.New()
	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: "http://127.0.0.1:1", Weight: 1}}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/foo", Upstream: "up1"}},
	}
	if err := reg.Reload(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sup := NewSupervisor(reg, config.HealthCheckConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	up, _ := reg.Upstream("up1")
	if up.Balancer.HealthyCount() != 1 {
		t.Fatalf("expected backend to remain healthy (no active check declared), got count %d", up.Balancer.HealthyCount())
	}
}

func TestSupervisorRemovesProbeOnUpstreamRemoval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := catalog.New()
	withUpstream := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {
				Backends: []config.BackendConfig{{URL: srv.URL, Weight: 1}},
				HealthCheck: &config.HealthCheckConfig{
					Interval: 20 * time.Millisecond, HealthyAfter: 1, UnhealthyAfter: 1,
				},
			},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/foo", Upstream: "up1"}},
	}
	if err := reg.Reload(withUpstream); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sup := NewSupervisor(reg, config.HealthCheckConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	waitFor(t, time.Second, func() bool {
		return sup.http.GetStatus(srv.URL) == StatusHealthy
	})

	if err := reg.Reload(&config.Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, tracked := sup.http.GetBackendConfig(srv.URL)
		return !tracked
	})
}
