package catalog

import (
	"testing"
	"time"

	"github.com/pingsix/pingsix/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: "http://127.0.0.1:9001", Weight: 1}}},
		},
		Routes: []config.RouteConfig{
			{ID: "r1", Path: "/foo", Upstream: "up1"},
		},
	}
}

func TestRegistryReloadAndSnapshot(t *testing.T) {
	r := New()
	if err := r.Reload(baseConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := r.Snapshot()
	if len(snap.Routes) != 1 {
		t.Fatalf("expected 1 route, got %d", len(snap.Routes))
	}
	if len(snap.Upstreams) != 1 {
		t.Fatalf("expected 1 upstream, got %d", len(snap.Upstreams))
	}
	route := snap.Routes["r1"]
	if route.ResolvedUpstreamID() != "up1" {
		t.Errorf("expected resolved upstream up1, got %s", route.ResolvedUpstreamID())
	}
}

func TestRegistryReloadRejectsUnknownUpstream(t *testing.T) {
	r := New()
	cfg := &config.Config{
		Routes: []config.RouteConfig{{ID: "r1", Path: "/foo", Upstream: "missing"}},
	}
	if err := r.Reload(cfg); err == nil {
		t.Fatal("expected an error for an unresolved upstream reference")
	}
	if len(r.Snapshot().Routes) != 0 {
		t.Error("expected the catalog to remain empty after a rejected reload")
	}
}

func TestRegistryReloadBuildsInlineUpstreamForEmbeddedBackends(t *testing.T) {
	r := New()
	cfg := &config.Config{
		Routes: []config.RouteConfig{{
			ID:       "r1",
			Path:     "/foo",
			Backends: []config.BackendConfig{{URL: "http://127.0.0.1:9002", Weight: 1}},
		}},
	}
	if err := r.Reload(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route := r.Snapshot().Routes["r1"]
	upID := route.ResolvedUpstreamID()
	if upID == "" {
		t.Fatal("expected a synthetic upstream id for embedded backends")
	}
	if _, ok := r.Upstream(upID); !ok {
		t.Fatalf("expected synthetic upstream %q to exist", upID)
	}
}

func TestRegistrySubscribeReceivesEvents(t *testing.T) {
	r := New()
	ch := r.Subscribe()

	if err := r.Reload(baseConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seenRoute := false
	deadline := time.After(time.Second)
	for !seenRoute {
		select {
		case ev := <-ch:
			if ev.Entity == EntityRoute && ev.Kind == EventAdded && ev.ID == "r1" {
				seenRoute = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for route-added event")
		}
	}
}

func TestRegistryReloadResolvesServiceChain(t *testing.T) {
	r := New()
	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: "http://127.0.0.1:9003", Weight: 1}}},
		},
		Services: []config.ServiceDefConfig{
			{ID: "svc1", UpstreamID: "up1", Plugins: config.PluginConfig{"cors": []byte(`{}`)}},
		},
		Routes: []config.RouteConfig{
			{ID: "r1", Path: "/foo", ServiceID: "svc1", Plugins: config.PluginConfig{"request-id": []byte(`{}`)}},
		},
	}
	if err := r.Reload(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route := r.Snapshot().Routes["r1"]
	if route.Service == nil || route.Service.ID != "svc1" {
		t.Fatal("expected route to resolve its service")
	}
	if route.ResolvedUpstreamID() != "up1" {
		t.Errorf("expected upstream resolved via service, got %s", route.ResolvedUpstreamID())
	}
	merged := route.MergedPlugins()
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged plugins (route + service), got %d", len(merged))
	}
}
