package lifecycle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/metrics"
	"github.com/pingsix/pingsix/internal/proxy"
	"github.com/pingsix/pingsix/internal/router"

	_ "github.com/pingsix/pingsix/internal/plugin/plugins"
)

func newOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *router.Router, *catalog.Registry) {
	t.Helper()

	reg := catalog.New()
	if err := reg.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}

	rt := router.New()
	rt.Reset(reg.Snapshot().Routes)

	px := proxy.New(proxy.Config{})
	o := New(reg, rt, px, metrics.NewCollector())
	return o, rt, reg
}

func TestOrchestratorProxiesMatchedRoute(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer backend.Close()

	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: backend.URL, Weight: 1}}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/hello", Upstream: "up1"}},
	}
	o, _, _ := newOrchestrator(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestOrchestratorReturns404ForNoRouteMatch(t *testing.T) {
	o, _, _ := newOrchestrator(t, &config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOrchestratorReturns405ForMethodMismatch(t *testing.T) {
	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: "http://127.0.0.1:1", Weight: 1}}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/hello", Upstream: "up1", Methods: []string{"POST"}}},
	}
	o, _, _ := newOrchestrator(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestOrchestratorReturns503WhenNoHealthyBackend(t *testing.T) {
	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/hello", Upstream: "up1"}},
	}
	o, _, _ := newOrchestrator(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOrchestratorRebuildPicksUpNewRoute(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	o, rt, reg := newOrchestrator(t, &config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/added", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before reload, got %d", rec.Code)
	}

	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: backend.URL, Weight: 1}}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/added", Upstream: "up1"}},
	}
	if err := reg.Reload(cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}
	rt.Reset(reg.Snapshot().Routes)
	o.Rebuild()

	rec = httptest.NewRecorder()
	o.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after reload, got %d", rec.Code)
	}
}

func TestOrchestratorResponseBodyFilterServesAndStoresCache(t *testing.T) {
	hits := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("cached-body"))
	}))
	defer backend.Close()

	cacheCfg, _ := json.Marshal(map[string]any{"ttl": "1m"})
	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: backend.URL, Weight: 1}}},
		},
		Routes: []config.RouteConfig{{
			ID:       "r1",
			Path:     "/cached",
			Upstream: "up1",
			Plugins:  config.PluginConfig{"proxy-cache": cacheCfg},
		}},
	}
	o, _, _ := newOrchestrator(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/cached", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "cached-body" {
		t.Fatalf("unexpected first response: %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("expected X-Cache: MISS on first response, got %q", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/cached", nil)
	rec2 := httptest.NewRecorder()
	o.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK || rec2.Body.String() != "cached-body" {
		t.Fatalf("unexpected second response: %d %q", rec2.Code, rec2.Body.String())
	}
	if got := rec2.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("expected X-Cache: HIT on second response, got %q", got)
	}
	if hits != 1 {
		t.Fatalf("expected backend to be hit once, got %d", hits)
	}
}

func TestOrchestratorRequestRuleBlocksMatchingRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: backend.URL, Weight: 1}}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/blocked", Upstream: "up1"}},
		Rules: config.RulesConfig{
			Request: []config.RuleConfig{{
				ID:         "block-admin",
				Expression: `http.request.uri.path == "/blocked"`,
				Action:     "block",
				StatusCode: 403,
			}},
		},
	}
	o, _, _ := newOrchestrator(t, cfg)
	if err := o.SetRules(cfg.Rules); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/blocked", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestOrchestratorResponseRuleSetsHeader(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"up1": {Backends: []config.BackendConfig{{URL: backend.URL, Weight: 1}}},
		},
		Routes: []config.RouteConfig{{ID: "r1", Path: "/tagged", Upstream: "up1"}},
		Rules: config.RulesConfig{
			Response: []config.RuleConfig{{
				ID:         "tag-response",
				Expression: `http.response.code == 200`,
				Action:     "set_headers",
				Headers:    config.HeaderTransform{Set: map[string]string{"X-Rule": "matched"}},
			}},
		},
	}
	o, _, _ := newOrchestrator(t, cfg)
	if err := o.SetRules(cfg.Rules); err != nil {
		t.Fatalf("SetRules: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/tagged", nil)
	rec := httptest.NewRecorder()
	o.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Rule"); got != "matched" {
		t.Fatalf("expected X-Rule: matched, got %q", got)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", rec.Body.String())
	}
}
