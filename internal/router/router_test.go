package router

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
)

func route(rc config.RouteConfig) *catalog.Route {
	return &catalog.Route{ID: rc.ID, Config: rc}
}

func TestRouterMatch(t *testing.T) {
	r := New()

	r.AddRoute(route(config.RouteConfig{
		ID:         "users",
		Path:       "/api/v1/users",
		PathPrefix: true,
	}))
	r.AddRoute(route(config.RouteConfig{
		ID:         "orders",
		Path:       "/api/v1/orders",
		PathPrefix: false,
	}))
	r.AddRoute(route(config.RouteConfig{
		ID:         "user-detail",
		Path:       "/api/v1/users/{id}",
		PathPrefix: false,
	}))

	tests := []struct {
		name       string
		path       string
		method     string
		wantRoute  string
		wantParams map[string]string
	}{
		{name: "exact match", path: "/api/v1/orders", method: "GET", wantRoute: "orders"},
		{name: "prefix match with subpath", path: "/api/v1/users/123/profile", method: "GET", wantRoute: "users"},
		{name: "prefix match root", path: "/api/v1/users", method: "GET", wantRoute: "users"},
		{name: "param route match", path: "/api/v1/users/123", method: "GET", wantRoute: "user-detail", wantParams: map[string]string{"id": "123"}},
		{name: "no match", path: "/api/v2/products", method: "GET", wantRoute: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			result := r.Match(req)

			if tt.wantRoute == "" {
				if result.Match != nil {
					t.Errorf("expected no match, got route %s", result.Match.Route.ID)
				}
				return
			}

			if result.Match == nil {
				t.Errorf("expected match for route %s, got nil", tt.wantRoute)
				return
			}
			if result.Match.Route.ID != tt.wantRoute {
				t.Errorf("expected route %s, got %s", tt.wantRoute, result.Match.Route.ID)
			}
			for k, v := range tt.wantParams {
				if result.Match.PathParams[k] != v {
					t.Errorf("expected param %s=%s, got %s", k, v, result.Match.PathParams[k])
				}
			}
		})
	}
}

func TestRouterPriorityOverridesPatternTier(t *testing.T) {
	r := New()

	// A low-priority static route and a high-priority catch-all route both
	// match "/special". Priority is primary in the sort order, so the
	// catch-all must win despite being the less specific pattern.
	r.AddRoute(route(config.RouteConfig{
		ID:       "static-special",
		Path:     "/special",
		Priority: 1,
	}))
	r.AddRoute(route(config.RouteConfig{
		ID:         "catchall-root",
		Path:       "/",
		PathPrefix: true,
		Priority:   100,
	}))

	req := httptest.NewRequest("GET", "/special", nil)
	result := r.Match(req)
	if result.Match == nil {
		t.Fatal("expected a match, got nil")
	}
	if result.Match.Route.ID != "catchall-root" {
		t.Errorf("expected high-priority catch-all to win, got %s", result.Match.Route.ID)
	}

	// With priorities reversed, the static route should win on pattern
	// specificity once priority no longer distinguishes them.
	r2 := New()
	r2.AddRoute(route(config.RouteConfig{
		ID:       "static-special",
		Path:     "/special",
		Priority: 1,
	}))
	r2.AddRoute(route(config.RouteConfig{
		ID:         "catchall-root",
		Path:       "/",
		PathPrefix: true,
		Priority:   1,
	}))

	result2 := r2.Match(httptest.NewRequest("GET", "/special", nil))
	if result2.Match == nil {
		t.Fatal("expected a match, got nil")
	}
	if result2.Match.Route.ID != "static-special" {
		t.Errorf("expected static route to win on specificity when priorities tie, got %s", result2.Match.Route.ID)
	}
}

func TestRouterMethodFiltering(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:      "get-only",
		Path:    "/api/readonly",
		Methods: []string{"GET"},
	}))

	req := httptest.NewRequest("GET", "/api/readonly", nil)
	if r.Match(req).Match == nil {
		t.Error("GET request should match")
	}

	req = httptest.NewRequest("POST", "/api/readonly", nil)
	result := r.Match(req)
	if result.Match != nil {
		t.Error("POST request should not match")
	}
	if !result.MethodNotAllowed {
		t.Error("POST request should be reported as method not allowed")
	}
}

func TestPathParamNormalization(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "param-route", Path: "/users/{id}/posts/{post_id}"}))

	req := httptest.NewRequest("GET", "/users/123/posts/456", nil)
	result := r.Match(req)
	if result.Match == nil {
		t.Fatal("expected match")
	}
	if result.Match.PathParams["id"] != "123" {
		t.Errorf("expected id=123, got %s", result.Match.PathParams["id"])
	}
	if result.Match.PathParams["post_id"] != "456" {
		t.Errorf("expected post_id=456, got %s", result.Match.PathParams["post_id"])
	}
}

func TestPrefixMatch(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "prefix", Path: "/api/v1", PathPrefix: true}))

	tests := []struct {
		path  string
		match bool
	}{
		{"/api/v1", true},
		{"/api/v1/users", true},
		{"/api/v1/users/123", true},
		{"/api/v2", false},
		{"/api", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			got := r.Match(req).Match != nil
			if got != tt.match {
				t.Errorf("Match(%s) = %v, want %v", tt.path, got, tt.match)
			}
		})
	}
}

func TestRouteRemove(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "test", Path: "/test"}))

	req := httptest.NewRequest("GET", "/test", nil)
	if r.Match(req).Match == nil {
		t.Error("route should exist")
	}

	r.RemoveRoute("test")

	if r.Match(req).Match != nil {
		t.Error("route should be removed")
	}
}

func TestDomainMatchExact(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "api-route",
		Path: "/data",
		Match: config.MatchConfig{
			Domains: []string{"api.example.com"},
		},
	}))

	req := httptest.NewRequest("GET", "http://api.example.com/data", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for exact domain")
	}

	req = httptest.NewRequest("GET", "http://other.example.com/data", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match wrong domain")
	}
}

func TestDomainMatchViaHostField(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "host-route", Path: "/data", Host: "api.example.com"}))

	req := httptest.NewRequest("GET", "http://api.example.com/data", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match via top-level Host field")
	}

	req = httptest.NewRequest("GET", "http://other.example.com/data", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match wrong host")
	}
}

func TestDomainMatchWildcard(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "wildcard-route",
		Path: "/data",
		Match: config.MatchConfig{
			Domains: []string{"*.example.com"},
		},
	}))

	req := httptest.NewRequest("GET", "http://api.example.com/data", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for wildcard domain")
	}

	req = httptest.NewRequest("GET", "http://web.example.com/data", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for wildcard domain (web)")
	}

	req = httptest.NewRequest("GET", "http://api.other.com/data", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match different base domain")
	}
}

func TestHeaderMatchExact(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "v2-route",
		Path: "/api",
		Match: config.MatchConfig{
			Headers: []config.HeaderMatchConfig{{Name: "X-Version", Value: "v2"}},
		},
	}))

	req := httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Version", "v2")
	if r.Match(req).Match == nil {
		t.Error("expected match for exact header value")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match without header")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Version", "v1")
	if r.Match(req).Match != nil {
		t.Error("should not match wrong header value")
	}
}

func TestHeaderMatchPresent(t *testing.T) {
	r := New()
	boolTrue := true
	r.AddRoute(route(config.RouteConfig{
		ID:   "debug-route",
		Path: "/api",
		Match: config.MatchConfig{
			Headers: []config.HeaderMatchConfig{{Name: "X-Debug", Present: &boolTrue}},
		},
	}))

	req := httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Debug", "anything")
	if r.Match(req).Match == nil {
		t.Error("expected match for present header")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match without header")
	}
}

func TestHeaderMatchRegex(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "mobile-route",
		Path: "/api",
		Match: config.MatchConfig{
			Headers: []config.HeaderMatchConfig{{Name: "X-Client", Regex: "^mobile-.*"}},
		},
	}))

	req := httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Client", "mobile-ios")
	if r.Match(req).Match == nil {
		t.Error("expected match for regex header")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Client", "desktop")
	if r.Match(req).Match != nil {
		t.Error("should not match non-matching regex")
	}
}

func TestQueryMatchExact(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "json-route",
		Path: "/api",
		Match: config.MatchConfig{
			Query: []config.QueryMatchConfig{{Name: "format", Value: "json"}},
		},
	}))

	req := httptest.NewRequest("GET", "/api?format=json", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for exact query value")
	}

	req = httptest.NewRequest("GET", "/api?format=xml", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match wrong query value")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match missing query")
	}
}

func TestQueryMatchPresent(t *testing.T) {
	r := New()
	boolTrue := true
	r.AddRoute(route(config.RouteConfig{
		ID:   "verbose-route",
		Path: "/api",
		Match: config.MatchConfig{
			Query: []config.QueryMatchConfig{{Name: "verbose", Present: &boolTrue}},
		},
	}))

	req := httptest.NewRequest("GET", "/api?verbose=true", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for present query")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match missing query param")
	}
}

func TestQueryMatchRegex(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "fields-route",
		Path: "/api",
		Match: config.MatchConfig{
			Query: []config.QueryMatchConfig{{Name: "fields", Regex: "^[a-z,]+$"}},
		},
	}))

	req := httptest.NewRequest("GET", "/api?fields=name,email", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for regex query")
	}

	req = httptest.NewRequest("GET", "/api?fields=Name,123", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match non-matching regex query")
	}
}

func TestCookieMatchExact(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "beta-route",
		Path: "/app",
		Match: config.MatchConfig{
			Cookies: []config.CookieMatchConfig{{Name: "beta", Value: "true"}},
		},
	}))

	req := httptest.NewRequest("GET", "/app", nil)
	req.AddCookie(&http.Cookie{Name: "beta", Value: "true"})
	if r.Match(req).Match == nil {
		t.Error("expected match for exact cookie value")
	}

	req = httptest.NewRequest("GET", "/app", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match without cookie")
	}

	req = httptest.NewRequest("GET", "/app", nil)
	req.AddCookie(&http.Cookie{Name: "beta", Value: "false"})
	if r.Match(req).Match != nil {
		t.Error("should not match wrong cookie value")
	}
}

func TestCookieMatchPresent(t *testing.T) {
	r := New()
	boolTrue := true
	r.AddRoute(route(config.RouteConfig{
		ID:   "tracked-route",
		Path: "/app",
		Match: config.MatchConfig{
			Cookies: []config.CookieMatchConfig{{Name: "session", Present: &boolTrue}},
		},
	}))

	req := httptest.NewRequest("GET", "/app", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc123"})
	if r.Match(req).Match == nil {
		t.Error("expected match for present cookie")
	}

	req = httptest.NewRequest("GET", "/app", nil)
	if r.Match(req).Match != nil {
		t.Error("should not match without cookie")
	}
}

func TestCookieMatchPresentFalse(t *testing.T) {
	r := New()
	boolFalse := false
	r.AddRoute(route(config.RouteConfig{
		ID:   "no-session-route",
		Path: "/app",
		Match: config.MatchConfig{
			Cookies: []config.CookieMatchConfig{{Name: "session", Present: &boolFalse}},
		},
	}))

	req := httptest.NewRequest("GET", "/app", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match when cookie is absent and present: false")
	}

	req = httptest.NewRequest("GET", "/app", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc"})
	if r.Match(req).Match != nil {
		t.Error("should not match when cookie exists and present: false")
	}
}

func TestCookieMatchRegex(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "ab-route",
		Path: "/app",
		Match: config.MatchConfig{
			Cookies: []config.CookieMatchConfig{{Name: "variant", Regex: "^(group-a|group-b)$"}},
		},
	}))

	req := httptest.NewRequest("GET", "/app", nil)
	req.AddCookie(&http.Cookie{Name: "variant", Value: "group-a"})
	if r.Match(req).Match == nil {
		t.Error("expected match for regex cookie")
	}

	req = httptest.NewRequest("GET", "/app", nil)
	req.AddCookie(&http.Cookie{Name: "variant", Value: "group-c"})
	if r.Match(req).Match != nil {
		t.Error("should not match non-matching regex cookie")
	}
}

func TestMultiRouteSpecificity(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "fallback", Path: "/api"}))
	r.AddRoute(route(config.RouteConfig{
		ID:   "domain-specific",
		Path: "/api",
		Match: config.MatchConfig{
			Domains: []string{"api.example.com"},
		},
	}))

	req := httptest.NewRequest("GET", "http://api.example.com/api", nil)
	result := r.Match(req)
	if result.Match == nil {
		t.Fatal("expected match")
	}
	if result.Match.Route.ID != "domain-specific" {
		t.Errorf("expected domain-specific, got %s", result.Match.Route.ID)
	}

	req = httptest.NewRequest("GET", "http://other.com/api", nil)
	result = r.Match(req)
	if result.Match == nil {
		t.Fatal("expected match")
	}
	if result.Match.Route.ID != "fallback" {
		t.Errorf("expected fallback, got %s", result.Match.Route.ID)
	}
}

func TestSpecificityExactDomainBeatsWildcard(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "wildcard",
		Path: "/api",
		Match: config.MatchConfig{
			Domains: []string{"*.example.com"},
		},
	}))
	r.AddRoute(route(config.RouteConfig{
		ID:   "exact",
		Path: "/api",
		Match: config.MatchConfig{
			Domains: []string{"api.example.com"},
		},
	}))

	req := httptest.NewRequest("GET", "http://api.example.com/api", nil)
	result := r.Match(req)
	if result.Match == nil || result.Match.Route.ID != "exact" {
		t.Errorf("expected exact route to win")
	}

	req = httptest.NewRequest("GET", "http://web.example.com/api", nil)
	result = r.Match(req)
	if result.Match == nil || result.Match.Route.ID != "wildcard" {
		t.Errorf("expected wildcard route to win")
	}
}

func TestSpecificityHeadersAddScore(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "default", Path: "/api"}))
	r.AddRoute(route(config.RouteConfig{
		ID:   "versioned",
		Path: "/api",
		Match: config.MatchConfig{
			Headers: []config.HeaderMatchConfig{{Name: "X-Version", Value: "v2"}},
		},
	}))

	req := httptest.NewRequest("GET", "/api", nil)
	req.Header.Set("X-Version", "v2")
	result := r.Match(req)
	if result.Match == nil || result.Match.Route.ID != "versioned" {
		t.Errorf("expected versioned route")
	}

	req = httptest.NewRequest("GET", "/api", nil)
	result = r.Match(req)
	if result.Match == nil || result.Match.Route.ID != "default" {
		t.Errorf("expected default route")
	}
}

func TestGetRoutes(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "a", Path: "/a"}))
	r.AddRoute(route(config.RouteConfig{ID: "b", Path: "/b"}))

	if len(r.GetRoutes()) != 2 {
		t.Errorf("expected 2 routes, got %d", len(r.GetRoutes()))
	}
}

func TestReplaceParams(t *testing.T) {
	tests := []struct{ input, expected string }{
		{"/users/{id}", "/users/:id"},
		{"/users/{id}/posts/{post_id}", "/users/:id/posts/:post_id"},
		{"/static/path", "/static/path"},
		{"/{a}/{b}/{c}", "/:a/:b/:c"},
	}
	for _, tt := range tests {
		if got := replaceParams(tt.input); got != tt.expected {
			t.Errorf("replaceParams(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path     string
		expected int
	}{
		{"/", 0},
		{"/users", 1},
		{"/users/123", 2},
		{"/api/v1/users", 3},
	}
	for _, tt := range tests {
		if got := splitPath(tt.path); len(got) != tt.expected {
			t.Errorf("splitPath(%q) returned %d segments, want %d", tt.path, len(got), tt.expected)
		}
	}
}

func TestMatchConfigDomainWithPort(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{
		ID:   "domain-port",
		Path: "/api",
		Match: config.MatchConfig{
			Domains: []string{"api.example.com"},
		},
	}))

	req := httptest.NewRequest("GET", "/api", nil)
	req.Host = "api.example.com:8080"
	if r.Match(req).Match == nil {
		t.Error("expected match for domain with port")
	}
}

func TestRootPath(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "root", Path: "/"}))

	req := httptest.NewRequest("GET", "/", nil)
	if r.Match(req).Match == nil {
		t.Error("expected match for root path")
	}
}

func TestRootPrefixMatchesAll(t *testing.T) {
	r := New()
	r.AddRoute(route(config.RouteConfig{ID: "root-prefix", Path: "/", PathPrefix: true}))

	for _, p := range []string{"/", "/foo", "/foo/bar"} {
		req := httptest.NewRequest("GET", p, nil)
		if r.Match(req).Match == nil {
			t.Errorf("expected match for path %s with root prefix", p)
		}
	}
}

func TestRewritePathPrefix(t *testing.T) {
	r := &Route{
		Path:       "/api/v1",
		PathPrefix: true,
		Rewrite: config.RewriteConfig{
			Prefix: "/v2",
		},
	}

	tests := []struct{ input, want string }{
		{"/api/v1/users", "/v2/users"},
		{"/api/v1/users/123", "/v2/users/123"},
		{"/api/v1", "/v2"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := r.RewritePath(tt.input); got != tt.want {
				t.Errorf("RewritePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRewritePathRegex(t *testing.T) {
	r := &Route{
		Path: "/users",
		Rewrite: config.RewriteConfig{
			Regex:       `^/users/(\d+)/posts$`,
			Replacement: "/posts?uid=$1",
		},
	}
	r.rewriteRegex = regexp.MustCompile(r.Rewrite.Regex)

	tests := []struct{ input, want string }{
		{"/users/42/posts", "/posts?uid=42"},
		{"/users/999/posts", "/posts?uid=999"},
		{"/users/42/comments", "/users/42/comments"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := r.RewritePath(tt.input); got != tt.want {
				t.Errorf("RewritePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRewritePathNoRewrite(t *testing.T) {
	r := &Route{Path: "/api"}
	input := "/api/test"
	if got := r.RewritePath(input); got != input {
		t.Errorf("RewritePath(%q) = %q, want passthrough %q", input, got, input)
	}
}

func TestHasRewriteRegex(t *testing.T) {
	r := &Route{Path: "/api"}
	if r.HasRewriteRegex() {
		t.Error("expected HasRewriteRegex() = false for route without regex")
	}
	r.rewriteRegex = regexp.MustCompile(`^/test$`)
	if !r.HasRewriteRegex() {
		t.Error("expected HasRewriteRegex() = true for route with regex")
	}
}

func TestAddRouteCompilesRewriteRegex(t *testing.T) {
	rt := New()
	rt.AddRoute(route(config.RouteConfig{
		ID:   "rewrite-regex",
		Path: "/api",
		Rewrite: config.RewriteConfig{
			Regex:       `^/api/(\d+)$`,
			Replacement: "/v2/$1",
		},
	}))

	got := rt.GetRoute("rewrite-regex")
	if got == nil {
		t.Fatal("route not found")
	}
	if !got.HasRewriteRegex() {
		t.Error("expected rewrite regex to be compiled in AddRoute")
	}
}

func BenchmarkRouterMatch(b *testing.B) {
	r := New()
	for i := 0; i < 100; i++ {
		r.AddRoute(route(config.RouteConfig{
			ID:         fmt.Sprintf("route-%d", i),
			Path:       fmt.Sprintf("/api/v1/service%d", i),
			PathPrefix: true,
		}))
	}

	req, _ := http.NewRequest("GET", "/api/v1/service50/users/123", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Match(req)
	}
}

func BenchmarkRouterMatchWithMatchers(b *testing.B) {
	r := New()
	for i := 0; i < 100; i++ {
		r.AddRoute(route(config.RouteConfig{
			ID:   fmt.Sprintf("route-%d", i),
			Path: "/api",
			Match: config.MatchConfig{
				Domains: []string{fmt.Sprintf("svc%d.example.com", i)},
			},
		}))
	}

	req, _ := http.NewRequest("GET", "http://svc50.example.com/api", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Match(req)
	}
}
