// Package router implements spec.md §4.2's request matching: routes are
// grouped by registered httprouter path pattern (static segments and
// "{name}"/"{*name}" params resolve through httprouter's own radix tree).
// httprouter's tree gives at most one static/named-param candidate and
// each catch-all prefix group contributes at most one candidate; Match
// then ranks the full candidate set by declared priority (desc), path
// pattern specificity (desc, static > named-param > catch-all), matcher
// specificity (desc), and route id, so a catch-all declared at a high
// enough priority can still win over a colliding static route.
package router

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
)

// Route is the router's matchable view of a route. Fields mirror the
// subset of config.RouteConfig the proxy layer still consumes directly
// (timeout/retry/rewrite/transform policy); everything else a route needs —
// rate limiting, auth, CORS, compression, traffic splitting and so on — now
// lives behind internal/plugin's Pipeline, reached through Catalog's
// resolved upstream id and merged plugin map instead of a dedicated field
// here.
type Route struct {
	ID              string
	Priority        int
	Host            string
	Path            string
	PathPrefix      bool
	Methods         []string
	Match           config.MatchConfig
	Backends        []config.BackendConfig
	Upstream        string
	UpstreamName    string
	RetryPolicy     config.RetryConfig
	TimeoutPolicy   config.TimeoutConfig
	Timeout         time.Duration
	StripPrefix     bool
	Transform       config.TransformConfig
	Rewrite         config.RewriteConfig
	FollowRedirects config.FollowRedirectsConfig

	// Catalog is set when the route was registered through AddRoute from the
	// catalog registry; nil for routes built directly in tests.
	Catalog *catalog.Route

	// pathTier is the route's path pattern specificity, one character per
	// path segment ('2' static, '1' named-param, '0' catch-all), compared
	// lexicographically so static beats named-param beats catch-all at the
	// first differing segment, per spec.md §4.2 step 4.
	pathTier     string
	configIdx    int
	matcher      *CompiledMatcher
	rewriteRegex *regexp.Regexp
}

// outranks reports whether r should win a match over other when both match
// the same request: declared priority (desc), then path pattern specificity
// (desc), then matcher specificity (domain/header/query selectivity, desc),
// then route id as the final stable tie-break, per spec.md §4.2 step 4.
func (r *Route) outranks(other *Route) bool {
	if r.Priority != other.Priority {
		return r.Priority > other.Priority
	}
	if r.pathTier != other.pathTier {
		return r.pathTier > other.pathTier
	}
	rs, os := r.matcher.Specificity(), other.matcher.Specificity()
	if rs != os {
		return rs > os
	}
	return r.ID < other.ID
}

// pathTierOf scores a normalized (httprouter-syntax) path pattern's
// segments by match specificity: static segments are most specific, named
// params next, and a trailing catch-all least specific.
func pathTierOf(normalizedPath string) string {
	segments := splitPath(normalizedPath)
	tiers := make([]byte, len(segments))
	for i, seg := range segments {
		switch {
		case strings.HasPrefix(seg, "*"):
			tiers[i] = '0'
		case strings.HasPrefix(seg, ":"):
			tiers[i] = '1'
		default:
			tiers[i] = '2'
		}
	}
	return string(tiers)
}

// HasRewriteRegex reports whether this route has a compiled rewrite regex.
func (r *Route) HasRewriteRegex() bool { return r.rewriteRegex != nil }

// RewritePath applies the route's configured prefix or regex rewrite to a
// request path, passing it through unchanged if neither is configured.
func (r *Route) RewritePath(path string) string {
	if r.rewriteRegex != nil {
		return r.rewriteRegex.ReplaceAllString(path, r.Rewrite.Replacement)
	}
	if r.Rewrite.Prefix != "" {
		suffix := strings.TrimPrefix(path, r.Path)
		return singleJoinSlash(r.Rewrite.Prefix, suffix)
	}
	return path
}

// HasFullURLRewrite reports whether the route's rewrite prefix replaces the
// whole target (scheme+host+path) rather than just the path, signaled by an
// absolute URL in Rewrite.Prefix.
func (r *Route) HasFullURLRewrite() bool {
	return strings.Contains(r.Rewrite.Prefix, "://")
}

// ParseFullURLRewrite parses the absolute-URL rewrite target.
func (r *Route) ParseFullURLRewrite() (*url.URL, error) {
	return url.Parse(r.Rewrite.Prefix)
}

func singleJoinSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash && b != "":
		return a + "/" + b
	default:
		return a + b
	}
}

// Match represents a route match result.
type Match struct {
	Route      *Route
	PathParams map[string]string
}

// RouteGroup holds an ordered slice of candidate routes sharing a path
// pattern, sorted by priority (descending), then matcher specificity
// (descending), then route id as the final tie-breaker.
type RouteGroup struct {
	routes []*Route
}

func (rg *RouteGroup) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw, ok := w.(*captureWriter)
	if !ok {
		return
	}

	params := httprouter.ParamsFromContext(r.Context())
	pathParams := make(map[string]string, len(params))
	for _, p := range params {
		pathParams[p.Key] = p.Value
	}

	for _, route := range rg.routes {
		if route.matcher.Matches(r) {
			cw.match = &Match{Route: route, PathParams: pathParams}
			return
		}
		if route.matcher.MatchesMethodOnly(r) {
			cw.methodMismatch = true
		}
	}
}

func (rg *RouteGroup) addRoute(route *Route) {
	rg.routes = append(rg.routes, route)
	rg.resort()
}

func (rg *RouteGroup) resort() {
	sort.SliceStable(rg.routes, func(i, j int) bool {
		if rg.routes[i].Priority != rg.routes[j].Priority {
			return rg.routes[i].Priority > rg.routes[j].Priority
		}
		si, sj := rg.routes[i].matcher.Specificity(), rg.routes[j].matcher.Specificity()
		if si != sj {
			return si > sj
		}
		return rg.routes[i].ID < rg.routes[j].ID
	})
}

func (rg *RouteGroup) removeRoute(id string) bool {
	for i, route := range rg.routes {
		if route.ID == id {
			rg.routes = append(rg.routes[:i], rg.routes[i+1:]...)
			return true
		}
	}
	return false
}

// captureWriter is a no-op ResponseWriter used to extract the match result
// from httprouter dispatch without writing any actual HTTP response.
type captureWriter struct {
	match          *Match
	methodMismatch bool
	header         http.Header
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (cw *captureWriter) Header() http.Header       { return cw.header }
func (cw *captureWriter) Write([]byte) (int, error) { return 0, nil }
func (cw *captureWriter) WriteHeader(int)           {}

// prefixRoute holds a "{*name}" catch-all route with its compiled segments
// for matching, checked as a fallback after httprouter's static/param tree.
type prefixRoute struct {
	segments []string
	group    *RouteGroup
}

// Router handles spec.md §4.2 request matching: httprouter resolves the
// static/{name} tree and Router separately tracks {*name} catch-all
// groups, but neither tier automatically outranks the other — Match ranks
// every tier's candidates together by priority, then specificity, then id.
type Router struct {
	tree            *httprouter.Router
	groups          map[string]*RouteGroup
	prefixGroups    []*prefixRoute
	prefixByPath    map[string]*RouteGroup
	allRoutes       map[string]*Route
	mu              sync.RWMutex
	nextIdx         int
	registeredPaths map[string]bool
}

var standardMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// New creates an empty Router.
func New() *Router {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false

	return &Router{
		tree:            tree,
		groups:          make(map[string]*RouteGroup),
		prefixByPath:    make(map[string]*RouteGroup),
		allRoutes:       make(map[string]*Route),
		registeredPaths: make(map[string]bool),
	}
}

// AddRoute registers a catalog route for matching.
func (rt *Router) AddRoute(cr *catalog.Route) {
	rc := cr.Config

	route := &Route{
		ID:              cr.ID,
		Priority:        rc.Priority,
		Host:            rc.Host,
		Path:            rc.Path,
		PathPrefix:      rc.PathPrefix,
		Methods:         rc.Methods,
		Match:           rc.Match,
		Backends:        rc.Backends,
		Upstream:        rc.Upstream,
		UpstreamName:    cr.ResolvedUpstreamID(),
		RetryPolicy:     rc.RetryPolicy,
		TimeoutPolicy:   rc.TimeoutPolicy,
		Timeout:         rc.Timeout,
		StripPrefix:     rc.StripPrefix,
		Transform:       rc.Transform,
		Rewrite:         rc.Rewrite,
		FollowRedirects: rc.FollowRedirects,
		Catalog:         cr,
		matcher:         NewCompiledMatcher(rc.Match, rc.Methods, rc.Host),
		pathTier:        pathTierOf(replaceParams(rc.Path)),
	}
	if rc.Rewrite.Regex != "" {
		route.rewriteRegex = regexp.MustCompile(rc.Rewrite.Regex)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	route.configIdx = rt.nextIdx
	rt.nextIdx++

	if route.PathPrefix {
		rt.addPrefixRoute(route, route.Path)
	} else {
		rt.addExactRoute(route, route.Path)
	}
	rt.allRoutes[cr.ID] = route
}

// Reset clears and rebuilds the router from the given catalog routes,
// called after every catalog.Registry.Reload.
func (rt *Router) Reset(routes map[string]*catalog.Route) {
	next := New()
	for _, r := range routes {
		next.AddRoute(r)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.tree = next.tree
	rt.groups = next.groups
	rt.prefixGroups = next.prefixGroups
	rt.prefixByPath = next.prefixByPath
	rt.allRoutes = next.allRoutes
	rt.nextIdx = next.nextIdx
	rt.registeredPaths = next.registeredPaths
}

func (rt *Router) addExactRoute(route *Route, path string) {
	normalized := replaceParams(path)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	group, exists := rt.groups[normalized]
	if !exists {
		group = &RouteGroup{}
		rt.groups[normalized] = group

		for _, method := range standardMethods {
			key := method + " " + normalized
			if !rt.registeredPaths[key] {
				rt.tree.Handler(method, normalized, group)
				rt.registeredPaths[key] = true
			}
		}
	}
	group.addRoute(route)
}

func (rt *Router) addPrefixRoute(route *Route, path string) {
	normalized := replaceParams(path)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	group, exists := rt.groups[normalized]
	if !exists {
		group = &RouteGroup{}
		rt.groups[normalized] = group

		for _, method := range standardMethods {
			key := method + " " + normalized
			if !rt.registeredPaths[key] {
				rt.tree.Handler(method, normalized, group)
				rt.registeredPaths[key] = true
			}
		}
	}
	group.addRoute(route)

	prefixGroup, exists := rt.prefixByPath[normalized]
	if !exists {
		prefixGroup = &RouteGroup{}
		rt.prefixByPath[normalized] = prefixGroup

		segments := splitPath(normalized)
		rt.prefixGroups = append(rt.prefixGroups, &prefixRoute{segments: segments, group: prefixGroup})

		sort.Slice(rt.prefixGroups, func(i, j int) bool {
			return len(rt.prefixGroups[i].segments) > len(rt.prefixGroups[j].segments)
		})
	}
	prefixGroup.addRoute(route)
}

// MatchResult is Match plus the distinct no-match-vs-method-not-allowed
// outcome spec.md §4.2 requires the lifecycle orchestrator to surface as
// 404 vs 405.
type MatchResult struct {
	Match            *Match
	MethodNotAllowed bool
}

// Match finds a route matching the request. Per spec.md §4.2 step 4, the
// winner is chosen across the FULL candidate set — the static/named-param
// tree's best match plus every catch-all prefix group's best match — by
// priority (desc), then path/matcher specificity (desc), then route id.
// A catch-all declared with a high enough priority can therefore win over
// a colliding static or named-param route, and vice versa.
func (rt *Router) Match(r *http.Request) MatchResult {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var candidates []*Match
	methodMismatch := false

	cw := newCaptureWriter()
	rt.tree.ServeHTTP(cw, r)
	if cw.match != nil {
		candidates = append(candidates, cw.match)
	}
	if cw.methodMismatch {
		methodMismatch = true
	}

	prefixMatches, prefixMethodMismatch := rt.matchAllPrefixes(r)
	candidates = append(candidates, prefixMatches...)
	if prefixMethodMismatch {
		methodMismatch = true
	}

	if len(candidates) == 0 {
		if methodMismatch {
			return MatchResult{MethodNotAllowed: true}
		}
		return MatchResult{}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Route.outranks(best.Route) {
			best = c
		}
	}
	return MatchResult{Match: best}
}

// matchAllPrefixes returns the best match from every catch-all prefix
// group whose prefix the request path satisfies (not just the first one
// found), since Match needs the full candidate set to rank by priority.
func (rt *Router) matchAllPrefixes(r *http.Request) (matches []*Match, methodMismatch bool) {
	reqSegments := splitPath(r.URL.Path)

	for _, pr := range rt.prefixGroups {
		if !pathHasPrefix(reqSegments, pr.segments) {
			continue
		}
		for _, route := range pr.group.routes {
			if route.matcher.Matches(r) {
				matches = append(matches, &Match{Route: route, PathParams: make(map[string]string)})
				break // pr.group.routes is already priority/specificity sorted
			}
			if route.matcher.MatchesMethodOnly(r) {
				methodMismatch = true
			}
		}
	}
	return matches, methodMismatch
}

// RemoveRoute removes a route by ID from every group it was registered in.
func (rt *Router) RemoveRoute(id string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	route, ok := rt.allRoutes[id]
	if !ok {
		return false
	}
	delete(rt.allRoutes, id)

	normalized := replaceParams(route.Path)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if group, ok := rt.groups[normalized]; ok {
		group.removeRoute(id)
	}
	if route.PathPrefix {
		if group, ok := rt.prefixByPath[normalized]; ok {
			group.removeRoute(id)
		}
	}
	return true
}

// UpdateBackends replaces a route's backend list in place, used when a
// health check flips a backend in or out without a full catalog reload.
func (rt *Router) UpdateBackends(id string, backends []config.BackendConfig) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	route, ok := rt.allRoutes[id]
	if !ok {
		return false
	}
	route.Backends = backends
	return true
}

// GetRoute returns a route by ID.
func (rt *Router) GetRoute(id string) *Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.allRoutes[id]
}

// GetRoutes returns all configured routes.
func (rt *Router) GetRoutes() []*Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	result := make([]*Route, 0, len(rt.allRoutes))
	for _, r := range rt.allRoutes {
		result = append(result, r)
	}
	return result
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func pathHasPrefix(reqSegments, prefixSegments []string) bool {
	if len(reqSegments) < len(prefixSegments) {
		return false
	}
	for i, seg := range prefixSegments {
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if reqSegments[i] != seg {
			return false
		}
	}
	return true
}

// replaceParams converts "{name}" and "{*name}" path parameters to
// httprouter's ":name"/"*name" syntax.
func replaceParams(path string) string {
	var result strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '{' {
			j := strings.IndexByte(path[i:], '}')
			if j == -1 {
				result.WriteByte(path[i])
				i++
				continue
			}
			name := path[i+1 : i+j]
			if strings.HasPrefix(name, "*") {
				result.WriteByte('*')
				result.WriteString(name[1:])
			} else {
				result.WriteByte(':')
				result.WriteString(name)
			}
			i += j + 1
		} else {
			result.WriteByte(path[i])
			i++
		}
	}
	return result.String()
}
