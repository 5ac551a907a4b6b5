// Package lifecycle implements spec.md §4.6's request-handling procedure:
// match a route, assemble its plugin pipeline (global rules ⊕ service ⊕
// route, innermost wins), run the phase state machine around the proxy
// call, and translate no-route/no-method/no-upstream outcomes into the
// gateway's terminal error responses.
package lifecycle

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/catalog"
	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/errors"
	"github.com/pingsix/pingsix/internal/logging"
	"github.com/pingsix/pingsix/internal/metrics"
	"github.com/pingsix/pingsix/internal/middleware/accesslog"
	"github.com/pingsix/pingsix/internal/plugin"
	"github.com/pingsix/pingsix/internal/proxy"
	"github.com/pingsix/pingsix/internal/router"
	"github.com/pingsix/pingsix/internal/rules"
	"github.com/pingsix/pingsix/internal/variables"
)

// compiledRoute is a route's cached, request-ready state: the per-route
// proxy handler (retry policy, transformer, transport already resolved)
// and its assembled plugin pipeline.
type compiledRoute struct {
	routeProxy *proxy.RouteProxy
	pipeline   *plugin.Pipeline
}

// routeTable is the atomically-swapped snapshot Orchestrator reads requests
// against, mirroring ssl.Store's table/atomic.Pointer pattern.
type routeTable struct {
	routes map[string]*compiledRoute
}

// Orchestrator is the gateway's top-level http.Handler.
type Orchestrator struct {
	registry *catalog.Registry
	router   *router.Router
	proxy    *proxy.Proxy
	metrics  *metrics.Collector

	table atomic.Pointer[routeTable]
	rules atomic.Pointer[rules.Engine]
}

// New builds an Orchestrator and compiles its initial route table from the
// registry and router's current state.
func New(registry *catalog.Registry, rt *router.Router, px *proxy.Proxy, collector *metrics.Collector) *Orchestrator {
	o := &Orchestrator{registry: registry, router: rt, proxy: px, metrics: collector}
	o.Rebuild()
	return o
}

// Rebuild recompiles every route's pipeline and cached proxy handler from
// the registry's current snapshot and the router's current route set.
//
// Unlike health.Supervisor and ssl.Store, Rebuild is not driven by its own
// registry subscription: it depends on router.Router's route set, which
// the router only updates synchronously when its owner calls Reset after a
// Reload, not via the event stream. Subscribing independently here would
// race Reset — the orchestrator could rebuild from a registry snapshot the
// router hasn't caught up to yet. So cmd/pingsix/main.go calls Rebuild
// synchronously, immediately after registry.Reload and router.Reset.
func (o *Orchestrator) Rebuild() {
	snap := o.registry.Snapshot()

	globalPlugins := config.PluginConfig{}
	for _, gr := range snap.GlobalRules {
		for name, raw := range gr.Config.Plugins {
			globalPlugins[name] = raw
		}
	}

	routes := o.router.GetRoutes()
	next := &routeTable{routes: make(map[string]*compiledRoute, len(routes))}

	for _, rr := range routes {
		cr := rr.Catalog
		if cr == nil {
			continue
		}

		merged := config.PluginConfig{}
		for name, raw := range globalPlugins {
			merged[name] = raw
		}
		for name, raw := range cr.MergedPlugins() {
			merged[name] = raw
		}

		plugins, err := plugin.Build(merged)
		if err != nil {
			logging.Error("lifecycle: skipping route with invalid plugin config",
				zap.String("route", rr.ID), zap.Error(err))
			continue
		}

		up, ok := snap.Upstreams[rr.UpstreamName]
		if !ok {
			logging.Warn("lifecycle: route has no resolvable upstream",
				zap.String("route", rr.ID), zap.String("upstream", rr.UpstreamName))
			continue
		}

		next.routes[rr.ID] = &compiledRoute{
			routeProxy: proxy.NewRouteProxyWithBalancer(o.proxy, rr, up.Balancer),
			pipeline:   plugin.NewPipeline(plugins),
		}
	}

	o.table.Store(next)
}

// SetRules compiles cfg's request/response rule chains and swaps them in
// atomically. Unlike route/upstream reloads, a compile failure here is
// reported to the caller without touching the previously-active engine, so
// one bad expression in an otherwise-valid reload never taints requests
// already matching the old rules.
func (o *Orchestrator) SetRules(cfg config.RulesConfig) error {
	engine, err := rules.NewEngine(cfg)
	if err != nil {
		return err
	}
	o.rules.Store(engine)
	return nil
}

// RuleStats returns the admin-facing snapshot of the active rule engine, or
// the zero value if no rules are configured.
func (o *Orchestrator) RuleStats() rules.Stats {
	if eng := o.rules.Load(); eng != nil {
		return eng.Snapshot()
	}
	return rules.Stats{}
}

func (o *Orchestrator) lookup(routeID string) *compiledRoute {
	t := o.table.Load()
	if t == nil {
		return nil
	}
	return t.routes[routeID]
}

// ServeHTTP implements spec.md §4.6: match, assemble context, run the
// phase state machine, delegate to the cached proxy handler, and always
// run the log phase last regardless of outcome.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	mr := o.router.Match(r)
	if mr.Match == nil {
		if mr.MethodNotAllowed {
			errors.ErrMethodNotAllowed.WriteJSON(w)
		} else {
			errors.ErrNoRouteMatched.WriteJSON(w)
		}
		return
	}
	route := mr.Match.Route

	compiled := o.lookup(route.ID)
	if compiled == nil {
		errors.ErrNoUpstream.WithDetails("route has no resolvable upstream").WriteJSON(w)
		return
	}

	varCtx := variables.NewContext(r)
	varCtx.RouteID = route.ID
	varCtx.PathParams = mr.Match.PathParams
	r = r.WithContext(context.WithValue(r.Context(), variables.RequestContextKey{}, varCtx))

	reqCtx := &plugin.RequestContext{Request: r, Vars: varCtx, RouteID: route.ID}

	ruleEngine := o.rules.Load()
	if ruleEngine != nil && ruleEngine.HasRequestRules() {
		if status, stopped := o.runRequestRules(w, r, varCtx, ruleEngine); stopped {
			o.finish(compiled, reqCtx, varCtx, status, start)
			return
		}
	}

	if status, stopped := o.shortCircuit(w, compiled.pipeline.RunAccessFilter(reqCtx)); stopped {
		o.finish(compiled, reqCtx, varCtx, status, start)
		return
	}
	if status, stopped := o.shortCircuit(w, compiled.pipeline.RunBeforeProxy(reqCtx)); stopped {
		o.finish(compiled, reqCtx, varCtx, status, start)
		return
	}
	if status, stopped := o.shortCircuit(w, compiled.pipeline.RunUpstreamRequestFilter(reqCtx)); stopped {
		o.finish(compiled, reqCtx, varCtx, status, start)
		return
	}

	var status int
	if compiled.pipeline.HasResponseHooks() || (ruleEngine != nil && ruleEngine.HasResponseRules()) {
		status = o.serveBuffered(w, r, compiled, reqCtx, ruleEngine)
	} else {
		// Zero-cost status capture: maxSize 0 means nothing is buffered,
		// every write still passes straight through to w.
		cw := accesslog.NewBodyCapturingWriter(w, 0)
		compiled.routeProxy.ServeHTTP(cw, r)
		status = cw.StatusCode()
	}

	o.finish(compiled, reqCtx, varCtx, status, start)
}

// serveBuffered handles the minority of routes whose pipeline hooks
// upstream_response_filter or response_body_filter: the upstream response
// is buffered in full (rather than streamed) so those phases can inspect
// or rewrite it before anything reaches the client. This trades true
// incremental streaming for simplicity; the one response_body_filter
// consumer in the tree (proxy-cache) already expects a single final chunk
// with the complete body, not a true stream.
func (o *Orchestrator) serveBuffered(w http.ResponseWriter, r *http.Request, compiled *compiledRoute, reqCtx *plugin.RequestContext, ruleEngine *rules.Engine) int {
	buf := newResponseBuffer()
	compiled.routeProxy.ServeHTTP(buf, r)

	reqCtx.Upstream = &http.Response{StatusCode: buf.status, Header: buf.header}
	reqCtx.BodyChunk = buf.body.Bytes()
	reqCtx.BodyFinal = true

	if status, stopped := o.shortCircuit(w, compiled.pipeline.RunUpstreamResponseFilter(reqCtx)); stopped {
		return status
	}
	if status, stopped := o.shortCircuit(w, compiled.pipeline.RunResponseBodyFilter(reqCtx)); stopped {
		return status
	}

	if ruleEngine != nil && ruleEngine.HasResponseRules() {
		if status, stopped := o.runResponseRules(w, r, reqCtx.Vars, buf, ruleEngine); stopped {
			return status
		}
	}

	dst := w.Header()
	for k, vv := range buf.header {
		dst[k] = vv
	}
	w.WriteHeader(buf.status)
	w.Write(reqCtx.BodyChunk)
	return buf.status
}

// runRequestRules evaluates the request-phase rule chain. A terminating
// match (block, custom_response, redirect) writes directly to w and
// reports stopped=true; non-terminating matches (set_headers, rewrite,
// group, log) are applied to r/varCtx in place and evaluation continues
// down the pipeline.
func (o *Orchestrator) runRequestRules(w http.ResponseWriter, r *http.Request, varCtx *variables.Context, eng *rules.Engine) (status int, stopped bool) {
	env := rules.NewRequestEnv(r, varCtx)
	for _, result := range eng.EvaluateRequest(env) {
		if result.Terminated {
			rules.ExecuteTerminatingAction(w, r, result.Action)
			return statusFromAction(result.Action), true
		}
		applyNonTerminatingRequestAction(r, varCtx, result.Action, result.RuleID)
	}
	return 0, false
}

// runResponseRules evaluates the response-phase rule chain against the
// buffered upstream response in buf. A terminating match replaces buf's
// contents entirely and writes the final response to w; non-terminating
// matches rewrite buf's status/headers/body in place and the caller
// continues to flush buf normally.
func (o *Orchestrator) runResponseRules(w http.ResponseWriter, r *http.Request, varCtx *variables.Context, buf *responseBuffer, eng *rules.Engine) (status int, stopped bool) {
	env := rules.NewResponseEnv(r, varCtx, buf.status, buf.header)
	for _, result := range eng.EvaluateResponse(env) {
		if result.Terminated {
			rules.ExecuteTerminatingAction(w, r, result.Action)
			return statusFromAction(result.Action), true
		}
		applyNonTerminatingResponseAction(buf, varCtx, result.Action, result.RuleID, r)
	}
	return 0, false
}

func applyNonTerminatingRequestAction(r *http.Request, varCtx *variables.Context, action rules.Action, ruleID string) {
	switch action.Type {
	case "set_headers":
		rules.ExecuteRequestHeaders(r, action.Headers)
	case "rewrite":
		rules.ExecuteRewrite(r, action.Rewrite)
	case "group":
		rules.ExecuteGroup(varCtx, action.Group)
	case "log":
		rules.ExecuteLog(ruleID, r, varCtx, action.LogMessage)
	}
}

func applyNonTerminatingResponseAction(buf *responseBuffer, varCtx *variables.Context, action rules.Action, ruleID string, r *http.Request) {
	switch action.Type {
	case "set_headers":
		rules.ApplyHeaderTransform(buf.header, action.Headers)
	case "group":
		rules.ExecuteGroup(varCtx, action.Group)
	case "log":
		rules.ExecuteResponseLog(ruleID, r, buf.status, action.LogMessage)
	}
}

func statusFromAction(action rules.Action) int {
	if action.StatusCode != 0 {
		return action.StatusCode
	}
	switch action.Type {
	case "block":
		return http.StatusForbidden
	case "redirect":
		return http.StatusFound
	default:
		return http.StatusOK
	}
}

// shortCircuit writes result's Stop response or Error, if any, directly to
// w and reports the status code written plus whether it wrote anything
// (false means the caller should continue to the next phase).
func (o *Orchestrator) shortCircuit(w http.ResponseWriter, result plugin.Result) (status int, stopped bool) {
	switch result.Outcome {
	case plugin.Stop:
		resp := result.Response
		dst := w.Header()
		for k, vv := range resp.Headers {
			dst[k] = vv
		}
		w.WriteHeader(resp.Status)
		if len(resp.Body) > 0 {
			w.Write(resp.Body)
		}
		return resp.Status, true
	case plugin.ErrorOutcome:
		err := result.Err
		if err == nil {
			err = errors.ErrInternal
		}
		err.WriteJSON(w)
		return err.Code, true
	default:
		return 0, false
	}
}

// finish runs the log phase and records request metrics. It always runs,
// even when a phase short-circuited the response early, since spec.md's
// log phase is fire-and-forget bookkeeping independent of how the request
// ended.
func (o *Orchestrator) finish(compiled *compiledRoute, reqCtx *plugin.RequestContext, varCtx *variables.Context, status int, start time.Time) {
	duration := time.Since(start)
	varCtx.Status = status
	varCtx.ResponseTime = duration

	compiled.pipeline.RunLog(reqCtx)

	if o.metrics != nil {
		o.metrics.RecordRequest(reqCtx.RouteID, reqCtx.Request.Method, status, duration)
	}
}
