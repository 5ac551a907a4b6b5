// Package plugin implements spec.md §4.5's phase state machine: a
// request/response passes through a fixed sequence of phases, and any
// plugin attached to the matched route/service/global-rule chain can hook
// one or more of them. Each hook returns a three-valued Result — Continue,
// Stop (short-circuit with a response), or Error (abort with a terminal
// error) — which the lifecycle orchestrator in internal/lifecycle acts on.
package plugin

import (
	"net/http"

	"github.com/pingsix/pingsix/internal/errors"
	"github.com/pingsix/pingsix/internal/variables"
)

// Phase names one of the six points in the request lifecycle a plugin can
// hook, per spec.md §4.5.
type Phase string

const (
	PhaseAccessFilter          Phase = "access_filter"
	PhaseBeforeProxy           Phase = "before_proxy"
	PhaseUpstreamRequestFilter Phase = "upstream_request_filter"
	PhaseUpstreamResponseFilter Phase = "upstream_response_filter"
	PhaseResponseBodyFilter    Phase = "response_body_filter"
	PhaseLog                   Phase = "log"
)

// Outcome is the three-valued verdict a phase hook returns.
type Outcome int

const (
	// Continue lets the pipeline proceed to the next plugin/phase.
	Continue Outcome = iota
	// Stop short-circuits the pipeline: the Response on Result is written
	// back to the client directly, skipping any remaining plugins and the
	// upstream call (if this fired before upstream_request_filter).
	Stop
	// ErrorOutcome aborts the request with a terminal *errors.Error.
	ErrorOutcome
)

// Result is what every phase hook returns.
type Result struct {
	Outcome  Outcome
	Response *StopResponse // set when Outcome == Stop
	Err      *errors.Error // set when Outcome == ErrorOutcome
}

// StopResponse is the response a Stop result writes directly to the client,
// used by short-circuiting plugins like rate-limit (429), auth (401/403),
// and mock/cache hits (200 from cache).
type StopResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// OK is the Continue result, returned by the large majority of hook calls.
func OK() Result { return Result{Outcome: Continue} }

// StopWith builds a Stop result.
func StopWith(status int, headers http.Header, body []byte) Result {
	return Result{Outcome: Stop, Response: &StopResponse{Status: status, Headers: headers, Body: body}}
}

// Fail builds an ErrorOutcome result from a terminal error.
func Fail(err *errors.Error) Result {
	return Result{Outcome: ErrorOutcome, Err: err}
}

// RequestContext carries everything a phase hook needs across the whole
// pipeline: the in-flight request, the route's resolved session variables,
// and (from upstream_response_filter onward) the upstream response.
type RequestContext struct {
	Request    *http.Request
	Vars       *variables.Context
	RouteID    string
	Upstream   *http.Response // nil until the upstream call returns
	BodyChunk  []byte         // the chunk response_body_filter is invoked with
	BodyFinal  bool           // true on the last chunk
}

// AccessFilter runs first, before routing decisions that depend on the
// request are finalized (auth, IP restriction, CORS preflight, rate-limit,
// fault injection, CSRF all hook here).
type AccessFilter interface {
	AccessFilter(ctx *RequestContext) Result
}

// BeforeProxy runs after access control passes but before the upstream is
// selected (traffic-split's group assignment hooks here).
type BeforeProxy interface {
	BeforeProxy(ctx *RequestContext) Result
}

// UpstreamRequestFilter can rewrite the outbound request just before it is
// sent to the selected backend (proxy-rewrite hooks here).
type UpstreamRequestFilter interface {
	UpstreamRequestFilter(ctx *RequestContext) Result
}

// UpstreamResponseFilter runs once the upstream response headers are known,
// before the body streams to the client (response-rewrite, cache-store
// decision hook here).
type UpstreamResponseFilter interface {
	UpstreamResponseFilter(ctx *RequestContext) Result
}

// ResponseBodyFilter runs per body chunk as the response streams to the
// client (compression, content replacement hook here).
type ResponseBodyFilter interface {
	ResponseBodyFilter(ctx *RequestContext) Result
}

// LogPhase runs after the response has been fully written, for
// fire-and-forget bookkeeping that must never affect the response
// (access-log, metrics emission hook here). Log returns no Result, so it
// cannot stop or fail the request.
type LogPhase interface {
	Log(ctx *RequestContext)
}

// Plugin is the identity every concrete plugin satisfies; the phase
// interfaces above are implemented selectively, so a plugin that only
// needs access_filter (e.g. ip-restriction) need not stub the rest.
type Plugin interface {
	Name() string
}

// Priority is an optional interface: plugins that care about execution
// order relative to siblings at the same phase implement it. Ties break on
// name, ascending, for determinism. Plugins that don't implement it sort
// as priority 0.
type Priority interface {
	Priority() int
}
