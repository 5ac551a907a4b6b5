package plugin

import "github.com/pingsix/pingsix/internal/errors"

// Pipeline is the assembled, priority-ordered plugin chain for one route,
// built once per catalog Reload and re-run on every request matching that
// route (cheap: no reflection or lookup on the hot path, just a slice walk).
type Pipeline struct {
	plugins []Plugin
}

// NewPipeline builds a Pipeline from already-resolved plugin instances
// (see Build). Kept separate from Build so tests can construct a Pipeline
// directly from hand-built plugin instances.
func NewPipeline(plugins []Plugin) *Pipeline {
	return &Pipeline{plugins: plugins}
}

// RunAccessFilter invokes every plugin implementing AccessFilter in order,
// stopping at the first non-Continue result.
func (p *Pipeline) RunAccessFilter(ctx *RequestContext) Result {
	for _, pl := range p.plugins {
		if hook, ok := pl.(AccessFilter); ok {
			if r := hook.AccessFilter(ctx); r.Outcome != Continue {
				return r
			}
		}
	}
	return OK()
}

// RunBeforeProxy invokes every plugin implementing BeforeProxy in order.
func (p *Pipeline) RunBeforeProxy(ctx *RequestContext) Result {
	for _, pl := range p.plugins {
		if hook, ok := pl.(BeforeProxy); ok {
			if r := hook.BeforeProxy(ctx); r.Outcome != Continue {
				return r
			}
		}
	}
	return OK()
}

// RunUpstreamRequestFilter invokes every plugin implementing
// UpstreamRequestFilter in order.
func (p *Pipeline) RunUpstreamRequestFilter(ctx *RequestContext) Result {
	for _, pl := range p.plugins {
		if hook, ok := pl.(UpstreamRequestFilter); ok {
			if r := hook.UpstreamRequestFilter(ctx); r.Outcome != Continue {
				return r
			}
		}
	}
	return OK()
}

// RunUpstreamResponseFilter invokes every plugin implementing
// UpstreamResponseFilter in order.
func (p *Pipeline) RunUpstreamResponseFilter(ctx *RequestContext) Result {
	for _, pl := range p.plugins {
		if hook, ok := pl.(UpstreamResponseFilter); ok {
			if r := hook.UpstreamResponseFilter(ctx); r.Outcome != Continue {
				return r
			}
		}
	}
	return OK()
}

// RunResponseBodyFilter invokes every plugin implementing
// ResponseBodyFilter in order. Unlike the other phases this is expected to
// run once per chunk, so callers loop it themselves.
func (p *Pipeline) RunResponseBodyFilter(ctx *RequestContext) Result {
	for _, pl := range p.plugins {
		if hook, ok := pl.(ResponseBodyFilter); ok {
			if r := hook.ResponseBodyFilter(ctx); r.Outcome != Continue {
				return r
			}
		}
	}
	return OK()
}

// RunLog invokes every plugin implementing LogPhase. Errors or panics in an
// individual plugin's Log hook must never surface to the client — this
// phase runs after the response is already written.
func (p *Pipeline) RunLog(ctx *RequestContext) {
	for _, pl := range p.plugins {
		if hook, ok := pl.(LogPhase); ok {
			func() {
				defer func() { recover() }()
				hook.Log(ctx)
			}()
		}
	}
}

// Len reports how many plugins are in the pipeline, mostly for tests and
// admin introspection.
func (p *Pipeline) Len() int { return len(p.plugins) }

// HasResponseHooks reports whether any plugin in the pipeline hooks
// upstream_response_filter or response_body_filter. The lifecycle
// orchestrator uses this to decide whether a request needs a buffering
// response writer at all, since most routes have neither.
func (p *Pipeline) HasResponseHooks() bool {
	for _, pl := range p.plugins {
		if _, ok := pl.(UpstreamResponseFilter); ok {
			return true
		}
		if _, ok := pl.(ResponseBodyFilter); ok {
			return true
		}
	}
	return false
}

// asError is a small helper the lifecycle package uses to normalize a
// plugin's ErrorOutcome into the shared *errors.Error type.
func asError(r Result) *errors.Error {
	if r.Err != nil {
		return r.Err
	}
	return errors.ErrInternal
}
