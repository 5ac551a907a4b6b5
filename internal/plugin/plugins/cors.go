package plugins

import (
	"encoding/json"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/middleware/cors"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("cors", newCORS)
}

var corsSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"allow_origins": {"type": "array", "items": {"type": "string"}},
		"allow_origin_patterns": {"type": "array", "items": {"type": "string"}},
		"allow_methods": {"type": "array", "items": {"type": "string"}},
		"allow_headers": {"type": "array", "items": {"type": "string"}},
		"expose_headers": {"type": "array", "items": {"type": "string"}},
		"allow_credentials": {"type": "boolean"},
		"allow_private_network": {"type": "boolean"},
		"max_age": {"type": "integer", "minimum": 0}
	}
}`)

// corsPlugin wraps internal/middleware/cors.Handler (the teacher's CORS
// implementation, adapted from a wrap-handler middleware into an
// access_filter hook: preflight requests are answered and stopped here;
// simple requests get their response headers applied in
// upstream_response_filter).
type corsPlugin struct {
	h *cors.Handler
}

func newCORS(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(corsSchema, raw); err != nil {
		return nil, err
	}
	var cfg config.CORSConfig
	cfg.Enabled = true
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	h, err := cors.New(cfg)
	if err != nil {
		return nil, err
	}
	return &corsPlugin{h: h}, nil
}

func (p *corsPlugin) Name() string { return "cors" }

func (p *corsPlugin) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	if !p.h.IsEnabled() {
		return plugin.OK()
	}
	if p.h.IsPreflight(ctx.Request) {
		rec := newRecorder()
		p.h.HandlePreflight(rec, ctx.Request)
		return plugin.StopWith(rec.status, rec.header, rec.body.Bytes())
	}
	return plugin.OK()
}

func (p *corsPlugin) UpstreamResponseFilter(ctx *plugin.RequestContext) plugin.Result {
	if p.h.IsEnabled() && ctx.Upstream != nil {
		p.h.ApplyHeaders(&responseHeaderWriter{ctx.Upstream}, ctx.Request)
	}
	return plugin.OK()
}
