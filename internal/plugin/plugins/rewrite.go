package plugins

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/middleware/transform"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("proxy-rewrite", newProxyRewrite)
	plugin.Register("response-rewrite", newResponseRewrite)
}

var headerTransformSchemaDoc = `{
	"type": "object",
	"properties": {
		"add": {"type": "object", "additionalProperties": {"type": "string"}},
		"set": {"type": "object", "additionalProperties": {"type": "string"}},
		"remove": {"type": "array", "items": {"type": "string"}}
	}
}`

var proxyRewriteSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"prefix": {"type": "string"},
		"regex": {"type": "string"},
		"replacement": {"type": "string"},
		"host": {"type": "string"},
		"headers": ` + headerTransformSchemaDoc + `
	}
}`)

var responseRewriteSchema = plugin.MustCompileSchema(headerTransformSchemaDoc)

// proxyRewrite rewrites the outbound request's path/host and headers,
// grounded on config.RewriteConfig (prefix/regex path rewrite, host
// override) plus internal/middleware/transform.HeaderTransformer for the
// header side, adapted from a wrap-handler middleware into an
// upstream_request_filter hook since it must run after routing/balancer
// selection but before the request crosses the wire.
type proxyRewrite struct {
	cfg     config.RewriteConfig
	headers config.HeaderTransform
	re      *regexp.Regexp
	xform   *transform.HeaderTransformer
}

func newProxyRewrite(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(proxyRewriteSchema, raw); err != nil {
		return nil, err
	}
	var body struct {
		config.RewriteConfig
		Headers config.HeaderTransform `json:"headers"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
	}
	p := &proxyRewrite{cfg: body.RewriteConfig, headers: body.Headers, xform: transform.NewHeaderTransformer()}
	if p.cfg.Regex != "" {
		re, err := regexp.Compile(p.cfg.Regex)
		if err != nil {
			return nil, err
		}
		p.re = re
	}
	return p, nil
}

func (p *proxyRewrite) Name() string { return "proxy-rewrite" }

func (p *proxyRewrite) UpstreamRequestFilter(ctx *plugin.RequestContext) plugin.Result {
	if p.cfg.Host != "" {
		ctx.Request.Host = p.cfg.Host
	}
	if p.re != nil {
		ctx.Request.URL.Path = p.re.ReplaceAllString(ctx.Request.URL.Path, p.cfg.Replacement)
	} else if p.cfg.Prefix != "" {
		ctx.Request.URL.Path = p.cfg.Prefix + strings.TrimPrefix(ctx.Request.URL.Path, "/")
	}
	p.xform.TransformRequest(ctx.Request, p.headers, ctx.Vars)
	return plugin.OK()
}

// responseRewrite applies header transformations to the upstream response
// before it streams to the client, grounded on the same
// HeaderTransformer used by proxy-rewrite's request side.
type responseRewrite struct {
	headers config.HeaderTransform
	xform   *transform.HeaderTransformer
}

func newResponseRewrite(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(responseRewriteSchema, raw); err != nil {
		return nil, err
	}
	var headers config.HeaderTransform
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &headers); err != nil {
			return nil, err
		}
	}
	return &responseRewrite{headers: headers, xform: transform.NewHeaderTransformer()}, nil
}

func (p *responseRewrite) Name() string { return "response-rewrite" }

func (p *responseRewrite) UpstreamResponseFilter(ctx *plugin.RequestContext) plugin.Result {
	if ctx.Upstream == nil {
		return plugin.OK()
	}
	p.xform.TransformResponse(&responseHeaderWriter{ctx.Upstream}, p.headers, ctx.Vars)
	return plugin.OK()
}
