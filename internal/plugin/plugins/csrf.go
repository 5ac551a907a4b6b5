package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/middleware/csrf"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("csrf", newCSRF)
}

var csrfSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"cookie_name": {"type": "string"},
		"header_name": {"type": "string"},
		"secret": {"type": "string", "minLength": 1},
		"token_ttl": {"type": ["string", "integer"]},
		"safe_methods": {"type": "array", "items": {"type": "string"}},
		"allowed_origins": {"type": "array", "items": {"type": "string"}},
		"allowed_origin_patterns": {"type": "array", "items": {"type": "string"}},
		"cookie_path": {"type": "string"},
		"cookie_domain": {"type": "string"}
	},
	"required": ["secret"]
}`)

// csrfPlugin wraps internal/middleware/csrf.CompiledCSRF as an access_filter
// hook. Check's side effect of injecting a token cookie on safe methods is
// dropped here: access_filter has no hook back into the final client
// response on the Continue path, only on Stop.
type csrfPlugin struct {
	c *csrf.CompiledCSRF
}

func newCSRF(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(csrfSchema, raw); err != nil {
		return nil, err
	}
	var cfg config.CSRFConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	c, err := csrf.New("", cfg)
	if err != nil {
		return nil, err
	}
	return &csrfPlugin{c: c}, nil
}

func (p *csrfPlugin) Name() string  { return "csrf" }
func (p *csrfPlugin) Priority() int { return 6000 }

func (p *csrfPlugin) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	rec := newRecorder()
	allowed, status, msg := p.c.Check(rec, ctx.Request)
	if allowed {
		return plugin.OK()
	}
	headers := http.Header{"Content-Type": []string{"application/json"}}
	body, _ := json.Marshal(struct {
		Message string `json:"message"`
	}{msg})
	return plugin.StopWith(status, headers, body)
}
