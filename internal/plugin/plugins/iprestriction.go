package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/errors"
	"github.com/pingsix/pingsix/internal/middleware/ipfilter"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("ip-restriction", newIPRestriction)
}

var ipRestrictionSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"allow": {"type": "array", "items": {"type": "string"}},
		"deny": {"type": "array", "items": {"type": "string"}},
		"order": {"type": "string", "enum": ["allow_first", "deny_first"]}
	}
}`)

// ipRestriction wraps internal/middleware/ipfilter.Filter, an access_filter
// hook checking the client IP against allow/deny CIDR lists before any
// other plugin runs work on the request.
type ipRestriction struct {
	f *ipfilter.Filter
}

func newIPRestriction(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(ipRestrictionSchema, raw); err != nil {
		return nil, err
	}
	var cfg config.IPFilterConfig
	cfg.Enabled = true
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	f, err := ipfilter.New(cfg)
	if err != nil {
		return nil, err
	}
	return &ipRestriction{f: f}, nil
}

func (p *ipRestriction) Name() string  { return "ip-restriction" }
func (p *ipRestriction) Priority() int { return 5000 }

func (p *ipRestriction) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	if p.f.Check(ctx.Request) {
		return plugin.OK()
	}
	headers := http.Header{"Content-Type": []string{"application/json"}}
	body, _ := json.Marshal(errors.ErrForbidden.WithDetails("IP address not allowed"))
	return plugin.StopWith(errors.ErrForbidden.Code, headers, body)
}
