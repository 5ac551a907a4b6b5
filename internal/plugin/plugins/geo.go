package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/middleware/geo"
	"github.com/pingsix/pingsix/internal/plugin"
	"github.com/pingsix/pingsix/internal/variables"
)

func init() {
	plugin.Register("geo", newGeo)
}

var geoSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"database": {"type": "string", "minLength": 1},
		"inject_headers": {"type": "boolean"},
		"allow_countries": {"type": "array", "items": {"type": "string"}},
		"deny_countries": {"type": "array", "items": {"type": "string"}},
		"allow_cities": {"type": "array", "items": {"type": "string"}},
		"deny_cities": {"type": "array", "items": {"type": "string"}},
		"order": {"type": "string", "enum": ["allow_first", "deny_first"]},
		"shadow_mode": {"type": "boolean"}
	},
	"required": ["database"]
}`)

// geoPlugin wraps internal/middleware/geo.Filter, an access_filter hook that
// resolves the client IP's country/city and applies allow/deny lists before
// the request reaches the upstream.
type geoPlugin struct {
	provider geo.Provider
	filter   *geo.Filter
}

func newGeo(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(geoSchema, raw); err != nil {
		return nil, err
	}
	var cfg config.GeoConfig
	cfg.Enabled = true
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}

	provider, err := geo.NewProvider(cfg.Database)
	if err != nil {
		return nil, err
	}

	return &geoPlugin{
		provider: provider,
		filter:   geo.New("", cfg, provider),
	}, nil
}

func (p *geoPlugin) Name() string  { return "geo" }
func (p *geoPlugin) Priority() int { return 4900 }

func (p *geoPlugin) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	clientIP := variables.ExtractClientIP(ctx.Request)
	allowed, result := p.filter.Check(clientIP, ctx.Vars)
	if allowed {
		if result != nil && p.filter.InjectHeaders() {
			if result.CountryCode != "" {
				ctx.Request.Header.Set("X-Geo-Country", result.CountryCode)
			}
			if result.City != "" {
				ctx.Request.Header.Set("X-Geo-City", result.City)
			}
		}
		return plugin.OK()
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	body, _ := json.Marshal(map[string]any{
		"error":   "geo_restricted",
		"message": "request blocked by geographic restriction",
		"status":  http.StatusUnavailableForLegalReasons,
	})
	return plugin.StopWith(http.StatusUnavailableForLegalReasons, headers, body)
}
