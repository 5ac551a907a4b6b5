// Package plugins holds the concrete plugin implementations named in
// spec.md §4.5, each registered with internal/plugin's global registry via
// its own init().
package plugins

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("request-id", newRequestID)
}

var requestIDSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"header_name": {"type": "string", "minLength": 1},
		"trust_upstream": {"type": "boolean"}
	}
}`)

// requestIDConfig controls which header carries the generated id and
// whether an inbound value on that header is trusted as-is.
type requestIDConfig struct {
	HeaderName    string `json:"header_name"`
	TrustUpstream bool   `json:"trust_upstream"`
}

// requestID stamps every request with a UUIDv4 (github.com/google/uuid,
// the same id generator the teacher's access-log and error packages use)
// before any other plugin runs, grounded on the request_id builtin session
// variable already read by internal/variables.
type requestID struct {
	cfg requestIDConfig
}

func newRequestID(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(requestIDSchema, raw); err != nil {
		return nil, err
	}
	cfg := requestIDConfig{HeaderName: "X-Request-Id"}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-Request-Id"
	}
	return &requestID{cfg: cfg}, nil
}

func (p *requestID) Name() string  { return "request-id" }
func (p *requestID) Priority() int { return 10000 } // runs before every other plugin

func (p *requestID) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	id := ""
	if p.cfg.TrustUpstream {
		id = ctx.Request.Header.Get(p.cfg.HeaderName)
	}
	if id == "" {
		id = uuid.NewString()
		ctx.Request.Header.Set(p.cfg.HeaderName, id)
	}
	if ctx.Vars != nil {
		ctx.Vars.SetCustom("request_id", id)
	}
	return plugin.OK()
}
