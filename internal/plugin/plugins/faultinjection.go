package plugins

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/pingsix/pingsix/internal/errors"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("fault-injection", newFaultInjection)
}

var faultInjectionSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"delay": {
			"type": "object",
			"properties": {
				"duration": {"type": "integer", "minimum": 0},
				"percent": {"type": "integer", "minimum": 0, "maximum": 100}
			}
		},
		"abort": {
			"type": "object",
			"properties": {
				"status": {"type": "integer", "minimum": 100, "maximum": 599},
				"body": {"type": "string"},
				"percent": {"type": "integer", "minimum": 0, "maximum": 100}
			}
		}
	}
}`)

type faultInjectionConfig struct {
	Delay struct {
		Duration time.Duration `json:"duration"`
		Percent  int           `json:"percent"`
	} `json:"delay"`
	Abort struct {
		Status  int    `json:"status"`
		Body    string `json:"body"`
		Percent int     `json:"percent"`
	} `json:"abort"`
}

// faultInjection deliberately degrades a fraction of requests, the testing
// counterpart to limit-count/circuit-breaking: a percentage of requests are
// delayed and/or aborted outright with a fixed status before ever reaching
// the upstream. Has no teacher middleware to adapt — it is grounded directly
// in the AccessFilter/Stop contract internal/plugin defines.
type faultInjection struct {
	cfg faultInjectionConfig
}

func newFaultInjection(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(faultInjectionSchema, raw); err != nil {
		return nil, err
	}
	cfg := faultInjectionConfig{}
	cfg.Abort.Status = http.StatusServiceUnavailable
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return &faultInjection{cfg: cfg}, nil
}

func (p *faultInjection) Name() string  { return "fault-injection" }
func (p *faultInjection) Priority() int { return 9000 }

func (p *faultInjection) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	if p.cfg.Delay.Duration > 0 && rollPercent(p.cfg.Delay.Percent) {
		time.Sleep(p.cfg.Delay.Duration)
	}
	if p.cfg.Abort.Percent > 0 && rollPercent(p.cfg.Abort.Percent) {
		status := p.cfg.Abort.Status
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		body := []byte(p.cfg.Abort.Body)
		if len(body) == 0 {
			body, _ = json.Marshal(errors.NewWithStatus(errors.KindPluginRejected, status, "fault injected"))
		}
		return plugin.StopWith(status, http.Header{"Content-Type": []string{"application/json"}}, body)
	}
	return plugin.OK()
}

func rollPercent(percent int) bool {
	if percent >= 100 {
		return true
	}
	if percent <= 0 {
		return false
	}
	return rand.Intn(100) < percent
}
