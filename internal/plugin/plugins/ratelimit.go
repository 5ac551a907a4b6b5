package plugins

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/errors"
	"github.com/pingsix/pingsix/internal/middleware/ratelimit"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("limit-count", newLimitCount)
}

var limitCountSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"rate": {"type": "integer", "minimum": 1},
		"period": {"type": ["string", "integer"]},
		"burst": {"type": "integer", "minimum": 0},
		"per_ip": {"type": "boolean"},
		"key": {"type": "string"},
		"algorithm": {"type": "string", "enum": ["token_bucket", "sliding_window"]}
	},
	"required": ["rate"]
}`)

// rateChecker is the common surface of ratelimit.Limiter and
// ratelimit.SlidingWindowLimiter the plugin needs: a per-request Allow
// check that also reports the key it computed, so the plugin can build its
// own Result instead of either implementation writing to an
// http.ResponseWriter directly.
type rateChecker interface {
	CheckWithKey(r *http.Request) (allowed bool, remaining int, resetTime time.Time, key string)
}

// limitCount is an access_filter hook over internal/middleware/ratelimit.
// Algorithm selects which ratelimit implementation backs it:
// "sliding_window" (the default, ratelimit.SlidingWindowLimiter, which adds
// the current window's count to the previous window's count weighted by how
// much of that window the sliding period still covers) or "token_bucket" (a
// continuously-refilling bucket - ratelimit.Limiter). Neither is a plain
// fixed-window counter: there is no per-key count that resets to zero at
// each window boundary.
type limitCount struct {
	checker rateChecker
	burst   string
}

func newLimitCount(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(limitCountSchema, raw); err != nil {
		return nil, err
	}
	var cfg config.RateLimitConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	rlCfg := ratelimit.Config{
		Rate:   cfg.Rate,
		Period: cfg.Period,
		Burst:  cfg.Burst,
		PerIP:  cfg.PerIP,
		Key:    cfg.Key,
	}
	burst := rlCfg.Burst
	if burst == 0 {
		burst = rlCfg.Rate
	}

	var checker rateChecker
	switch cfg.Algorithm {
	case "token_bucket":
		checker = ratelimit.NewLimiter(rlCfg)
	case "", "sliding_window":
		checker = ratelimit.NewSlidingWindowLimiter(rlCfg)
	default:
		return nil, fmt.Errorf("limit-count: unknown algorithm %q", cfg.Algorithm)
	}

	return &limitCount{
		checker: checker,
		burst:   strconv.Itoa(burst),
	}, nil
}

func (p *limitCount) Name() string  { return "limit-count" }
func (p *limitCount) Priority() int { return 4000 }

func (p *limitCount) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	allowed, remaining, resetTime, _ := p.checker.CheckWithKey(ctx.Request)
	if allowed {
		return plugin.OK()
	}

	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", p.burst)
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

	retryAfter := int(time.Until(resetTime).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	headers.Set("Retry-After", strconv.Itoa(retryAfter))
	headers.Set("Content-Type", "application/json")
	body, _ := json.Marshal(errors.ErrTooManyRequests)
	return plugin.StopWith(errors.ErrTooManyRequests.Code, headers, body)
}
