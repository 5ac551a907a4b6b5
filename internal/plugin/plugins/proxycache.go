package plugins

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/pingsix/pingsix/internal/cache"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("proxy-cache", newProxyCache)
}

var proxyCacheSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"max_entries": {"type": "integer", "minimum": 1},
		"ttl": {"type": "integer", "minimum": 0},
		"cacheable_status": {"type": "array", "items": {"type": "integer", "minimum": 100, "maximum": 599}}
	}
}`)

type proxyCacheConfig struct {
	MaxEntries  int           `json:"max_entries"`
	TTL         time.Duration `json:"ttl"`
	CacheableStatus []int     `json:"cacheable_status"`
}

// proxyCache wraps internal/cache.Cache, built for the teacher's admin
// surface, as a two-phase plugin: access_filter serves a hit directly
// (Stop), and response_body_filter stores a fresh GET/HEAD response whose
// status is listed in cacheable_status (only 200 when unset) on its final
// chunk keyed by method+path+query.
type proxyCache struct {
	c          *cache.Cache
	cacheable  map[int]bool
}

func newProxyCache(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(proxyCacheSchema, raw); err != nil {
		return nil, err
	}
	cfg := proxyCacheConfig{MaxEntries: 1000, TTL: time.Minute}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	cacheable := map[int]bool{http.StatusOK: true}
	if len(cfg.CacheableStatus) > 0 {
		cacheable = make(map[int]bool, len(cfg.CacheableStatus))
		for _, s := range cfg.CacheableStatus {
			cacheable[s] = true
		}
	}
	return &proxyCache{c: cache.NewCache(cfg.MaxEntries, cfg.TTL), cacheable: cacheable}, nil
}

func (p *proxyCache) Name() string  { return "proxy-cache" }
func (p *proxyCache) Priority() int { return 7000 }

// cacheKey hashes method+path+query with xxhash rather than storing the raw
// string, keeping the LRU's key size constant regardless of query length.
func (p *proxyCache) cacheKey(r *http.Request) string {
	raw := r.Method + "\x00" + r.URL.Path + "\x00" + r.URL.RawQuery
	return strconv.FormatUint(xxhash.Sum64String(raw), 16)
}

func (p *proxyCache) AccessFilter(ctx *plugin.RequestContext) plugin.Result {
	if ctx.Request.Method != http.MethodGet && ctx.Request.Method != http.MethodHead {
		return plugin.OK()
	}
	entry, ok := p.c.Get(p.cacheKey(ctx.Request))
	if !ok {
		return plugin.OK()
	}
	headers := entry.Headers.Clone()
	headers.Set("X-Cache", "HIT")
	return plugin.StopWith(entry.StatusCode, headers, entry.Body)
}

func (p *proxyCache) ResponseBodyFilter(ctx *plugin.RequestContext) plugin.Result {
	if !ctx.BodyFinal || ctx.Upstream == nil {
		return plugin.OK()
	}
	if ctx.Request.Method != http.MethodGet && ctx.Request.Method != http.MethodHead {
		return plugin.OK()
	}
	if !p.cacheable[ctx.Upstream.StatusCode] {
		return plugin.OK()
	}
	p.c.Set(p.cacheKey(ctx.Request), &cache.Entry{
		StatusCode: ctx.Upstream.StatusCode,
		Headers:    ctx.Upstream.Header.Clone(),
		Body:       ctx.BodyChunk,
	})
	ctx.Upstream.Header.Set("X-Cache", "MISS")
	return plugin.OK()
}
