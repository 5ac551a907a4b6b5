package geo

import (
	"strings"

	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/logging"
	"github.com/pingsix/pingsix/internal/variables"
)

// Filter is a compiled per-route geo filter built once at route setup from
// a shared Provider.
type Filter struct {
	enabled        bool
	provider       Provider
	allowCountries map[string]bool // uppercase ISO codes
	denyCountries  map[string]bool
	allowCities    map[string]bool // lowercase normalized
	denyCities     map[string]bool
	order          string // "allow_first" or "deny_first"
	injectHeaders  bool
	shadowMode     bool
	metrics        *Metrics
	routeID        string
}

// New builds a Filter from cfg, sharing provider with any other route that
// points at the same database.
func New(routeID string, cfg config.GeoConfig, provider Provider) *Filter {
	order := cfg.Order
	if order == "" {
		order = "deny_first"
	}

	g := &Filter{
		enabled:        cfg.Enabled,
		provider:       provider,
		allowCountries: make(map[string]bool),
		denyCountries:  make(map[string]bool),
		allowCities:    make(map[string]bool),
		denyCities:     make(map[string]bool),
		order:          order,
		injectHeaders:  cfg.InjectHeaders,
		shadowMode:     cfg.ShadowMode,
		metrics:        &Metrics{},
		routeID:        routeID,
	}

	for _, c := range cfg.AllowCountries {
		g.allowCountries[strings.ToUpper(c)] = true
	}
	for _, c := range cfg.DenyCountries {
		g.denyCountries[strings.ToUpper(c)] = true
	}
	for _, c := range cfg.AllowCities {
		g.allowCities[strings.ToLower(c)] = true
	}
	for _, c := range cfg.DenyCities {
		g.denyCities[strings.ToLower(c)] = true
	}

	return g
}

// Check resolves the client IP's location, records the result on
// varCtx.Custom, and applies the allow/deny lists. It does not set any
// X-Geo-* header; InjectHeaders tells the caller whether to. It returns whether the request should proceed and the
// lookup result (nil on lookup error, in which case the request is always
// allowed through).
func (g *Filter) Check(clientIP string, r *variables.Context) (bool, *Result) {
	g.metrics.TotalRequests.Add(1)

	result, err := g.provider.Lookup(clientIP)
	if err != nil {
		g.metrics.LookupErrors.Add(1)
		logging.Warn("geo lookup error",
			zap.String("route", g.routeID),
			zap.String("ip", clientIP),
			zap.Error(err),
		)
		g.metrics.Allowed.Add(1)
		return true, nil
	}

	if r.Custom == nil {
		r.Custom = make(map[string]string)
	}
	r.Custom["geo_country"] = result.CountryCode
	r.Custom["geo_city"] = result.City

	allowed := g.checkRules(result)

	if !allowed {
		if g.shadowMode {
			logging.Info("geo filter would deny (shadow mode)",
				zap.String("route", g.routeID),
				zap.String("ip", clientIP),
				zap.String("country", result.CountryCode),
				zap.String("city", result.City),
			)
			g.metrics.Allowed.Add(1)
			return true, result
		}

		g.metrics.Denied.Add(1)
		logging.Info("geo filter denied request",
			zap.String("route", g.routeID),
			zap.String("ip", clientIP),
			zap.String("country", result.CountryCode),
			zap.String("city", result.City),
		)
		return false, result
	}

	g.metrics.Allowed.Add(1)
	return true, result
}

// InjectHeaders reports whether X-Geo-Country/X-Geo-City should be set on
// the request once a lookup succeeds.
func (g *Filter) InjectHeaders() bool { return g.injectHeaders }

// checkRules evaluates the allow/deny lists against the geo result.
func (g *Filter) checkRules(result *Result) bool {
	countryUpper := strings.ToUpper(result.CountryCode)
	cityLower := strings.ToLower(result.City)

	hasAllowRules := len(g.allowCountries) > 0 || len(g.allowCities) > 0
	hasDenyRules := len(g.denyCountries) > 0 || len(g.denyCities) > 0

	if !hasAllowRules && !hasDenyRules {
		return true
	}

	switch g.order {
	case "allow_first":
		if hasAllowRules && g.matchesAllow(countryUpper, cityLower) {
			return true
		}
		if hasDenyRules && g.matchesDeny(countryUpper, cityLower) {
			return false
		}
		return true

	default: // "deny_first"
		if hasDenyRules && g.matchesDeny(countryUpper, cityLower) {
			return false
		}
		if hasAllowRules && !g.matchesAllow(countryUpper, cityLower) {
			return false
		}
		return true
	}
}

func (g *Filter) matchesAllow(countryUpper, cityLower string) bool {
	if len(g.allowCountries) > 0 && g.allowCountries[countryUpper] {
		return true
	}
	if len(g.allowCities) > 0 && g.allowCities[cityLower] {
		return true
	}
	return false
}

func (g *Filter) matchesDeny(countryUpper, cityLower string) bool {
	if len(g.denyCountries) > 0 && g.denyCountries[countryUpper] {
		return true
	}
	if len(g.denyCities) > 0 && g.denyCities[cityLower] {
		return true
	}
	return false
}

// Status returns the admin-facing snapshot of this filter's configuration
// and counters.
func (g *Filter) Status() Snapshot {
	snap := Snapshot{
		RouteID:       g.routeID,
		Enabled:       true,
		Order:         g.order,
		ShadowMode:    g.shadowMode,
		InjectHeaders: g.injectHeaders,
		Metrics: map[string]int64{
			"total_requests": g.metrics.TotalRequests.Load(),
			"allowed":        g.metrics.Allowed.Load(),
			"denied":         g.metrics.Denied.Load(),
			"lookup_errors":  g.metrics.LookupErrors.Load(),
		},
	}
	for c := range g.allowCountries {
		snap.AllowCountries = append(snap.AllowCountries, c)
	}
	for c := range g.denyCountries {
		snap.DenyCountries = append(snap.DenyCountries, c)
	}
	for c := range g.allowCities {
		snap.AllowCities = append(snap.AllowCities, c)
	}
	for c := range g.denyCities {
		snap.DenyCities = append(snap.DenyCities, c)
	}
	return snap
}

// MergeConfig merges a per-route GeoConfig over the global one.
// InjectHeaders can't distinguish "unset" from "explicitly false" on a bool
// zero value, so it only takes the per-route value when the route overrides
// something else; otherwise it inherits the global setting.
func MergeConfig(perRoute, global config.GeoConfig) config.GeoConfig {
	merged := config.MergeNonZero(global, perRoute)
	if !(len(perRoute.AllowCountries) > 0 || len(perRoute.DenyCountries) > 0 ||
		len(perRoute.AllowCities) > 0 || len(perRoute.DenyCities) > 0 ||
		perRoute.Order != "") {
		merged.InjectHeaders = global.InjectHeaders
	}
	return merged
}
