package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
)

// validateMatchConfig validates the match configuration for a route.
func (l *Loader) validateMatchConfig(routeID string, mc MatchConfig) error {
	for _, domain := range mc.Domains {
		if domain == "" {
			return fmt.Errorf("route %s: match domain must not be empty", routeID)
		}
		if strings.Contains(domain, "*") && !strings.HasPrefix(domain, "*.") {
			return fmt.Errorf("route %s: match domain wildcard must be a prefix '*.', got: %s", routeID, domain)
		}
	}

	for i, h := range mc.Headers {
		if h.Name == "" {
			return fmt.Errorf("route %s: match header %d: name is required", routeID, i)
		}
		count := 0
		if h.Value != "" {
			count++
		}
		if h.Present != nil {
			count++
		}
		if h.Regex != "" {
			count++
		}
		if count != 1 {
			return fmt.Errorf("route %s: match header %q: must set exactly one of value, present, or regex", routeID, h.Name)
		}
		if h.Regex != "" {
			if _, err := regexp.Compile(h.Regex); err != nil {
				return fmt.Errorf("route %s: match header %q: invalid regex: %w", routeID, h.Name, err)
			}
		}
	}

	for i, q := range mc.Query {
		if q.Name == "" {
			return fmt.Errorf("route %s: match query %d: name is required", routeID, i)
		}
		count := 0
		if q.Value != "" {
			count++
		}
		if q.Present != nil {
			count++
		}
		if q.Regex != "" {
			count++
		}
		if count != 1 {
			return fmt.Errorf("route %s: match query %q: must set exactly one of value, present, or regex", routeID, q.Name)
		}
		if q.Regex != "" {
			if _, err := regexp.Compile(q.Regex); err != nil {
				return fmt.Errorf("route %s: match query %q: invalid regex: %w", routeID, q.Name, err)
			}
		}
	}

	for i, c := range mc.Cookies {
		if c.Name == "" {
			return fmt.Errorf("route %s: match cookie %d: name is required", routeID, i)
		}
		count := 0
		if c.Value != "" {
			count++
		}
		if c.Present != nil {
			count++
		}
		if c.Regex != "" {
			count++
		}
		if count != 1 {
			return fmt.Errorf("route %s: match cookie %q: must set exactly one of value, present, or regex", routeID, c.Name)
		}
		if c.Regex != "" {
			if _, err := regexp.Compile(c.Regex); err != nil {
				return fmt.Errorf("route %s: match cookie %q: invalid regex: %w", routeID, c.Name, err)
			}
		}
	}

	return nil
}

// validateRewriteConfig validates URL rewrite settings for a route.
func (l *Loader) validateRewriteConfig(routeID string, rc RewriteConfig, pathPrefix, stripPrefix bool) error {
	hasPrefix := rc.Prefix != ""
	hasRegex := rc.Regex != ""
	hasReplacement := rc.Replacement != ""

	if !hasPrefix && !hasRegex && !hasReplacement && rc.Host == "" {
		return nil
	}

	if hasPrefix && hasRegex {
		return fmt.Errorf("route %s: rewrite.prefix and rewrite.regex are mutually exclusive", routeID)
	}

	if hasPrefix && !pathPrefix {
		return fmt.Errorf("route %s: rewrite.prefix requires path_prefix: true", routeID)
	}

	if hasPrefix && stripPrefix {
		return fmt.Errorf("route %s: rewrite.prefix and strip_prefix are mutually exclusive", routeID)
	}

	if hasRegex && !hasReplacement {
		return fmt.Errorf("route %s: rewrite.regex requires rewrite.replacement", routeID)
	}
	if hasReplacement && !hasRegex {
		return fmt.Errorf("route %s: rewrite.replacement requires rewrite.regex", routeID)
	}

	if hasRegex {
		if _, err := regexp.Compile(rc.Regex); err != nil {
			return fmt.Errorf("route %s: rewrite.regex is invalid: %w", routeID, err)
		}
	}

	return nil
}

// validateBodyTransform validates body transform config for a given route and phase.
func (l *Loader) validateBodyTransform(routeID, phase string, cfg BodyTransformConfig) error {
	if len(cfg.AllowFields) > 0 && len(cfg.DenyFields) > 0 {
		return fmt.Errorf("route %s: %s body transform cannot use both allow_fields and deny_fields", routeID, phase)
	}
	if cfg.Template != "" {
		funcMap := template.FuncMap{
			"json": func(v interface{}) (string, error) {
				b, err := json.Marshal(v)
				return string(b), err
			},
		}
		if _, err := template.New("body").Funcs(funcMap).Parse(cfg.Template); err != nil {
			return fmt.Errorf("route %s: %s body transform template is invalid: %w", routeID, phase, err)
		}
	}
	for i, op := range cfg.Flatmap {
		switch op.Type {
		case "move":
			if len(op.Args) < 2 {
				return fmt.Errorf("route %s: %s body transform flatmap[%d] 'move' requires 2 args (source, dest)", routeID, phase, i)
			}
		case "del":
			if len(op.Args) < 1 {
				return fmt.Errorf("route %s: %s body transform flatmap[%d] 'del' requires 1 arg (path)", routeID, phase, i)
			}
		case "extract":
			if len(op.Args) < 2 {
				return fmt.Errorf("route %s: %s body transform flatmap[%d] 'extract' requires 2 args (array_path, field_name)", routeID, phase, i)
			}
		case "flatten":
			if len(op.Args) < 1 {
				return fmt.Errorf("route %s: %s body transform flatmap[%d] 'flatten' requires 1 arg (path)", routeID, phase, i)
			}
		case "append":
			if len(op.Args) < 2 {
				return fmt.Errorf("route %s: %s body transform flatmap[%d] 'append' requires at least 2 args (dest, sources...)", routeID, phase, i)
			}
		default:
			return fmt.Errorf("route %s: %s body transform flatmap[%d] unknown type %q (supported: move, del, extract, flatten, append)", routeID, phase, i, op.Type)
		}
	}
	return nil
}

// validateRules validates a list of rule configs for a given phase.
func (l *Loader) validateRules(rules []RuleConfig, phase string) error {
	validActions := map[string]bool{
		"block":           true,
		"custom_response": true,
		"redirect":        true,
		"set_headers":     true,
		"rewrite":         true,
		"group":           true,
		"log":             true,
	}

	terminatingActions := map[string]bool{
		"block":           true,
		"custom_response": true,
		"redirect":        true,
	}

	requestOnlyActions := map[string]bool{
		"rewrite": true,
		"group":   true,
	}

	ids := make(map[string]bool)

	for i, rule := range rules {
		if rule.ID == "" {
			return fmt.Errorf("%s rule %d: id is required", phase, i)
		}
		if ids[rule.ID] {
			return fmt.Errorf("%s rule %s: duplicate id", phase, rule.ID)
		}
		ids[rule.ID] = true

		if rule.Expression == "" {
			return fmt.Errorf("%s rule %s: expression is required", phase, rule.ID)
		}

		if !validActions[rule.Action] {
			return fmt.Errorf("%s rule %s: invalid action %q (must be block, custom_response, redirect, set_headers, rewrite, group, or log)", phase, rule.ID, rule.Action)
		}

		if phase == "response" && terminatingActions[rule.Action] {
			return fmt.Errorf("%s rule %s: terminating action %q is not allowed in response phase", phase, rule.ID, rule.Action)
		}

		if phase == "response" && requestOnlyActions[rule.Action] {
			return fmt.Errorf("%s rule %s: action %q is only allowed in request phase", phase, rule.ID, rule.Action)
		}

		if rule.Action == "redirect" && rule.RedirectURL == "" {
			return fmt.Errorf("%s rule %s: redirect action requires redirect_url", phase, rule.ID)
		}

		if rule.StatusCode != 0 && (rule.StatusCode < 100 || rule.StatusCode > 599) {
			return fmt.Errorf("%s rule %s: invalid status_code %d", phase, rule.ID, rule.StatusCode)
		}

		if rule.Action == "set_headers" {
			if len(rule.Headers.Add) == 0 && len(rule.Headers.Set) == 0 && len(rule.Headers.Remove) == 0 {
				return fmt.Errorf("%s rule %s: set_headers action requires at least one header operation", phase, rule.ID)
			}
		}

		if rule.Action == "rewrite" {
			if rule.Rewrite == nil {
				return fmt.Errorf("%s rule %s: rewrite action requires rewrite config", phase, rule.ID)
			}
			if rule.Rewrite.Path == "" && rule.Rewrite.Query == "" &&
				len(rule.Rewrite.Headers.Add) == 0 && len(rule.Rewrite.Headers.Set) == 0 && len(rule.Rewrite.Headers.Remove) == 0 {
				return fmt.Errorf("%s rule %s: rewrite action requires at least one of path, query, or headers", phase, rule.ID)
			}
		}

		if rule.Action == "group" {
			if rule.Group == "" {
				return fmt.Errorf("%s rule %s: group action requires group field", phase, rule.ID)
			}
		}
	}

	return nil
}

// parseStatusRange validates a status range string like "4xx", "200", "200-299".
func parseStatusRange(s string) ([2]int, error) {
	s = strings.TrimSpace(s)
	if len(s) == 3 && s[1] == 'x' && s[2] == 'x' {
		base := int(s[0]-'0') * 100
		if base < 100 || base > 500 {
			return [2]int{}, fmt.Errorf("invalid status range %q", s)
		}
		return [2]int{base, base + 99}, nil
	}
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		lo, err1 := strconv.Atoi(parts[0])
		hi, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || lo < 100 || hi > 599 || lo > hi {
			return [2]int{}, fmt.Errorf("invalid status range %q", s)
		}
		return [2]int{lo, hi}, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return [2]int{}, fmt.Errorf("invalid status code %q", s)
	}
	return [2]int{code, code}, nil
}

// validateHealthCheck validates a health check configuration.
func (l *Loader) validateHealthCheck(scope string, cfg HealthCheckConfig) error {
	validMethods := map[string]bool{"GET": true, "HEAD": true, "OPTIONS": true, "POST": true}
	if cfg.Method != "" && !validMethods[cfg.Method] {
		return fmt.Errorf("%s: health_check.method must be GET, HEAD, OPTIONS, or POST", scope)
	}
	if cfg.Type != "" && cfg.Type != "http" && cfg.Type != "https" && cfg.Type != "tcp" {
		return fmt.Errorf("%s: health_check.type must be http, https, or tcp", scope)
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("%s: health_check.interval must be >= 0", scope)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("%s: health_check.timeout must be >= 0", scope)
	}
	if cfg.Timeout > 0 && cfg.Interval > 0 && cfg.Timeout > cfg.Interval {
		return fmt.Errorf("%s: health_check.timeout must be <= health_check.interval", scope)
	}
	if cfg.HealthyAfter < 0 {
		return fmt.Errorf("%s: health_check.healthy_after must be >= 0", scope)
	}
	if cfg.UnhealthyAfter < 0 {
		return fmt.Errorf("%s: health_check.unhealthy_after must be >= 0", scope)
	}
	for _, s := range cfg.ExpectedStatus {
		if _, err := parseStatusRange(s); err != nil {
			return fmt.Errorf("%s: health_check.expected_status: %w", scope, err)
		}
	}
	return nil
}

// validateTransportConfig validates an upstream transport (connection pool) config.
func (l *Loader) validateTransportConfig(scope string, cfg TransportConfig) error {
	if cfg.MaxIdleConns < 0 {
		return fmt.Errorf("%s: transport.max_idle_conns must be >= 0", scope)
	}
	if cfg.MaxIdleConnsPerHost < 0 {
		return fmt.Errorf("%s: transport.max_idle_conns_per_host must be >= 0", scope)
	}
	if cfg.MaxConnsPerHost < 0 {
		return fmt.Errorf("%s: transport.max_conns_per_host must be >= 0", scope)
	}
	if cfg.IdleConnTimeout < 0 {
		return fmt.Errorf("%s: transport.idle_conn_timeout must be >= 0", scope)
	}
	if cfg.DialTimeout < 0 {
		return fmt.Errorf("%s: transport.dial_timeout must be >= 0", scope)
	}
	if cfg.TLSHandshakeTimeout < 0 {
		return fmt.Errorf("%s: transport.tls_handshake_timeout must be >= 0", scope)
	}
	if cfg.ResponseHeaderTimeout < 0 {
		return fmt.Errorf("%s: transport.response_header_timeout must be >= 0", scope)
	}
	if cfg.ExpectContinueTimeout < 0 {
		return fmt.Errorf("%s: transport.expect_continue_timeout must be >= 0", scope)
	}
	if (cfg.CertFile != "") != (cfg.KeyFile != "") {
		return fmt.Errorf("%s: transport.cert_file and transport.key_file must both be set", scope)
	}
	if cfg.EnableHTTP3 != nil && *cfg.EnableHTTP3 && cfg.ForceHTTP2 != nil && *cfg.ForceHTTP2 {
		return fmt.Errorf("%s: transport.enable_http3 and transport.force_http2 are mutually exclusive", scope)
	}
	return nil
}

// validLoadBalancers is the set of supported upstream load balancer algorithms.
var validLoadBalancers = map[string]bool{
	"":                true, // defaults to round_robin
	"round_robin":     true,
	"random":          true,
	"consistent_hash": true,
	"fnv_hash":        true,
}

// validateUpstream validates a single named upstream.
func (l *Loader) validateUpstream(id string, up UpstreamConfig) error {
	scope := fmt.Sprintf("upstream %s", id)

	if len(up.Backends) == 0 && up.Service.Name == "" {
		return fmt.Errorf("%s: must have either backends or service name", scope)
	}

	if !validLoadBalancers[up.LoadBalancer] {
		return fmt.Errorf("%s: load_balancer must be round_robin, random, consistent_hash, or fnv_hash", scope)
	}
	if up.LoadBalancer == "consistent_hash" {
		validKeys := map[string]bool{"header": true, "cookie": true, "path": true, "ip": true}
		if !validKeys[up.ConsistentHash.Key] {
			return fmt.Errorf("%s: consistent_hash.key must be header, cookie, path, or ip", scope)
		}
		if (up.ConsistentHash.Key == "header" || up.ConsistentHash.Key == "cookie") && up.ConsistentHash.HeaderName == "" {
			return fmt.Errorf("%s: consistent_hash.header_name is required for header/cookie key mode", scope)
		}
	}

	if up.HealthCheck != nil {
		if err := l.validateHealthCheck(scope, *up.HealthCheck); err != nil {
			return err
		}
	}
	if err := l.validateTransportConfig(scope, up.Transport); err != nil {
		return err
	}
	for i, b := range up.Backends {
		if b.HealthCheck != nil {
			if err := l.validateHealthCheck(fmt.Sprintf("%s backend %d", scope, i), *b.HealthCheck); err != nil {
				return err
			}
		}
	}

	if up.RetryPolicy.MaxAttempts > 1 {
		if up.RetryPolicy.TotalBudget < 0 {
			return fmt.Errorf("%s: retry_policy total_budget must be >= 0", scope)
		}
		for _, status := range up.RetryPolicy.RetryableStatuses {
			if status < 100 || status > 599 {
				return fmt.Errorf("%s: retry_policy contains invalid HTTP status code: %d", scope, status)
			}
		}
	}

	return nil
}
