package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal YAML into config
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Validate configuration
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	// Validate that at least one listener is configured
	if len(cfg.Listeners) == 0 {
		return fmt.Errorf("at least one listener is required")
	}

	// Validate registry type
	validTypes := map[string]bool{
		"etcd":   true,
		"memory": true,
	}
	if cfg.Registry.Type != "" && !validTypes[cfg.Registry.Type] {
		return fmt.Errorf("invalid registry type: %s", cfg.Registry.Type)
	}

	// Validate listeners
	listenerIDs := make(map[string]bool)
	for i, listener := range cfg.Listeners {
		if listener.ID == "" {
			return fmt.Errorf("listener %d: id is required", i)
		}
		if listenerIDs[listener.ID] {
			return fmt.Errorf("duplicate listener id: %s", listener.ID)
		}
		listenerIDs[listener.ID] = true

		if listener.Address == "" {
			return fmt.Errorf("listener %s: address is required", listener.ID)
		}

		// Validate protocol
		validProtocols := map[Protocol]bool{
			ProtocolHTTP: true,
			ProtocolTCP:  true,
			ProtocolUDP:  true,
		}
		if listener.Protocol == "" {
			return fmt.Errorf("listener %s: protocol is required", listener.ID)
		}
		if !validProtocols[listener.Protocol] {
			return fmt.Errorf("listener %s: invalid protocol: %s", listener.ID, listener.Protocol)
		}

		// Validate TLS config: a listener may enable TLS with a static cert/key
		// pair, ACME, or dynamic SNI resolution from the SSL store, but not
		// require a static pair when one of the other two is in play.
		if listener.TLS.Enabled {
			if listener.TLS.CertFile == "" && !listener.ACME.Enabled {
				// dynamic SNI routing via the SSL store; nothing further to check here.
				continue
			}
			if listener.TLS.CertFile != "" && listener.TLS.KeyFile == "" {
				return fmt.Errorf("listener %s: TLS cert_file set but key_file not provided", listener.ID)
			}
		}
	}

	// Validate upstreams
	for id, up := range cfg.Upstreams {
		if err := l.validateUpstream(id, up); err != nil {
			return err
		}
	}

	// Validate services
	serviceIDs := make(map[string]bool)
	for i, svc := range cfg.Services {
		if svc.ID == "" {
			return fmt.Errorf("service %d: id is required", i)
		}
		if serviceIDs[svc.ID] {
			return fmt.Errorf("duplicate service id: %s", svc.ID)
		}
		serviceIDs[svc.ID] = true
		if svc.UpstreamID != "" {
			if _, ok := cfg.Upstreams[svc.UpstreamID]; !ok {
				return fmt.Errorf("service %s: references unknown upstream %q", svc.ID, svc.UpstreamID)
			}
		}
	}

	// Validate SSL certificates
	for i, s := range cfg.SSL {
		if s.ID == "" {
			return fmt.Errorf("ssl %d: id is required", i)
		}
		if len(s.Snis) == 0 {
			return fmt.Errorf("ssl %s: at least one sni is required", s.ID)
		}
		if s.Cert == "" || s.Key == "" {
			return fmt.Errorf("ssl %s: cert and key are required", s.ID)
		}
	}

	// Validate routes
	routeIDs := make(map[string]bool)
	for i, route := range cfg.Routes {
		if route.ID == "" {
			return fmt.Errorf("route %d: id is required", i)
		}
		if routeIDs[route.ID] {
			return fmt.Errorf("duplicate route id: %s", route.ID)
		}
		routeIDs[route.ID] = true

		if route.Path == "" {
			return fmt.Errorf("route %s: path is required", route.ID)
		}

		// Must have either inline backends, service discovery, a named
		// upstream, or a service reference.
		if len(route.Backends) == 0 && route.Service.Name == "" && route.Upstream == "" && route.ServiceID == "" {
			return fmt.Errorf("route %s: must have one of backends, service, upstream, or service_id", route.ID)
		}
		if route.Upstream != "" && len(route.Backends) > 0 {
			return fmt.Errorf("route %s: upstream and backends are mutually exclusive", route.ID)
		}
		if route.ServiceID != "" && (len(route.Backends) > 0 || route.Upstream != "" || route.Service.Name != "") {
			return fmt.Errorf("route %s: service_id is mutually exclusive with backends, upstream, and service", route.ID)
		}
		if route.Upstream != "" {
			if _, ok := cfg.Upstreams[route.Upstream]; !ok {
				return fmt.Errorf("route %s: references unknown upstream %q", route.ID, route.Upstream)
			}
		}
		if route.ServiceID != "" {
			if !serviceIDs[route.ServiceID] {
				return fmt.Errorf("route %s: references unknown service_id %q", route.ID, route.ServiceID)
			}
		}

		for _, m := range route.Methods {
			if !validHTTPMethods[m] {
				return fmt.Errorf("route %s: methods contains invalid HTTP method: %s", route.ID, m)
			}
		}

		// Validate match config
		if err := l.validateMatchConfig(route.ID, route.Match); err != nil {
			return err
		}

		// Validate body transforms
		if err := l.validateBodyTransform(route.ID, "request", route.Transform.Request.Body); err != nil {
			return err
		}
		if err := l.validateBodyTransform(route.ID, "response", route.Transform.Response.Body); err != nil {
			return err
		}

		// Validate rewrite config
		if err := l.validateRewriteConfig(route.ID, route.Rewrite, route.PathPrefix, route.StripPrefix); err != nil {
			return err
		}
		if route.FollowRedirects.Enabled && route.FollowRedirects.MaxRedirects < 0 {
			return fmt.Errorf("route %s: follow_redirects max_redirects must be >= 0", route.ID)
		}

		// Validate retry policy
		if route.RetryPolicy.MaxAttempts > 1 {
			if route.RetryPolicy.TotalBudget < 0 {
				return fmt.Errorf("route %s: retry_policy total_budget must be >= 0", route.ID)
			}
			for _, status := range route.RetryPolicy.RetryableStatuses {
				if status < 100 || status > 599 {
					return fmt.Errorf("route %s: retry_policy contains invalid HTTP status code: %d", route.ID, status)
				}
			}
		}
		if route.RetryPolicy.Budget.Ratio > 0 {
			if route.RetryPolicy.Budget.Ratio > 1.0 {
				return fmt.Errorf("route %s: retry_policy budget ratio must be between 0.0 and 1.0", route.ID)
			}
			if route.RetryPolicy.Budget.MinRetries < 0 {
				return fmt.Errorf("route %s: retry_policy budget min_retries must be >= 0", route.ID)
			}
			if route.RetryPolicy.Budget.Window < 0 {
				return fmt.Errorf("route %s: retry_policy budget window must be > 0", route.ID)
			}
		}

		// Validate per-backend health checks
		for i, b := range route.Backends {
			if b.HealthCheck != nil {
				if err := l.validateHealthCheck(fmt.Sprintf("route %s backend %d", route.ID, i), *b.HealthCheck); err != nil {
					return err
				}
			}
		}

		// Validate timeout policy
		if route.TimeoutPolicy.IsActive() {
			if route.TimeoutPolicy.Request < 0 {
				return fmt.Errorf("route %s: timeout_policy.request must be >= 0", route.ID)
			}
			if route.TimeoutPolicy.Idle < 0 {
				return fmt.Errorf("route %s: timeout_policy.idle must be >= 0", route.ID)
			}
			if route.TimeoutPolicy.Backend < 0 {
				return fmt.Errorf("route %s: timeout_policy.backend must be >= 0", route.ID)
			}
			if route.TimeoutPolicy.HeaderTimeout < 0 {
				return fmt.Errorf("route %s: timeout_policy.header_timeout must be >= 0", route.ID)
			}
			if route.TimeoutPolicy.Backend > 0 && route.TimeoutPolicy.Request > 0 && route.TimeoutPolicy.Backend > route.TimeoutPolicy.Request {
				return fmt.Errorf("route %s: timeout_policy.backend must be <= timeout_policy.request", route.ID)
			}
			if route.TimeoutPolicy.HeaderTimeout > 0 {
				limit := route.TimeoutPolicy.Backend
				if limit <= 0 {
					limit = route.TimeoutPolicy.Request
				}
				if limit > 0 && route.TimeoutPolicy.HeaderTimeout > limit {
					return fmt.Errorf("route %s: timeout_policy.header_timeout must be <= backend (or request) timeout", route.ID)
				}
			}
		}
	}

	// Validate global health check defaults and global rules.
	if err := l.validateHealthCheck("health_check", cfg.HealthCheck); err != nil {
		return err
	}
	if err := l.validateRules(cfg.Rules.Request, "request"); err != nil {
		return fmt.Errorf("global rules: %w", err)
	}
	if err := l.validateRules(cfg.Rules.Response, "response"); err != nil {
		return fmt.Errorf("global rules: %w", err)
	}

	// Validate global rules entries structurally only; GlobalRuleConfig.Plugins
	// is not checked here or by internal/catalog, but by each plugin's own
	// builder when internal/lifecycle compiles routes.
	globalRuleIDs := make(map[string]bool)
	for i, gr := range cfg.GlobalRules {
		if gr.ID == "" {
			return fmt.Errorf("global_rule %d: id is required", i)
		}
		if globalRuleIDs[gr.ID] {
			return fmt.Errorf("duplicate global_rule id: %s", gr.ID)
		}
		globalRuleIDs[gr.ID] = true
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	// Override with environment variables
	if registryType := os.Getenv("REGISTRY_TYPE"); registryType != "" {
		cfg.Registry.Type = registryType
	}

	if etcdEndpoints := os.Getenv("ETCD_ENDPOINTS"); etcdEndpoints != "" {
		cfg.Registry.Etcd.Endpoints = strings.Split(etcdEndpoints, ",")
	}

	return cfg, nil
}

// Merge combines two configurations, with overlay taking precedence
func Merge(base, overlay *Config) *Config {
	result := *base

	// Overlay listeners
	if len(overlay.Listeners) > 0 {
		result.Listeners = overlay.Listeners
	}

	// Overlay registry settings
	if overlay.Registry.Type != "" {
		result.Registry.Type = overlay.Registry.Type
	}

	// Append routes (don't replace)
	if len(overlay.Routes) > 0 {
		result.Routes = append(result.Routes, overlay.Routes...)
	}

	return &result
}
