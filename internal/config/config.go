package config

import (
	"encoding/json"
	"time"
)

// Protocol defines the listener protocol type
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
)

// UpstreamConfig defines a named backend pool that can be referenced by multiple routes.
type UpstreamConfig struct {
	ID             string               `yaml:"id"`
	Backends       []BackendConfig      `yaml:"backends"`
	Service        ServiceConfig        `yaml:"service"`
	LoadBalancer   string               `yaml:"load_balancer"` // "round_robin"|"random"|"consistent_hash"|"fnv_hash"
	ConsistentHash ConsistentHashConfig `yaml:"consistent_hash"`
	HealthCheck    *HealthCheckConfig   `yaml:"health_check"`
	Transport      TransportConfig      `yaml:"transport"`
	RetryPolicy    RetryConfig          `yaml:"retry_policy"`
	TimeoutPolicy  TimeoutConfig        `yaml:"timeout_policy"`
}

// PluginConfig is the ordered plugin map spec.md's Data Model describes for
// routes, services and global rules: a plugin name maps to its own
// unvalidated configuration blob rather than a bespoke Go struct per
// feature. internal/catalog stores the blob unchecked; it is decoded and
// checked by the plugin's own builder when the admin API accepts a write
// and when internal/lifecycle compiles routes.
type PluginConfig map[string]json.RawMessage

// GlobalRuleConfig applies a plugin map to every request regardless of
// which route matched, per spec.md §3's GlobalRule entity.
type GlobalRuleConfig struct {
	ID      string       `yaml:"id"`
	Plugins PluginConfig `yaml:"plugins"`
}

// SSLConfig is one SNI certificate/key pair plus the hostnames (exact or
// "*.example.com" wildcard) it should be served for, per spec.md §4.7.
type SSLConfig struct {
	ID       string   `yaml:"id"`
	Snis     []string `yaml:"snis"`
	Cert     string   `yaml:"cert"`      // PEM certificate, inline or file path
	Key      string   `yaml:"key"`       // PEM private key, inline or file path
	IsDefault bool    `yaml:"is_default"`
}

// Config represents the complete gateway configuration
type Config struct {
	Listeners      []ListenerConfig              `yaml:"listeners"`
	Registry       RegistryConfig                `yaml:"registry"`
	Upstreams      map[string]UpstreamConfig     `yaml:"upstreams"`
	Routes         []RouteConfig                 `yaml:"routes"`
	Services       []ServiceDefConfig            `yaml:"services"`
	GlobalRules    []GlobalRuleConfig            `yaml:"global_rules"`
	SSL            []SSLConfig                   `yaml:"ssl"`
	Logging        LoggingConfig        `yaml:"logging"`
	Admin          AdminConfig          `yaml:"admin"`
	Rules          RulesConfig          `yaml:"rules"`           // Global rules engine
	HealthCheck    HealthCheckConfig    `yaml:"health_check"`    // Global health check settings
}

// ListenerConfig defines a listener configuration
type ListenerConfig struct {
	ID       string             `yaml:"id"`
	Address  string             `yaml:"address"`   // e.g., ":8080"
	Protocol Protocol           `yaml:"protocol"`
	TLS      TLSConfig          `yaml:"tls"`
	ACME     ACMEConfig         `yaml:"acme"` // Automatic certificate provisioning via ACME/Let's Encrypt
	HTTP     HTTPListenerConfig `yaml:"http,omitempty"`
	TCP      TCPListenerConfig  `yaml:"tcp,omitempty"`
	UDP      UDPListenerConfig  `yaml:"udp,omitempty"`
}

// ACMEConfig defines ACME (Let's Encrypt) automatic certificate provisioning settings.
type ACMEConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Domains       []string `yaml:"domains"`
	Email         string   `yaml:"email"`
	DirectoryURL  string   `yaml:"directory_url"`  // ACME directory (default: Let's Encrypt production)
	CacheDir      string   `yaml:"cache_dir"`      // Certificate cache directory (default: /var/lib/pingsix/acme)
	ChallengeType string   `yaml:"challenge_type"` // "tls-alpn-01" (default) or "http-01"
	HTTPAddress   string   `yaml:"http_address"`   // HTTP-01 challenge bind address (default ":80")
}

// HTTPListenerConfig defines HTTP-specific listener settings
type HTTPListenerConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	EnableHTTP3       bool          `yaml:"enable_http3"` // serve HTTP/3 over QUIC on same port
}

// TCPListenerConfig defines TCP-specific listener settings
type TCPListenerConfig struct {
	SNIRouting     bool          `yaml:"sni_routing"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ProxyProtocol  bool          `yaml:"proxy_protocol"`
}

// UDPListenerConfig defines UDP-specific listener settings
type UDPListenerConfig struct {
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
}



// RegistryConfig defines service registry settings
type RegistryConfig struct {
	Type       string           `yaml:"type"` // etcd or memory
	Etcd       EtcdConfig       `yaml:"etcd"`
}


// EtcdConfig defines etcd-specific settings
type EtcdConfig struct {
	Endpoints []string  `yaml:"endpoints"`
	Username  string    `yaml:"username"`
	Password  string    `yaml:"password"`
	TLS       TLSConfig `yaml:"tls"`
	Key       string    `yaml:"key"` // etcd key holding the whole config document, default "/pingsix/config"
}

// TLSConfig defines TLS settings
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ClientAuth string `yaml:"client_auth"` // Feature 11: mTLS - none, request, require, verify
	ClientCAFile string `yaml:"client_ca_file"` // Feature 11: mTLS
}




// APIKeyConfig defines API key authentication settings
type APIKeyConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Header     string       `yaml:"header"`
	QueryParam string       `yaml:"query_param"`
	Keys       []APIKeyEntry `yaml:"keys"`
}

// APIKeyEntry represents a single API key
type APIKeyEntry struct {
	Key       string    `yaml:"key"`
	ClientID  string    `yaml:"client_id"`
	Name      string    `yaml:"name"`
	ExpiresAt string    `yaml:"expires_at"` // Feature 14: RFC3339 expiration
	Roles     []string  `yaml:"roles"`      // Feature 14: Role-based access
}

// JWTConfig defines JWT authentication settings
type JWTConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Secret              string        `yaml:"secret"`
	PublicKey           string        `yaml:"public_key"`
	Issuer              string        `yaml:"issuer"`
	Audience            []string      `yaml:"audience"`
	Algorithm           string        `yaml:"algorithm"`             // HS256, RS256
	JWKSURL             string        `yaml:"jwks_url"`              // JWKS endpoint for dynamic key fetching
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval"` // default 1h
}

// BasicAuthConfig defines HTTP Basic Authentication settings against a
// local user list.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled"`
	Realm   string          `yaml:"realm"`
	Users   []BasicAuthUser `yaml:"users"`
}

// BasicAuthUser is a single local Basic Auth credential entry.
type BasicAuthUser struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	ClientID     string   `yaml:"client_id"`
	Roles        []string `yaml:"roles"`
}


// RouteConfig defines a single route
type RouteConfig struct {
	ID             string               `yaml:"id"`
	Priority       int                  `yaml:"priority"` // higher wins on overlapping matches, per §4.2
	Host           string               `yaml:"host"`     // exact host, "*.example.com" wildcard, or "" (any host)
	Path           string               `yaml:"path"`     // supports "{name}" and trailing "{*name}" segments
	PathPrefix     bool                 `yaml:"path_prefix"`
	Methods        []string             `yaml:"methods"`
	Match          MatchConfig          `yaml:"match"`
	Backends       []BackendConfig      `yaml:"backends"`
	Service        ServiceConfig        `yaml:"service"`
	ServiceID      string               `yaml:"service_id"` // reference to Config.Services, per spec's Service entity
	Plugins        PluginConfig         `yaml:"plugins"`
	Upstream       string               `yaml:"upstream"` // reference to named upstream in Config.Upstreams
	Transform      TransformConfig      `yaml:"transform"`
	Timeout        time.Duration        `yaml:"timeout"`
	StripPrefix    bool                 `yaml:"strip_prefix"`
	RetryPolicy    RetryConfig          `yaml:"retry_policy"`
	TimeoutPolicy  TimeoutConfig        `yaml:"timeout_policy"`
	Rewrite              RewriteConfig              `yaml:"rewrite"`               // URL rewriting (prefix, regex, host override)
	FollowRedirects      FollowRedirectsConfig      `yaml:"follow_redirects"`      // Follow backend 3xx redirects
}


// ConsistentHashConfig defines consistent hash load balancer settings.
type ConsistentHashConfig struct {
	Key        string `yaml:"key"`         // "header"|"cookie"|"path"|"ip"
	HeaderName string `yaml:"header_name"` // required for header/cookie
	Replicas   int    `yaml:"replicas"`    // virtual nodes per backend, default 150
}

// RetryConfig defines retry policy settings: how many attempts a request
// gets and how long the whole attempt sequence may run, per route.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	TotalBudget       time.Duration `yaml:"total_budget"`
	RetryableStatuses []int         `yaml:"retryable_statuses"`
	RetryableMethods  []string      `yaml:"retryable_methods"`
	PerTryTimeout     time.Duration `yaml:"per_try_timeout"`
	Budget            BudgetConfig  `yaml:"budget"`
	BudgetPool        string        `yaml:"budget_pool"` // name of a shared retry budget; no code reads this field
}

// BudgetConfig defines retry budget settings to prevent retry storms.
type BudgetConfig struct {
	Ratio      float64       `yaml:"ratio"`       // max ratio of retries to total requests (0.0-1.0)
	MinRetries int           `yaml:"min_retries"` // always allow at least N retries/sec
	Window     time.Duration `yaml:"window"`      // sliding window (default 10s)
}

// TimeoutConfig defines timeout policy settings
type TimeoutConfig struct {
	Request       time.Duration `yaml:"request"`
	Idle          time.Duration `yaml:"idle"`
	Backend       time.Duration `yaml:"backend"`
	HeaderTimeout time.Duration `yaml:"header_timeout"`
}

// IsActive returns true if any timeout is configured.
func (c TimeoutConfig) IsActive() bool {
	return c.Request > 0 || c.Idle > 0 || c.Backend > 0 || c.HeaderTimeout > 0
}


// CacheConfig defines request caching settings
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	MaxSize     int           `yaml:"max_size"`
	MaxBodySize int64         `yaml:"max_body_size"`
	KeyHeaders  []string      `yaml:"key_headers"`
	Methods     []string      `yaml:"methods"`
	Mode        string        `yaml:"mode"`        // "local" (default) or "distributed" (Redis-backed)
	Conditional bool          `yaml:"conditional"` // enable ETag/Last-Modified/304 support
	Bucket      string        `yaml:"bucket"`      // named shared cache bucket (routes with same bucket share a store)
}




// IPFilterConfig defines IP allow/deny list settings (Feature 2)
type IPFilterConfig struct {
	Enabled bool     `yaml:"enabled"`
	Allow   []string `yaml:"allow"`        // CIDR list
	Deny    []string `yaml:"deny"`         // CIDR list
	Order   string   `yaml:"order"`        // "allow_first" or "deny_first"
}

// CORSConfig defines CORS settings (Feature 3)
type CORSConfig struct {
	Enabled             bool     `yaml:"enabled"`
	AllowOrigins        []string `yaml:"allow_origins"`
	AllowOriginPatterns []string `yaml:"allow_origin_patterns"` // regex patterns
	AllowMethods        []string `yaml:"allow_methods"`
	AllowHeaders        []string `yaml:"allow_headers"`
	ExposeHeaders       []string `yaml:"expose_headers"`
	AllowCredentials    bool     `yaml:"allow_credentials"`
	AllowPrivateNetwork bool     `yaml:"allow_private_network"` // Access-Control-Allow-Private-Network
	MaxAge              int      `yaml:"max_age"`               // seconds
}

// CompressionConfig defines response compression settings (Feature 4)
type CompressionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Level        int      `yaml:"level"`         // 0-11, default 6
	MinSize      int      `yaml:"min_size"`      // default 1024 bytes
	ContentTypes []string `yaml:"content_types"` // MIME types to compress
	Algorithms   []string `yaml:"algorithms"`    // "gzip", "br", "zstd"; default all three
}


















// RewriteConfig defines URL rewriting rules for a route.
type RewriteConfig struct {
	Prefix      string `yaml:"prefix"`      // replace matched path prefix with this value
	Regex       string `yaml:"regex"`       // regex pattern to match on request path
	Replacement string `yaml:"replacement"` // replacement string for regex (supports $1, $2 capture groups)
	Host        string `yaml:"host"`        // override Host header sent to backend
}

// MetricsConfig defines Prometheus metrics settings (Feature 5)
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default "/metrics"
}






























// AccessLogConfig defines per-route access log settings.
type AccessLogConfig struct {
	Enabled          *bool                `yaml:"enabled"`           // nil=inherit global, false=disable
	Format           string               `yaml:"format"`            // override global format
	HeadersInclude   []string             `yaml:"headers_include"`   // headers to log
	HeadersExclude   []string             `yaml:"headers_exclude"`   // headers to exclude
	SensitiveHeaders []string             `yaml:"sensitive_headers"` // headers to mask
	Body             AccessLogBodyConfig  `yaml:"body"`
	Conditions       AccessLogConditions  `yaml:"conditions"`
}

// AccessLogBodyConfig defines body capture settings for access logging.
type AccessLogBodyConfig struct {
	Enabled      bool     `yaml:"enabled"`
	MaxSize      int      `yaml:"max_size"`       // default 4096
	ContentTypes []string `yaml:"content_types"`  // e.g. ["application/json"]
	Request      bool     `yaml:"request"`        // capture request body
	Response     bool     `yaml:"response"`       // capture response body
}

// AccessLogConditions defines conditions for when to emit access logs.
type AccessLogConditions struct {
	StatusCodes []string `yaml:"status_codes"` // "4xx", "5xx", "200", "200-299"
	Methods     []string `yaml:"methods"`      // "POST", "DELETE"
	SampleRate  float64  `yaml:"sample_rate"`  // 0.0-1.0 (0 = log all)
}





// BodyTransformConfig defines request/response body transformation settings (Feature 13)
type BodyTransformConfig struct {
	AddFields    map[string]string `yaml:"add_fields"`
	RemoveFields []string          `yaml:"remove_fields"`
	RenameFields map[string]string `yaml:"rename_fields"`
	SetFields    map[string]string `yaml:"set_fields"`
	AllowFields  []string          `yaml:"allow_fields"`
	DenyFields   []string          `yaml:"deny_fields"`
	Template     string            `yaml:"template"`
	Target       string            `yaml:"target"`  // gjson path to extract as root response
	Flatmap      []FlatmapOperation `yaml:"flatmap"` // array manipulation operations
}

// FlatmapOperation defines a single flatmap array manipulation.
type FlatmapOperation struct {
	Type string   `yaml:"type"` // "move", "del", "extract", "flatten", "append"
	Args []string `yaml:"args"` // operation-specific arguments
}

// IsActive returns true if any body transform operation is configured.
func (c BodyTransformConfig) IsActive() bool {
	return len(c.AddFields) > 0 || len(c.RemoveFields) > 0 || len(c.RenameFields) > 0 ||
		len(c.SetFields) > 0 || len(c.AllowFields) > 0 || len(c.DenyFields) > 0 ||
		c.Template != "" || c.Target != "" || len(c.Flatmap) > 0
}

// MatchConfig defines route match criteria for domain/header/query/cookie matching
type MatchConfig struct {
	Domains []string             `yaml:"domains"`
	Headers []HeaderMatchConfig  `yaml:"headers"`
	Query   []QueryMatchConfig   `yaml:"query"`
	Cookies []CookieMatchConfig  `yaml:"cookies"`
}

// HeaderMatchConfig defines a single header match criterion
type HeaderMatchConfig struct {
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	Present *bool  `yaml:"present"`
	Regex   string `yaml:"regex"`
}

// QueryMatchConfig defines a single query parameter match criterion
type QueryMatchConfig struct {
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	Present *bool  `yaml:"present"`
	Regex   string `yaml:"regex"`
}

// CookieMatchConfig defines a single cookie match criterion
type CookieMatchConfig struct {
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	Present *bool  `yaml:"present"`
	Regex   string `yaml:"regex"`
}

// BackendConfig defines a static backend
type BackendConfig struct {
	URL         string             `yaml:"url"`
	Weight      int                `yaml:"weight"`
	HealthCheck *HealthCheckConfig `yaml:"health_check"` // nil = inherit global
}

// ServiceConfig defines service discovery settings for a route
type ServiceConfig struct {
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

// ServiceDefConfig is spec.md §3's Service entity: a named bundle of
// upstream reference and plugin map that routes can point at via
// RouteConfig.ServiceID, so a group of routes shares one upstream/plugin
// configuration without repeating it.
type ServiceDefConfig struct {
	ID         string       `yaml:"id"`
	UpstreamID string       `yaml:"upstream_id"`
	Plugins    PluginConfig `yaml:"plugins"`
}


// RateLimitConfig defines rate limiting settings
type RateLimitConfig struct {
	Enabled     bool                    `yaml:"enabled"`
	Rate        int                     `yaml:"rate"`
	Period      time.Duration           `yaml:"period"`
	Burst       int                     `yaml:"burst"`
	PerIP       bool                    `yaml:"per_ip"`
	Key         string                  `yaml:"key"`          // Custom key extraction: "ip", "client_id", "header:<name>", "cookie:<name>", "jwt_claim:<name>"
	Mode        string                  `yaml:"mode"`         // "local" (default) or "distributed"
	Algorithm   string                  `yaml:"algorithm"`    // "token_bucket" (default) or "sliding_window"
	Tiers       map[string]TierConfig   `yaml:"tiers"`        // per-tier rate limits
	TierKey     string                  `yaml:"tier_key"`     // "header:<name>" or "jwt_claim:<name>"
	DefaultTier string                  `yaml:"default_tier"` // fallback tier name
}

// TierConfig defines rate limits for a single tier.
type TierConfig struct {
	Rate   int           `yaml:"rate"`
	Period time.Duration `yaml:"period"`
	Burst  int           `yaml:"burst"`
}



// TransformConfig defines request/response transformations
type TransformConfig struct {
	Request  RequestTransform  `yaml:"request"`
	Response ResponseTransform `yaml:"response"`
}

// RequestTransform defines request transformations
type RequestTransform struct {
	Headers HeaderTransform     `yaml:"headers"`
	Body    BodyTransformConfig `yaml:"body"` // Feature 13
}

// ResponseTransform defines response transformations
type ResponseTransform struct {
	Headers HeaderTransform     `yaml:"headers"`
	Body    BodyTransformConfig `yaml:"body"` // Feature 13
}

// HeaderTransform defines header transformations
type HeaderTransform struct {
	Add    map[string]string `yaml:"add"`
	Set    map[string]string `yaml:"set"`
	Remove []string          `yaml:"remove"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Format   string            `yaml:"format"`
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"`
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// AdminConfig defines admin API settings
type AdminConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	APIKey    string          `yaml:"api_key"`   // required in the X-API-KEY header on every /apisix/admin request
	Pprof     bool            `yaml:"pprof"`     // Enable /debug/pprof/* endpoints
	Metrics   MetricsConfig   `yaml:"metrics"`   // Feature 5: Prometheus metrics
	Readiness ReadinessConfig `yaml:"readiness"` // Readiness probe configuration
}

// ReadinessConfig defines readiness probe settings.
type ReadinessConfig struct {
	MinHealthyBackends int  `yaml:"min_healthy_backends"` // default 1
	RequireRedis       bool `yaml:"require_redis"`
}

// RulesConfig defines request and response phase rules.
type RulesConfig struct {
	Request  []RuleConfig `yaml:"request"`
	Response []RuleConfig `yaml:"response"`
}

// RuleConfig defines a single rule.
type RuleConfig struct {
	ID          string               `yaml:"id"`
	Enabled     *bool                `yaml:"enabled"`       // default true
	Expression  string               `yaml:"expression"`
	Action      string               `yaml:"action"`        // block, custom_response, redirect, set_headers, rewrite, group, log
	StatusCode  int                  `yaml:"status_code"`
	Body        string               `yaml:"body"`
	RedirectURL string               `yaml:"redirect_url"`
	Headers     HeaderTransform      `yaml:"headers"`
	Description string               `yaml:"description"`
	Rewrite     *RewriteActionConfig `yaml:"rewrite"`
	Group       string               `yaml:"group"`       // traffic split group name
	LogMessage  string               `yaml:"log_message"` // optional custom log message
}

// RewriteActionConfig defines path/query/header rewriting for the rewrite action.
type RewriteActionConfig struct {
	Path    string          `yaml:"path"`
	Query   string          `yaml:"query"`
	Headers HeaderTransform `yaml:"headers"`
}







// FaultInjectionConfig defines fault injection settings for chaos testing.
type FaultInjectionConfig struct {
	Enabled bool             `yaml:"enabled"`
	Delay   FaultDelayConfig `yaml:"delay"`
	Abort   FaultAbortConfig `yaml:"abort"`
}

// FaultDelayConfig defines delay injection settings.
type FaultDelayConfig struct {
	Percentage int           `yaml:"percentage"` // 0-100
	Duration   time.Duration `yaml:"duration"`
}

// FaultAbortConfig defines abort injection settings.
type FaultAbortConfig struct {
	Percentage int `yaml:"percentage"`  // 0-100
	StatusCode int `yaml:"status_code"` // HTTP status to return
}




// HealthCheckConfig defines backend health check settings.
type HealthCheckConfig struct {
	Type           string            `yaml:"type"`             // "http"|"https"|"tcp", default "http"
	Path           string            `yaml:"path"`             // default "/health"
	Method         string            `yaml:"method"`           // default "GET"
	Headers        map[string]string `yaml:"headers"`          // request headers sent with each HTTP/HTTPS probe
	Interval       time.Duration     `yaml:"interval"`         // default 10s
	Timeout        time.Duration     `yaml:"timeout"`          // default 5s
	HealthyAfter   int               `yaml:"healthy_after"`    // default 2
	UnhealthyAfter int               `yaml:"unhealthy_after"`  // default 3
	ExpectedStatus []string          `yaml:"expected_status"`  // e.g. ["200", "2xx", "200-299"]; default 200-399
}




// CSRFConfig defines CSRF protection settings using double-submit cookie pattern.
type CSRFConfig struct {
	Enabled               bool          `yaml:"enabled"`
	CookieName            string        `yaml:"cookie_name"`             // default "_csrf"
	HeaderName            string        `yaml:"header_name"`             // default "X-CSRF-Token"
	Secret                string        `yaml:"secret"`                  // HMAC key (required when enabled)
	TokenTTL              time.Duration `yaml:"token_ttl"`               // default 1h
	SafeMethods           []string      `yaml:"safe_methods"`            // default GET,HEAD,OPTIONS,TRACE
	AllowedOrigins        []string      `yaml:"allowed_origins"`         // exact origin matches
	AllowedOriginPatterns []string      `yaml:"allowed_origin_patterns"` // regex patterns
	CookiePath            string        `yaml:"cookie_path"`             // default "/"
	CookieDomain          string        `yaml:"cookie_domain"`
	CookieSecure          bool          `yaml:"cookie_secure"`           // default true (set explicitly in YAML)
	CookieSameSite        string        `yaml:"cookie_samesite"`         // strict/lax/none, default "lax"
	CookieHTTPOnly        bool          `yaml:"cookie_http_only"`        // default false (JS must read cookie)
	InjectToken           bool          `yaml:"inject_token"`            // default true (set explicitly in YAML)
	ShadowMode            bool          `yaml:"shadow_mode"`             // log but don't reject
	ExemptPaths           []string      `yaml:"exempt_paths"`            // glob patterns
}



// GeoConfig defines geolocation filtering settings.
type GeoConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Database       string   `yaml:"database"`        // global only: path to .mmdb or .ipdb
	InjectHeaders  bool     `yaml:"inject_headers"`  // inject X-Geo-Country / X-Geo-City headers
	AllowCountries []string `yaml:"allow_countries"` // ISO 3166-1 alpha-2
	DenyCountries  []string `yaml:"deny_countries"`
	AllowCities    []string `yaml:"allow_cities"`
	DenyCities     []string `yaml:"deny_cities"`
	Order          string   `yaml:"order"`           // "allow_first" or "deny_first" (default)
	ShadowMode     bool     `yaml:"shadow_mode"`     // log but don't reject
}








// TransportConfig defines upstream HTTP transport (connection pool) settings.
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
	CertFile              string        `yaml:"cert_file"`
	KeyFile               string        `yaml:"key_file"`
	ForceHTTP2            *bool         `yaml:"force_http2"`
	EnableHTTP3           *bool         `yaml:"enable_http3"` // connect via QUIC to upstream
}






// FollowRedirectsConfig enables following backend 3xx redirects.
type FollowRedirectsConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxRedirects int  `yaml:"max_redirects"` // default 10
}





















// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listeners: []ListenerConfig{{
			ID:       "default-http",
			Address:  ":8080",
			Protocol: ProtocolHTTP,
			HTTP: HTTPListenerConfig{
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			},
		}},
		Registry: RegistryConfig{
			Type: "memory",
			Etcd: EtcdConfig{
				Endpoints: []string{"localhost:2379"},
			},
		},
		Logging: LoggingConfig{
			Format: `$remote_addr - [$time_iso8601] "$request_method $request_uri" $status $body_bytes_sent "$http_user_agent" $response_time`,
			Level:  "info",
			Output: "stdout",
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    8081,
		},
	}
}
