package router

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/pingsix/pingsix/internal/config"
)

// CompiledMatcher evaluates domain, header, query, and cookie match criteria for a route.
type CompiledMatcher struct {
	domains []domainMatcher
	headers []headerMatcher
	queries []queryMatcher
	cookies []cookieMatcher
	methods map[string]bool // nil = all methods allowed
}

type domainMatcher struct {
	exact    string // non-empty for exact match
	wildcard string // suffix like ".example.com" for *.example.com
}

type headerMatcher struct {
	name    string
	exact   string
	present *bool
	regex   *regexp.Regexp
}

type queryMatcher struct {
	name    string
	exact   string
	present *bool
	regex   *regexp.Regexp
}

type cookieMatcher struct {
	name    string
	exact   string
	present *bool
	regex   *regexp.Regexp
}

// NewCompiledMatcher creates a CompiledMatcher from config, method list, and
// the route's top-level Host field (merged into the domain set alongside
// Match.Domains so a route can use either or both).
func NewCompiledMatcher(mc config.MatchConfig, methods []string, host string) *CompiledMatcher {
	cm := &CompiledMatcher{}

	domains := mc.Domains
	if host != "" {
		domains = append(append([]string{}, domains...), host)
	}

	// Compile domain matchers
	for _, d := range domains {
		if strings.HasPrefix(d, "*.") {
			cm.domains = append(cm.domains, domainMatcher{wildcard: d[1:]}) // ".example.com"
		} else {
			cm.domains = append(cm.domains, domainMatcher{exact: d})
		}
	}

	// Compile header matchers
	for _, h := range mc.Headers {
		hm := headerMatcher{name: h.Name}
		if h.Value != "" {
			hm.exact = h.Value
		} else if h.Present != nil {
			hm.present = h.Present
		} else if h.Regex != "" {
			hm.regex = regexp.MustCompile(h.Regex) // already validated in loader
		}
		cm.headers = append(cm.headers, hm)
	}

	// Compile query matchers
	for _, q := range mc.Query {
		qm := queryMatcher{name: q.Name}
		if q.Value != "" {
			qm.exact = q.Value
		} else if q.Present != nil {
			qm.present = q.Present
		} else if q.Regex != "" {
			qm.regex = regexp.MustCompile(q.Regex) // already validated in loader
		}
		cm.queries = append(cm.queries, qm)
	}

	// Compile cookie matchers
	for _, c := range mc.Cookies {
		ckm := cookieMatcher{name: c.Name}
		if c.Value != "" {
			ckm.exact = c.Value
		} else if c.Present != nil {
			ckm.present = c.Present
		} else if c.Regex != "" {
			ckm.regex = regexp.MustCompile(c.Regex) // already validated in loader
		}
		cm.cookies = append(cm.cookies, ckm)
	}

	// Methods
	if len(methods) > 0 {
		cm.methods = make(map[string]bool, len(methods))
		for _, m := range methods {
			cm.methods[strings.ToUpper(m)] = true
		}
	}

	return cm
}

// Matches evaluates all criteria against the request.
func (cm *CompiledMatcher) Matches(r *http.Request) bool {
	// Method check
	if cm.methods != nil && !cm.methods[r.Method] {
		return false
	}

	// Domain check — at least one domain must match (OR within domains)
	if len(cm.domains) > 0 {
		host := r.Host
		// Strip port if present
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
		matched := false
		for _, dm := range cm.domains {
			if dm.exact != "" && strings.EqualFold(host, dm.exact) {
				matched = true
				break
			}
			if dm.wildcard != "" && strings.HasSuffix(strings.ToLower(host), strings.ToLower(dm.wildcard)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Header checks — all must match (AND)
	for _, hm := range cm.headers {
		val := r.Header.Get(hm.name)
		if hm.present != nil {
			has := val != "" || r.Header.Get(hm.name) != "" // Get returns "" for missing
			// More precise: check if header key exists
			_, has = r.Header[http.CanonicalHeaderKey(hm.name)]
			if has != *hm.present {
				return false
			}
			continue
		}
		if hm.exact != "" {
			if val != hm.exact {
				return false
			}
			continue
		}
		if hm.regex != nil {
			if !hm.regex.MatchString(val) {
				return false
			}
			continue
		}
	}

	// Query checks — all must match (AND)
	query := r.URL.Query()
	for _, qm := range cm.queries {
		val := query.Get(qm.name)
		if qm.present != nil {
			has := query.Has(qm.name)
			if has != *qm.present {
				return false
			}
			continue
		}
		if qm.exact != "" {
			if val != qm.exact {
				return false
			}
			continue
		}
		if qm.regex != nil {
			if !qm.regex.MatchString(val) {
				return false
			}
			continue
		}
	}

	// Cookie checks — all must match (AND)
	for _, ckm := range cm.cookies {
		cookie, err := r.Cookie(ckm.name)
		has := err == nil
		if ckm.present != nil {
			if has != *ckm.present {
				return false
			}
			continue
		}
		if !has {
			return false
		}
		if ckm.exact != "" {
			if cookie.Value != ckm.exact {
				return false
			}
			continue
		}
		if ckm.regex != nil {
			if !ckm.regex.MatchString(cookie.Value) {
				return false
			}
			continue
		}
	}

	return true
}

// MatchesMethodOnly reports whether the request satisfies every non-method
// criterion (domain/header/query) but fails on method alone, used by the
// router to distinguish a 404 (no criteria matched) from a 405 (this route's
// path and criteria matched, only the verb didn't).
func (cm *CompiledMatcher) MatchesMethodOnly(r *http.Request) bool {
	if cm.methods == nil || cm.methods[r.Method] {
		return false
	}
	withoutMethod := &CompiledMatcher{domains: cm.domains, headers: cm.headers, queries: cm.queries, cookies: cm.cookies}
	return withoutMethod.Matches(r)
}

// Specificity returns a score for ordering routes. Higher = more specific.
func (cm *CompiledMatcher) Specificity() int {
	score := 0
	for _, dm := range cm.domains {
		if dm.exact != "" {
			score += 150
		} else {
			score += 100
		}
	}
	score += len(cm.headers) * 10
	score += len(cm.queries) * 10
	score += len(cm.cookies) * 10
	if cm.methods != nil {
		score += 5
	}
	return score
}
