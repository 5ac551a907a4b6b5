package rules

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/logging"
	"github.com/pingsix/pingsix/internal/variables"
)

// ExecuteTerminatingAction writes the response for a block, custom_response,
// or redirect action directly to w.
func ExecuteTerminatingAction(w http.ResponseWriter, r *http.Request, action Action) {
	switch action.Type {
	case "block":
		status := action.StatusCode
		if status == 0 {
			status = http.StatusForbidden
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		if action.Body != "" {
			w.Write([]byte(action.Body))
		} else {
			w.Write([]byte(http.StatusText(status)))
		}

	case "custom_response":
		status := action.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		if action.Body != "" {
			w.Write([]byte(action.Body))
		}

	case "redirect":
		status := action.StatusCode
		if status == 0 {
			status = http.StatusFound
		}
		http.Redirect(w, r, action.RedirectURL, status)
	}
}

// ExecuteRequestHeaders applies a header transform to the request in-place.
func ExecuteRequestHeaders(r *http.Request, headers config.HeaderTransform) {
	for k, v := range headers.Add {
		r.Header.Add(k, v)
	}
	for k, v := range headers.Set {
		r.Header.Set(k, v)
	}
	for _, k := range headers.Remove {
		r.Header.Del(k)
	}
}

// ApplyHeaderTransform applies a header transform directly to an
// http.Header, for call sites (buffered response rewriting) that have no
// http.ResponseWriter to hand.
func ApplyHeaderTransform(h http.Header, headers config.HeaderTransform) {
	for k, v := range headers.Add {
		h.Add(k, v)
	}
	for k, v := range headers.Set {
		h.Set(k, v)
	}
	for _, k := range headers.Remove {
		h.Del(k)
	}
}

// ExecuteResponseHeaders applies a header transform to a response writer.
func ExecuteResponseHeaders(w http.ResponseWriter, headers config.HeaderTransform) {
	ApplyHeaderTransform(w.Header(), headers)
}

// ExecuteRewrite rewrites the request's path, query string, and/or headers.
func ExecuteRewrite(r *http.Request, cfg *config.RewriteActionConfig) {
	if cfg == nil {
		return
	}
	if cfg.Path != "" {
		r.URL.Path = cfg.Path
	}
	if cfg.Query != "" {
		r.URL.RawQuery = cfg.Query
	}
	ExecuteRequestHeaders(r, cfg.Headers)
}

// ExecuteGroup assigns the request to a named traffic split group.
func ExecuteGroup(varCtx *variables.Context, groupName string) {
	if varCtx != nil {
		varCtx.TrafficGroup = groupName
	}
}

// ExecuteLog logs a matched request-phase rule with structured context.
func ExecuteLog(ruleID string, r *http.Request, varCtx *variables.Context, message string) {
	fields := []zap.Field{
		zap.String("rule_id", ruleID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	}
	if varCtx != nil && varCtx.RouteID != "" {
		fields = append(fields, zap.String("route_id", varCtx.RouteID))
	}
	if message != "" {
		fields = append(fields, zap.String("message", message))
	}
	logging.Info("rule_log", fields...)
}

// ExecuteResponseLog logs a matched response-phase rule with structured context.
func ExecuteResponseLog(ruleID string, r *http.Request, statusCode int, message string) {
	fields := []zap.Field{
		zap.String("rule_id", ruleID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("status", statusCode),
	}
	if message != "" {
		fields = append(fields, zap.String("message", message))
	}
	logging.Info("rule_log", fields...)
}
