package rules

import (
	"bytes"
	"fmt"
	"net/http"
)

// ResponseWriter intercepts WriteHeader and Write to buffer the entire
// response until response-phase rules have run, so a rule can still
// rewrite status, headers, or body before anything reaches the client.
// After Flush is called, further writes pass straight through.
type ResponseWriter struct {
	underlying http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	flushed    bool
}

// NewResponseWriter wraps an http.ResponseWriter for response-phase rule evaluation.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		underlying: w,
		statusCode: http.StatusOK,
	}
}

// Header returns the real header map so rules can modify it before flush.
func (rw *ResponseWriter) Header() http.Header {
	return rw.underlying.Header()
}

// WriteHeader captures the status code but does not forward it yet.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.flushed {
		rw.statusCode = code
	}
}

// Write buffers data until Flush is called.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if rw.flushed {
		return rw.underlying.Write(b)
	}
	return rw.body.Write(b)
}

// Flush sends the (possibly rule-modified) status and buffered body to the
// underlying writer. Safe to call more than once; only the first call
// takes effect. Content-Length is recomputed since the body may have
// changed.
func (rw *ResponseWriter) Flush() {
	if rw.flushed {
		return
	}
	rw.flushed = true
	rw.underlying.Header().Del("Content-Length")
	if rw.body.Len() > 0 {
		rw.underlying.Header().Set("Content-Length", fmt.Sprintf("%d", rw.body.Len()))
	}
	rw.underlying.WriteHeader(rw.statusCode)
	if rw.body.Len() > 0 {
		rw.underlying.Write(rw.body.Bytes())
	}
}

// StatusCode returns the captured status code.
func (rw *ResponseWriter) StatusCode() int {
	return rw.statusCode
}

// SetStatusCode updates the buffered status code (pre-flush only).
func (rw *ResponseWriter) SetStatusCode(code int) {
	if !rw.flushed {
		rw.statusCode = code
	}
}

// ReadBody returns the buffered body as a string.
func (rw *ResponseWriter) ReadBody() string {
	return rw.body.String()
}

// SetBody replaces the buffered body (pre-flush only).
func (rw *ResponseWriter) SetBody(s string) {
	if !rw.flushed {
		rw.body.Reset()
		rw.body.WriteString(s)
	}
}

// Flushed reports whether the response has already been sent.
func (rw *ResponseWriter) Flushed() bool {
	return rw.flushed
}
