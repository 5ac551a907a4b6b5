package lifecycle

import (
	"bytes"
	"net/http"
)

// responseBuffer is a true buffering http.ResponseWriter: nothing reaches
// the real client until the orchestrator explicitly commits it. This is
// distinct from accesslog.BodyCapturingWriter, which tees writes through
// immediately for observation — exactly the wrong shape here, since
// upstream_response_filter and response_body_filter plugins (proxy-cache,
// a future compression/rewrite hook) must be able to inspect or replace
// the response before any byte is written.
type responseBuffer struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(code int) {
	if !b.wroteHeader {
		b.status = code
		b.wroteHeader = true
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}
