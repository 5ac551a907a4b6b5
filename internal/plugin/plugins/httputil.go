package plugins

import (
	"bytes"
	"net/http"
)

// recorder is a minimal http.ResponseWriter sink used by plugins that wrap a
// teacher middleware.Handler expecting to write directly to the client, so
// the write can instead be captured into a plugin.Result.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *recorder) WriteHeader(status int) { r.status = status }

// responseHeaderWriter adapts an *http.Response's header map to the
// http.ResponseWriter interface a teacher middleware expects, so it can set
// headers on the outbound response during upstream_response_filter.
type responseHeaderWriter struct {
	resp *http.Response
}

func (w *responseHeaderWriter) Header() http.Header { return w.resp.Header }

func (w *responseHeaderWriter) Write(b []byte) (int, error) { return len(b), nil }

func (w *responseHeaderWriter) WriteHeader(int) {}
