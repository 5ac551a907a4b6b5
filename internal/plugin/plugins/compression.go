package plugins

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/middleware/compression"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("gzip", newCompression)
	plugin.Register("compression", newCompression)
}

var compressionSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"level": {"type": "integer", "minimum": 0, "maximum": 11},
		"min_size": {"type": "integer", "minimum": 0},
		"content_types": {"type": "array", "items": {"type": "string"}},
		"algorithms": {
			"type": "array",
			"items": {"type": "string", "enum": ["gzip", "br", "zstd"]}
		}
	}
}`)

// bufferSink is a minimal http.ResponseWriter that captures whatever
// compression.CompressingResponseWriter decides to write, so the plugin can
// hand the captured bytes back as the chunk's rewritten body. It starts from
// the real upstream response's headers so Content-Type sniffing works.
type bufferSink struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func (s *bufferSink) Header() http.Header        { return s.header }
func (s *bufferSink) Write(b []byte) (int, error) { return s.buf.Write(b) }
func (s *bufferSink) WriteHeader(status int)      { s.status = status }

// compressionPlugin wraps internal/middleware/compression.Compressor. The
// teacher's CompressingResponseWriter buffers until it decides whether to
// compress (min_size threshold) and must see the whole body to do so
// correctly, so unlike most response_body_filter plugins this one only acts
// on the final chunk, treating ctx.BodyChunk as the full accumulated body
// at that point rather than compressing incrementally.
type compressionPlugin struct {
	c *compression.Compressor
}

func newCompression(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(compressionSchema, raw); err != nil {
		return nil, err
	}
	var cfg config.CompressionConfig
	cfg.Enabled = true
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return &compressionPlugin{c: compression.New(cfg)}, nil
}

func (p *compressionPlugin) Name() string  { return "compression" }
func (p *compressionPlugin) Priority() int { return -5000 } // runs last, closest to the wire

func (p *compressionPlugin) ResponseBodyFilter(ctx *plugin.RequestContext) plugin.Result {
	if !p.c.IsEnabled() || ctx.Upstream == nil || !ctx.BodyFinal {
		return plugin.OK()
	}
	algo := p.c.NegotiateEncoding(ctx.Request)
	if algo == "" {
		return plugin.OK()
	}

	sink := &bufferSink{header: ctx.Upstream.Header.Clone(), status: ctx.Upstream.StatusCode}
	w := compression.NewCompressingResponseWriter(sink, p.c, algo)
	w.WriteHeader(ctx.Upstream.StatusCode)
	w.Write(ctx.BodyChunk)
	w.Close()

	if enc := sink.header.Get("Content-Encoding"); enc != "" {
		ctx.Upstream.Header.Set("Content-Encoding", enc)
		ctx.Upstream.Header.Del("Content-Length")
		ctx.Upstream.Header.Add("Vary", "Accept-Encoding")
	}
	ctx.BodyChunk = sink.buf.Bytes()
	return plugin.OK()
}
