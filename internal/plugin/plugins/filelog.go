package plugins

import (
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/middleware/accesslog"
	"github.com/pingsix/pingsix/internal/plugin"
)

func init() {
	plugin.Register("file-logger", newFileLogger)
}

var fileLoggerSchema = plugin.MustCompileSchema(`{
	"type": "object",
	"required": ["path"],
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"max_size": {"type": "integer", "minimum": 1},
		"max_backups": {"type": "integer", "minimum": 0},
		"max_age": {"type": "integer", "minimum": 0},
		"compress": {"type": "boolean"},
		"status_codes": {"type": "array", "items": {"type": "string"}},
		"methods": {"type": "array", "items": {"type": "string"}},
		"sample_rate": {"type": "number", "minimum": 0, "maximum": 1},
		"headers_include": {"type": "array", "items": {"type": "string"}}
	}
}`)

type fileLoggerConfig struct {
	Path           string   `json:"path"`
	MaxSize        int      `json:"max_size"`
	MaxBackups     int      `json:"max_backups"`
	MaxAge         int      `json:"max_age"`
	Compress       bool     `json:"compress"`
	StatusCodes    []string `json:"status_codes"`
	Methods        []string `json:"methods"`
	SampleRate     float64  `json:"sample_rate"`
	HeadersInclude []string `json:"headers_include"`
}

// fileLogger writes one JSON line per request to a file that rotates under
// gopkg.in/natefinch/lumberjack.v2, the same sink internal/logging uses for
// its own file output. Filtering, sampling and header masking are grounded
// on the teacher's internal/middleware/accesslog package.
type fileLogger struct {
	compiled *accesslog.CompiledAccessLog
	logger   *zap.Logger
}

func newFileLogger(raw json.RawMessage) (plugin.Plugin, error) {
	if err := plugin.ValidateConfig(fileLoggerSchema, raw); err != nil {
		return nil, err
	}
	cfg := fileLoggerConfig{MaxSize: 100, MaxBackups: 3, MaxAge: 28, Compress: true}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	compiled, err := accesslog.New(config.AccessLogConfig{
		HeadersInclude: cfg.HeadersInclude,
		Conditions: config.AccessLogConditions{
			StatusCodes: cfg.StatusCodes,
			Methods:     cfg.Methods,
			SampleRate:  cfg.SampleRate,
		},
	})
	if err != nil {
		return nil, err
	}

	sink := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(sink), zapcore.InfoLevel)

	return &fileLogger{compiled: compiled, logger: zap.New(core)}, nil
}

func (p *fileLogger) Name() string  { return "file-logger" }
func (p *fileLogger) Priority() int { return 1 }

// Log runs in the log phase, after the response is fully written, so it
// can never affect what the client received.
func (p *fileLogger) Log(ctx *plugin.RequestContext) {
	status := 0
	var v = ctx.Vars
	if v != nil {
		status = v.Status
	}
	if !p.compiled.ShouldLog(status, ctx.Request.Method) {
		return
	}

	fields := []zap.Field{
		zap.String("route_id", ctx.RouteID),
		zap.String("method", ctx.Request.Method),
		zap.String("uri", ctx.Request.URL.RequestURI()),
		zap.Int("status", status),
	}
	if v != nil {
		fields = append(fields,
			zap.String("request_id", v.RequestID),
			zap.String("upstream_addr", v.UpstreamAddr),
			zap.Duration("upstream_response_time", v.UpstreamResponseTime),
			zap.Duration("response_time", v.ResponseTime),
			zap.Int64("body_bytes_sent", v.BodyBytesSent),
		)
	}
	if p.compiled.HasHeaderCapture() {
		for name, val := range p.compiled.CaptureRequestHeaders(ctx.Request) {
			fields = append(fields, zap.String("req_header_"+name, val))
		}
	}
	p.logger.Info("access", fields...)
}
