package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/model"
)

type loggerKey struct{}

// NewLogger builds the process logger from the observability settings.
// Unknown levels fall back to info.
//
// Levels as used across the back office:
//   - error: remote API failures, audit store failures, panics
//   - warn:  failed screen fetches, breaker state changes
//   - info:  screen mount/close, idle sweeps
//   - debug: outgoing remote requests with redacted payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	encoding := "json"
	if cfg.LogFormat == "console" {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()
}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the caller's session.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	if s := model.SessionFrom(ctx); s != nil {
		return logger.With(SessionFields(s)...)
	}
	return logger
}

// SessionFields identifies the staff member and request behind a log line.
func SessionFields(s *model.Session) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	fields = append(fields,
		zap.String("subject_id", s.SubjectID),
		zap.String("correlation_id", s.CorrelationID),
	)
	if s.ID != "" {
		fields = append(fields, zap.String("session_id", s.ID))
	}
	return fields
}

const redacted = "[REDACTED]"

// Field names masked in every payload, compared case-insensitively.
var baseRedactFields = []string{
	"password",
	"confirmpassword",
	"newpassword",
	"token",
	"secret",
	"authorization",
	"phone",
	"phonenumber",
}

// Redactor masks sensitive form values before a payload reaches the logs.
type Redactor struct {
	fields map[string]bool
}

// NewRedactor masks the built-in field names plus extra.
func NewRedactor(extra []string) *Redactor {
	r := &Redactor{fields: make(map[string]bool, len(baseRedactFields)+len(extra))}
	for _, f := range baseRedactFields {
		r.fields[f] = true
	}
	for _, f := range extra {
		r.fields[strings.ToLower(f)] = true
	}
	return r
}

// Map returns a copy of m with masked values, descending into nested
// objects and arrays. m itself is never modified.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.fields[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = r.value(v)
	}
	return out
}

func (r *Redactor) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.Map(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = r.value(item)
		}
		return items
	default:
		return v
	}
}

// Payload returns a "payload" log field with masked form values. File parts
// are summarised by name and size, never by content.
func (r *Redactor) Payload(p *model.Payload) zap.Field {
	if p == nil {
		return zap.Skip()
	}
	return zap.Object("payload", payloadLog{fields: r.Map(p.Fields), attachments: p.Attachments})
}

type payloadLog struct {
	fields      map[string]any
	attachments []model.Attachment
}

func (p payloadLog) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddReflected("fields", p.fields); err != nil {
		return err
	}
	if len(p.attachments) == 0 {
		return nil
	}
	return enc.AddArray("attachments", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, a := range p.attachments {
			err := arr.AppendObject(zapcore.ObjectMarshalerFunc(func(o zapcore.ObjectEncoder) error {
				o.AddString("field", a.Field)
				o.AddString("filename", a.Filename)
				o.AddString("content_type", a.ContentType)
				o.AddInt("size", a.Size())
				return nil
			}))
			if err != nil {
				return err
			}
		}
		return nil
	}))
}
