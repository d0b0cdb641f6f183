package logger

import (
	"context"
	"os"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	log *zap.Logger
}

// NewLogger builds a JSON logger on stdout. level overrides the default
// (info in production, debug otherwise) when it parses.
func NewLogger(serviceName string, isProd bool, level string) Logger {
	var config zapcore.EncoderConfig
	var lvl zapcore.Level

	if isProd {
		config = zap.NewProductionEncoderConfig()
		lvl = zapcore.InfoLevel
	} else {
		config = zap.NewDevelopmentEncoderConfig()
		lvl = zapcore.DebugLevel
	}
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	config.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(config),
		zapcore.AddSync(os.Stdout),
		lvl,
	)
	if isProd {
		core = zapcore.NewSamplerWithOptions(core, 1, 100, 0)
	}
	return New(zap.New(core).With(zap.String("service", serviceName)))
}

// New wraps an existing zap logger.
func New(l *zap.Logger) Logger {
	return &zapLogger{log: l}
}

func (z *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	if z.log.Core().Enabled(zap.InfoLevel) {
		z.log.Info(msg, z.enrich(ctx, fields)...)
	}
}

func (z *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	if z.log.Core().Enabled(zap.DebugLevel) {
		z.log.Debug(msg, z.enrich(ctx, fields)...)
	}
}

func (z *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	if z.log.Core().Enabled(zap.WarnLevel) {
		z.log.Warn(msg, z.enrich(ctx, fields)...)
	}
}

func (z *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	if z.log.Core().Enabled(zap.ErrorLevel) {
		z.log.Error(msg, z.enrich(ctx, fields)...)
	}
}

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{log: z.log.With(convertFields(fields)...)}
}

// enrich appends the Sentry trace and span ids when a span is on ctx.
func (z *zapLogger) enrich(ctx context.Context, fields []Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)+2)
	zapFields = append(zapFields, convertFields(fields)...)

	if ctx == nil {
		return zapFields
	}
	if span := sentry.SpanFromContext(ctx); span != nil {
		zapFields = append(zapFields,
			zap.String("trace_id", span.TraceID.String()),
			zap.String("span_id", span.SpanID.String()),
		)
	}
	return zapFields
}

func convertFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		switch f.Kind {
		case KindString:
			if v, ok := f.Value.(string); ok {
				out[i] = zap.String(f.Key, v)
				continue
			}
		case KindInt:
			if v, ok := f.Value.(int); ok {
				out[i] = zap.Int(f.Key, v)
				continue
			}
		case KindInt64:
			if v, ok := f.Value.(int64); ok {
				out[i] = zap.Int64(f.Key, v)
				continue
			}
		case KindError:
			if v, ok := f.Value.(error); ok {
				out[i] = zap.Error(v)
				continue
			}
		}
		// mismatched kind and value fall back to reflection
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
