// Package logger is a context-aware structured logger backed by zap.
package logger

import "context"

type FieldType int

const (
	KindString FieldType = iota
	KindInt
	KindInt64
	KindError
	KindAny
)

type Field struct {
	Key   string
	Value any
	Kind  FieldType
}

func String(k, v string) Field      { return Field{Key: k, Value: v, Kind: KindString} }
func Int(k string, v int) Field     { return Field{Key: k, Value: v, Kind: KindInt} }
func Int64(k string, v int64) Field { return Field{Key: k, Value: v, Kind: KindInt64} }
func Any(k string, v any) Field     { return Field{Key: k, Value: v, Kind: KindAny} }
func Err(err error) Field           { return Field{Key: "error", Value: err, Kind: KindError} }

type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

type ctxKey struct{}

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
			return l
		}
	}
	return Nop()
}

type nopLogger struct{}

// Nop returns a logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(context.Context, string, ...Field) {}
func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (n nopLogger) With(...Field) Logger                  { return n }
