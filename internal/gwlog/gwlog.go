// Package gwlog provides the gateway's process-wide structured logger.
package gwlog

import (
	"context"
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.Logger]

func init() {
	singleton.Store(newLogger(unstructured()))
}

// unstructured reports whether GATEWAY_UNSTRUCTURED_LOGS requests a
// human-readable console encoder instead of JSON. Defaults to true, matching
// the common convention of defaulting to readable logs in local/dev use.
func unstructured() bool {
	v, ok := os.LookupEnv("GATEWAY_UNSTRUCTURED_LOGS")
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func newLogger(unstructuredLogs bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if unstructuredLogs {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// L returns the process-wide logger.
func L() *zap.Logger {
	return singleton.Load()
}

// SetForTest swaps the singleton logger, returning a restore function.
func SetForTest(l *zap.Logger) func() {
	prev := singleton.Load()
	singleton.Store(l)
	return func() { singleton.Store(prev) }
}

type traceIDKey struct{}

// WithTraceID installs a trace id on the context for ambient propagation
// across suspension points within one dispatcher call.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext extracts the trace id installed by WithTraceID, or ""
// if none is present.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}

// FromContext returns the process logger annotated with the ambient trace id,
// if any is present on ctx.
func FromContext(ctx context.Context) *zap.Logger {
	l := L()
	if tid := TraceIDFromContext(ctx); tid != "" {
		l = l.With(zap.String("trace_id", tid))
	}
	return l
}

// Audit emits a structured audit event at info level, tagged with an
// "event" field (e.g. "tool.denied") so a log aggregator can query the
// audit trail independently of free-text log lines.
func Audit(ctx context.Context, event string, fields ...zap.Field) {
	FromContext(ctx).Info(event, append([]zap.Field{zap.String("event", event)}, fields...)...)
}
