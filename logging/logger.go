// Package logging materializes structured log records, attaches the
// current trace context, runs metadata through the sanitizer, and hands
// each record to a pluggable sink.
package logging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arc-self/packages/sec-core/sanitize"
	"github.com/arc-self/packages/sec-core/tracectx"
)

// ErrPolicyViolation is returned by Emit when the policy is in strict mode
// and the merged metadata still contains PII. The sink is not called.
var ErrPolicyViolation = errors.New("policy violation: metadata contains PII")

// Logger emits Records. It never fails an emit except for strict-mode
// policy violations; sink errors are written to the fallback zap logger
// and swallowed.
type Logger struct {
	sink     Sink
	san      *sanitize.Sanitizer
	fallback *zap.Logger
	context  string
	minLevel Level
}

// Option configures a Logger at construction.
type Option func(*Logger)

// WithFallback overrides the stderr fallback used when a sink fails.
func WithFallback(fb *zap.Logger) Option {
	return func(l *Logger) { l.fallback = fb }
}

// WithMinLevel drops records below the given level before sanitization.
func WithMinLevel(min Level) Option {
	return func(l *Logger) { l.minLevel = min }
}

// WithContextLabel sets the default context label for the logger.
func WithContextLabel(name string) Option {
	return func(l *Logger) { l.context = name }
}

// New builds a Logger over the given sink and sanitizer. A nil sink gets
// the default stdout NDJSON sink; a nil sanitizer gets production defaults.
func New(sink Sink, san *sanitize.Sanitizer, opts ...Option) *Logger {
	if sink == nil {
		sink = NewStdoutSink()
	}
	if san == nil {
		san = sanitize.NewDefault(sanitize.ModeProduction)
	}
	l := &Logger{
		sink:     sink,
		san:      san,
		minLevel: LevelVerbose,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback == nil {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		fb, err := cfg.Build()
		if err != nil {
			fb = zap.NewNop()
		}
		l.fallback = fb
	}
	return l
}

// WithContext returns a child logger whose records carry the given context
// label. Sink, sanitizer and fallback are shared.
func (l *Logger) WithContext(name string) *Logger {
	child := *l
	child.context = name
	return &child
}

// Emit builds and sinks one record. Metadata seen by the sink is
// sanitize(merge(current trace context, md)) with caller metadata winning
// key collisions. The timestamp is captured here, not at the sink.
func (l *Logger) Emit(ctx context.Context, level Level, msg string, md map[string]any) error {
	if level < l.minLevel {
		return nil
	}

	merged := make(map[string]any)
	trace := ""
	for k, v := range tracectx.Current(ctx) {
		merged[k] = v
		if k == tracectx.KeyTraceID {
			trace = v
		}
	}
	for k, v := range md {
		merged[k] = v
	}

	if l.san.StrictMode() && l.san.ContainsPII(merged) {
		return fmt.Errorf("%w (message %q)", ErrPolicyViolation, msg)
	}

	var metadata map[string]any
	if len(merged) > 0 {
		clean := l.san.Sanitize(merged)
		m, ok := clean.(map[string]any)
		if !ok {
			// traversal guards collapsed the whole map into a marker
			m = map[string]any{"sanitized": clean}
		}
		metadata = m
	}

	rec := Record{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Context:   l.context,
		Trace:     trace,
		Metadata:  metadata,
	}
	if err := l.sink.Accept(rec); err != nil {
		l.fallback.Error("log sink failed",
			zap.Error(err),
			zap.String("message", rec.Message),
			zap.String("level", rec.Level.String()),
		)
	}
	return nil
}

// Per-level conveniences.

func (l *Logger) Error(ctx context.Context, msg string, md map[string]any) error {
	return l.Emit(ctx, LevelError, msg, md)
}

func (l *Logger) Warn(ctx context.Context, msg string, md map[string]any) error {
	return l.Emit(ctx, LevelWarn, msg, md)
}

func (l *Logger) Info(ctx context.Context, msg string, md map[string]any) error {
	return l.Emit(ctx, LevelInfo, msg, md)
}

func (l *Logger) HTTP(ctx context.Context, msg string, md map[string]any) error {
	return l.Emit(ctx, LevelHTTP, msg, md)
}

func (l *Logger) Debug(ctx context.Context, msg string, md map[string]any) error {
	return l.Emit(ctx, LevelDebug, msg, md)
}

func (l *Logger) Verbose(ctx context.Context, msg string, md map[string]any) error {
	return l.Emit(ctx, LevelVerbose, msg, md)
}
