// Package logging backs the core.ComponentAwareLogger seam with a
// zap.SugaredLogger, following the layered observability shape of the
// teacher's ProductionLogger: a level, a format (json for aggregation or
// text for local development), a component tag on every line, and
// context-aware variants that pick request/correlation ids off the
// context's baggage.
package logging

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/talchain/olumi-cee/core"
)

// contextKey is unexported so baggage can only be set through WithBaggage.
type contextKey struct{}

// Baggage is the set of correlation fields attached to a context and
// surfaced on every log line written with a *WithContext method.
type Baggage map[string]string

// WithBaggage returns a derived context carrying b, merged over any
// baggage already present.
func WithBaggage(ctx context.Context, b Baggage) context.Context {
	merged := Baggage{}
	if existing, ok := ctx.Value(contextKey{}).(Baggage); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range b {
		merged[k] = v
	}
	return context.WithValue(ctx, contextKey{}, merged)
}

func baggageFrom(ctx context.Context) Baggage {
	if ctx == nil {
		return nil
	}
	b, _ := ctx.Value(contextKey{}).(Baggage)
	return b
}

// Logger implements core.ComponentAwareLogger over a zap.SugaredLogger.
type Logger struct {
	zap       *zap.SugaredLogger
	component string
}

var _ core.ComponentAwareLogger = (*Logger)(nil)

// New builds a Logger from a level ("DEBUG"/"INFO"/"WARN"/"ERROR") and a
// format ("json" or "text"). An unrecognised level falls back to INFO; an
// unrecognised format falls back to text, matching the teacher's
// permissive defaulting for operator-supplied config.
func New(level, format string) (*Logger, error) {
	zapLevel, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if strings.EqualFold(format, "json") {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	zapCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	base := zap.New(zapCore)
	return &Logger{zap: base.Sugar()}, nil
}

// WithComponent returns a Logger tagged with component on every line.
func (l *Logger) WithComponent(component string) core.Logger {
	return &Logger{zap: l.zap, component: component}
}

func (l *Logger) fieldArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, 2*(len(fields)+1))
	if l.component != "" {
		args = append(args, "component", l.component)
	}
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func (l *Logger) Info(msg string, fields map[string]interface{})  { l.zap.Infow(msg, l.fieldArgs(fields)...) }
func (l *Logger) Error(msg string, fields map[string]interface{}) { l.zap.Errorw(msg, l.fieldArgs(fields)...) }
func (l *Logger) Warn(msg string, fields map[string]interface{})  { l.zap.Warnw(msg, l.fieldArgs(fields)...) }
func (l *Logger) Debug(msg string, fields map[string]interface{}) { l.zap.Debugw(msg, l.fieldArgs(fields)...) }

func (l *Logger) fieldArgsWithContext(ctx context.Context, fields map[string]interface{}) []interface{} {
	args := l.fieldArgs(fields)
	for k, v := range baggageFrom(ctx) {
		args = append(args, "trace."+k, v)
	}
	return args
}

func (l *Logger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zap.Infow(msg, l.fieldArgsWithContext(ctx, fields)...)
}

func (l *Logger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zap.Errorw(msg, l.fieldArgsWithContext(ctx, fields)...)
}

func (l *Logger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zap.Warnw(msg, l.fieldArgsWithContext(ctx, fields)...)
}

func (l *Logger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.zap.Debugw(msg, l.fieldArgsWithContext(ctx, fields)...)
}

// Sync flushes any buffered log entries, to be called before process exit.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
