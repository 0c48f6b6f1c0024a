// Package logger is the zap logger of the HTTP layer: JSON (or console)
// output, a level shared by every derived logger, and catalog field names.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
	LevelFatal = zapcore.FatalLevel
)

// ParseLevel accepts zap level names in any case plus "warning".
// Anything else is info.
func ParseLevel(s string) Level {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

type Field = zap.Field

var (
	String = zap.String
	Int    = zap.Int
	Bool   = zap.Bool
	Any    = zap.Any
	Err    = zap.Error
)

// RequestIDKey names the request id field in every request-scoped entry.
const RequestIDKey = "request_id"

func SpeciesID(id string) Field     { return zap.String("species_id", id) }
func Source(name string) Field      { return zap.String("source", name) }
func Component(name string) Field   { return zap.String("component", name) }
func Latency(d time.Duration) Field { return zap.Duration("latency", d) }

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Logger is a *zap.Logger that remembers its level handle, so SetLevel on
// any logger changes the threshold of the whole family.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

type Options struct {
	Output    io.Writer // stdout when nil
	Level     Level
	AddCaller bool
	Console   bool
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey, ec.MessageKey = "timestamp", "message"
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder

	enc := zapcore.NewJSONEncoder(ec)
	if opts.Console {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	}

	level := zap.NewAtomicLevelAt(opts.Level)
	zl := zap.New(
		zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level),
		zap.WithCaller(opts.AddCaller),
	)
	return &Logger{Logger: zl, level: level}
}

// Default logs JSON at info to stdout with callers.
func Default() *Logger {
	return New(Options{Level: LevelInfo, AddCaller: true})
}

func nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(LevelFatal)}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level}
}

func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(zap.String(RequestIDKey, id))
}

func (l *Logger) SetLevel(level Level)     { l.level.SetLevel(level) }
func (l *Logger) Enabled(level Level) bool { return l.level.Enabled(level) }

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext never returns nil; without a request logger entries are dropped.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return nop()
}
