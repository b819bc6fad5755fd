// Package telemetry provides the structured logging facade used throughout
// the module. It wraps zerolog rather than exposing it directly so call
// sites stay decoupled from the backing library.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field is a single structured logging attribute.
type Field struct {
	key string
	val any
}

// String builds a string field.
func String(key, value string) Field { return Field{key: key, val: value} }

// Int builds an integer field.
func Int(key string, value int) Field { return Field{key: key, val: value} }

// Float64 builds a float field.
func Float64(key string, value float64) Field { return Field{key: key, val: value} }

// Bool builds a boolean field.
func Bool(key string, value bool) Field { return Field{key: key, val: value} }

// Err builds an error field under the conventional "error" key.
func Err(err error) Field { return Field{key: "error", val: err} }

// Duration builds a duration field.
func Duration(key string, value time.Duration) Field { return Field{key: key, val: value} }

// Logger is the logging surface the rest of the module depends on.
type Logger interface {
	WithModule(module string) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type zeroLogger struct {
	l zerolog.Logger
}

// New creates a Logger writing to w (os.Stderr if nil) at the given level.
// level accepts zerolog level names: "debug", "info", "warn", "error".
func New(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &zeroLogger{l: l}
}

// Nop returns a Logger that discards everything, for tests that don't care.
func Nop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func (z *zeroLogger) WithModule(module string) Logger {
	return &zeroLogger{l: z.l.With().Str("module", module).Logger()}
}

func apply(ev *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.val.(type) {
		case string:
			ev = ev.Str(f.key, v)
		case int:
			ev = ev.Int(f.key, v)
		case float64:
			ev = ev.Float64(f.key, v)
		case bool:
			ev = ev.Bool(f.key, v)
		case time.Duration:
			ev = ev.Dur(f.key, v)
		case error:
			ev = ev.AnErr(f.key, v)
		default:
			ev = ev.Interface(f.key, v)
		}
	}
	return ev
}

func (z *zeroLogger) Debug(msg string, fields ...Field) { apply(z.l.Debug(), fields).Msg(msg) }
func (z *zeroLogger) Info(msg string, fields ...Field)  { apply(z.l.Info(), fields).Msg(msg) }
func (z *zeroLogger) Warn(msg string, fields ...Field)  { apply(z.l.Warn(), fields).Msg(msg) }
func (z *zeroLogger) Error(msg string, fields ...Field) { apply(z.l.Error(), fields).Msg(msg) }
