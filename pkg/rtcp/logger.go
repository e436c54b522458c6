package rtcp

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Field is a single structured log attribute, mirroring the shape of the
// teacher's pkg/dialog logger so call sites read the same way.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Uint32(key string, value uint32) Field {
	return Field{Key: key, Value: value}
}
func Err(err error) Field { return Field{Key: "error", Value: err} }

// StructuredLogger is the sink every component in this package logs
// through. It is always supplied at construction — never a package-level
// global (spec §9 design note).
type StructuredLogger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithComponent(name string) StructuredLogger
}

// zerologLogger backs StructuredLogger with github.com/rs/zerolog, the
// library the rest of the corpus reaches for (emiago-diago's RTCP session
// loop logs through a zerolog.Logger directly); the teacher's own
// pkg/dialog/logger.go hand-rolls a bare-stdlib JSON writer instead, so the
// interface shape is kept but the backing implementation is not.
type zerologLogger struct {
	l zerolog.Logger
}

// NewLogger returns a StructuredLogger writing to w (os.Stderr if nil).
func NewLogger(w io.Writer) StructuredLogger {
	if w == nil {
		w = os.Stderr
	}
	return &zerologLogger{l: zerolog.New(w).With().Timestamp().Logger()}
}

func (z *zerologLogger) apply(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.apply(z.l.Debug(), fields).Msg(msg)
}
func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.apply(z.l.Info(), fields).Msg(msg)
}
func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.apply(z.l.Warn(), fields).Msg(msg)
}
func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.apply(z.l.Error(), fields).Msg(msg)
}
func (z *zerologLogger) WithComponent(name string) StructuredLogger {
	return &zerologLogger{l: z.l.With().Str("component", name).Logger()}
}
