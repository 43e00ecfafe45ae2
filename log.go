package forkv3

import (
	"context"
	"io"
	"log"

	"github.com/crux-protocol/forkUniswapV3-EVM/internal"
)

// Logger is the leveled logging seam used throughout this library.
// A logrus entry satisfies it and GoLog adapts the stdlib logger, so
// embedding applications can bring whichever they already use.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Fatalf(string, ...interface{})
}

// NopLogger discards everything but still terminates on Fatalf.
var NopLogger = GoLog(io.Discard, "", 0)

// GoLog adapts a stdlib logger to the Logger interface
func GoLog(w io.Writer, prefix string, flags int) Logger {
	if w == nil {
		w = io.Discard
	}
	return &goLogger{lg: log.New(w, prefix, flags)}
}

type goLogger struct {
	lg *log.Logger
}

func (g *goLogger) Debugf(format string, args ...interface{}) {
	g.lg.Printf("[DEBUG] "+format, args...)
}

func (g *goLogger) Infof(format string, args ...interface{}) {
	g.lg.Printf("[INFO]  "+format, args...)
}

func (g *goLogger) Warnf(format string, args ...interface{}) {
	g.lg.Printf("[WARN]  "+format, args...)
}

func (g *goLogger) Errorf(format string, args ...interface{}) {
	g.lg.Printf("[ERROR] "+format, args...)
}

func (g *goLogger) Fatalf(format string, args ...interface{}) {
	g.lg.Fatalf("[FATAL] "+format, args...)
}

// SetLogger puts the logger on the context for use further down the run
func SetLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, internal.LoggerKey, logger)
}

// ContextLogger gets the logger from the context, falling back to NopLogger
func ContextLogger(ctx context.Context) Logger {
	if logger, ok := ctx.Value(internal.LoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger
}
