package logger

import (
	"context"
	"io"
	"os"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// ServiceName is attached to every log line.
const ServiceName = "home-env-monitor"

type contextKey string

const (
	loggerKey = contextKey("logger")
)

// NewLogger returns a logfmt logger writing to stdout, filtered at the named
// level (debug, info, warn, error; anything else means info).
func NewLogger(levelName string) kitlog.Logger {
	return New(os.Stdout, levelName)
}

// New returns a logfmt logger writing to w.
func New(w io.Writer, levelName string) kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(w))
	logger = level.NewFilter(logger, allow(levelName))
	return kitlog.With(logger, "service", ServiceName, "ts", kitlog.DefaultTimestampUTC)
}

func allow(name string) level.Option {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// FromContext returns the logger stored in ctx. If none is found we return a
// new unscoped but usable logger.
func FromContext(ctx context.Context) kitlog.Logger {
	if logger, ok := ctx.Value(loggerKey).(kitlog.Logger); ok {
		return logger
	}

	logger := NewLogger("info")
	return kitlog.With(logger, "module", "logger")
}

// ToContext sets the given logger into a child context which it now returns.
func ToContext(ctx context.Context, logger kitlog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
