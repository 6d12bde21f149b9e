// Package logging builds the operator's logr.Logger on top of zap.
package logging

import (
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configure New.
type Options struct {
	// Format is FormatJSON or FormatConsole.
	Format string
	// Level is a zap level name such as "info" or "debug", or a negative logr
	// verbosity such as "-2" to enable log.V(2).
	Level string
}

// New returns a logger writing to stderr.
func New(opts Options) (logr.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), errors.Wrapf(err, "invalid log level %q", opts.Level)
	}

	var config zap.Config
	switch opts.Format {
	case FormatJSON:
		config = zap.NewProductionConfig()
	case FormatConsole:
		config = zap.NewDevelopmentConfig()
	default:
		return logr.Discard(), errors.Errorf("unknown log format %q, expected %q or %q", opts.Format, FormatJSON, FormatConsole)
	}
	config.Level = zap.NewAtomicLevelAt(level)
	// Sampling drops repeated messages, which hides rounds of the same resource.
	config.Sampling = nil

	zl, err := config.Build()
	if err != nil {
		return logr.Discard(), errors.Wrap(err, "building zap logger")
	}
	return NewFromZap(zl), nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return zapcore.Level(n), nil
	}
	return zapcore.ParseLevel(s)
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(zl *zap.Logger) logr.Logger {
	return zapr.NewLogger(zl)
}
