// Package logging builds the go-kit loggers used throughout simgrid.
package logging

import (
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

// New returns a levelled logger writing to w. format is "logfmt" (the
// default) or "json"; lvl is one of debug, info, warn, error.
func New(lvl, format string, w io.Writer) (log.Logger, error) {
	opt, err := levelOption(lvl)
	if err != nil {
		return nil, err
	}

	var logger log.Logger
	switch strings.ToLower(format) {
	case "", "logfmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, domain.Configf("log.format", "unknown format %q", format)
	}

	logger = level.NewFilter(logger, opt)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger, nil
}

// Nop returns a logger that discards everything
func Nop() log.Logger { return log.NewNopLogger() }

func levelOption(lvl string) (level.Option, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn", "warning":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, domain.Configf("log.level", "unknown level %q", lvl)
}
