// Package logging builds the zap logger shared by every component.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config level name to a zap level. Unknown names are info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a JSON production logger, or a console development logger when
// debug is set or format is "console". The returned AtomicLevel can be changed
// at runtime by the config watcher.
func New(level, format string, debug bool) (*zap.Logger, zap.AtomicLevel, error) {
	var cfg zap.Config
	if debug || format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	atom := zap.NewAtomicLevelAt(ParseLevel(level))
	if debug {
		atom.SetLevel(zap.DebugLevel)
	}
	cfg.Level = atom

	logger, err := cfg.Build()
	if err != nil {
		return nil, atom, err
	}
	return logger.With(zap.String("service", "ptzd")), atom, nil
}
