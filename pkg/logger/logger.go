// Package logger constructs the *zap.SugaredLogger instances threaded
// through DataHub's parameter structs (internal/segment.CreateParams and
// AttachParams, pkg/broker, pkg/datahub), following iamNilotpal-ignite's pattern of passing a single
// *zap.SugaredLogger field rather than a global logger.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the handful of zapcore levels DataHub actually configures,
// keeping zapcore out of callers' import lists.
type Level int8

const (
	LevelDebug Level = iota - 1
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options configures New.
type Options struct {
	// Level is the minimum level logged. Default LevelInfo.
	Level Level
	// Development enables human-readable, stack-trace-on-warn console output
	// instead of the default JSON production encoding.
	Development bool
}

// New builds a *zap.SugaredLogger per Options. Callers that already have a
// logger (tests, hosts embedding DataHub in a larger service) should build
// their own and skip this constructor; every DataHub Config accepts a
// pre-built *zap.SugaredLogger instead of an Options.
func New(opts Options) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(opts.Level.zapLevel())

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return base.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests and callers
// that opt out of logging entirely.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
