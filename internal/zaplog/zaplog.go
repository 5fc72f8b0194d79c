// Package zaplog builds the *zap.SugaredLogger instances the orchestrator
// injects into its components. There is no package-level logger singleton:
// every component takes its logger as a constructor argument instead of
// reaching for a package-level global.
package zaplog

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the shape of a constructed logger.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "console". When empty, the base config's encoding
	// is kept: "json", or "console" when Development is set.
	Format string
	// Development enables human-friendlier stack traces and DPanic-on-panic.
	Development bool
}

// New builds a *zap.SugaredLogger from cfg.
func New(cfg Config) (*zap.SugaredLogger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	if strings.EqualFold(cfg.Format, "console") {
		zcfg.Encoding = "console"
	} else if cfg.Format != "" {
		zcfg.Encoding = "json"
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger.Sugar(), nil
}

// Noop returns a logger that discards everything, for tests that don't care
// about log output but still need to satisfy a constructor signature.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return 0, fmt.Errorf("unknown log level %q", level)
		}
		return l, nil
	}
}
