package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// NewLogger builds a zap logger. "json" selects the production encoder, any
// other format the human-readable development one.
func NewLogger(level, format string) (*zap.Logger, error) {
	var config zap.Config

	if format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))

	return config.Build()
}

func InitLogger(level, format string) error {
	logger, err := NewLogger(level, format)
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

func GetLogger() *zap.Logger {
	if Logger == nil {
		// Fallback logger
		Logger, _ = zap.NewProduction()
	}
	return Logger
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
