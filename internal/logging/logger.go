package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a structured logger. JSON output is for production;
// the console encoder is friendlier during development.
func NewLogger(level string, json bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))

	if !json {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// LifecycleLogger scopes a logger to the connection lifecycle manager.
func LifecycleLogger(base *zap.Logger) *zap.Logger {
	return base.With(zap.String("component", "lifecycle"))
}

// WhatsAppLogger scopes a logger to the wire client.
func WhatsAppLogger(base *zap.Logger) *zap.Logger {
	return base.With(zap.String("component", "whatsapp"))
}

// HTTPLogger scopes a logger to the HTTP server.
func HTTPLogger(base *zap.Logger) *zap.Logger {
	return base.With(zap.String("component", "http"))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
