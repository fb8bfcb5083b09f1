package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "property-weather-service"

// NewLogger builds the JSON production logger. LOG_LEVEL selects the minimum
// level (DEBUG, INFO, WARN, ERROR); anything else means INFO.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(os.Getenv("LOG_LEVEL")))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": ServiceName}
	return cfg.Build()
}

func levelFromEnv(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || lvl > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return lvl
}
