package logx

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New: JSON di production, console berwarna di development.
func New(env, service string) *zap.Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	log, err := cfg.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("service", service))
}
