package main

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process-wide logger: a readable console encoder in
// development, JSON in production, matching the rest of the domain corpus's
// use of zap over the standard log package.
func newLogger(cfg Config) (*zap.SugaredLogger, error) {
	var level zapcore.Level
	if err := level.Set(strings.ToLower(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if strings.EqualFold(cfg.Env, "production") {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
