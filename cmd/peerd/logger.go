package main

import (
	"fmt"

	"go.uber.org/zap"

	"peerd/pkg/config"
)

func newLogger(c config.Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	var zc zap.Config
	switch c.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
	default:
		return nil, fmt.Errorf("log.format: unsupported format %q", c.Format)
	}
	zc.Level = level
	return zc.Build()
}
