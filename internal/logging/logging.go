// Package logging builds the zap loggers used by committee nodes.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config selects where and how much a node logs.
type Config struct {
	// Mode is ModeDevelopment or ModeProduction.
	Mode string `mapstructure:"mode"`
	// Level is a zap level name ("debug", "info", ...). Empty means info.
	Level string `mapstructure:"level"`
	// File is the path of the rotated log file. Empty logs to stderr only.
	File string `mapstructure:"file"`
	// Console mirrors file output to stdout in development mode.
	Console bool `mapstructure:"console"`

	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// New returns a logger built from cfg.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Mode != ModeDevelopment {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableCaller = true
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.LevelKey = "level"
		zcfg.EncoderConfig.NameKey = "name"
		zcfg.EncoderConfig.MessageKey = "msg"
		zcfg.EncoderConfig.CallerKey = "caller"
		zcfg.EncoderConfig.StacktraceKey = "stacktrace"
	}
	if cfg.Level != "" {
		if err := zcfg.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logging.New: %w", err)
		}
	}
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.File == "" {
		l, err := zcfg.Build()
		if err != nil {
			return nil, fmt.Errorf("logging.New: %w", err)
		}
		return l, nil
	}

	ws := writeSyncer(cfg)
	if cfg.Mode == ModeDevelopment && cfg.Console {
		ws = zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), ws)
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zcfg.EncoderConfig), ws, zcfg.Level)
	l, err := zcfg.Build(zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	if err != nil {
		return nil, fmt.Errorf("logging.New: %w", err)
	}
	return l, nil
}

func writeSyncer(cfg Config) zapcore.WriteSyncer {
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
	}
	if cfg.MaxSizeMB > 0 {
		w.MaxSize = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		w.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		w.MaxAge = cfg.MaxAgeDays
	}
	return zapcore.AddSync(w)
}
