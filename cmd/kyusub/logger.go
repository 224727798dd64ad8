package main

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logOptions configures the process logger.
type logOptions struct {
	Level      string
	Format     string // json or console
	File       string // stderr when empty
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

func setLogDefaults(o *logOptions) {
	if o.Level == "" {
		o.Level = "info"
	}
	if o.Format == "" {
		o.Format = "console"
	}
	if o.MaxSize == 0 {
		o.MaxSize = 100
	}
	if o.MaxBackups == 0 {
		o.MaxBackups = 3
	}
	if o.MaxAge == 0 {
		o.MaxAge = 7
	}
}

// newLogger builds a zap logger. Logs go to stderr so stdout carries only
// received message bodies.
func newLogger(o logOptions) (*zap.Logger, error) {
	setLogDefaults(&o)

	var syncer zapcore.WriteSyncer
	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0755); err != nil {
			return nil, err
		}
		syncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSize,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAge,
			LocalTime:  true,
			Compress:   o.Compress,
		})
	} else {
		syncer = zapcore.Lock(os.Stderr)
	}

	level, err := zapcore.ParseLevel(strings.ToLower(o.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	return zap.New(
		zapcore.NewCore(encoder(o.Format), syncer, level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func encoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}
