// Package logging builds the service logger: zap with rotated file output.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level      string
	FileName   string
	MaxAgeDays int
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
	// Console mirrors log output to stderr in addition to the file.
	Console bool
}

type Option func(*Options)

func NewOptions(opts ...Option) Options {
	options := Options{
		Level:      "info",
		FileName:   "ledger-api.log",
		MaxAgeDays: 10,
		MaxSizeMB:  100,
		MaxBackups: 3,
		Compress:   true,
		Console:    true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithLevel(level string) Option {
	return func(o *Options) {
		o.Level = level
	}
}

func WithFileName(name string) Option {
	return func(o *Options) {
		o.FileName = name
	}
}

var levels = map[string]zapcore.Level{
	"":      zapcore.InfoLevel,
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// New constructs the process logger. Callers hold the returned logger and
// pass it down explicitly; there is no package-level default.
func New(options Options) *zap.SugaredLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	fileSync := zapcore.AddSync(&lumberjack.Logger{
		Filename:   options.FileName,
		MaxAge:     options.MaxAgeDays,
		MaxSize:    options.MaxSizeMB,
		MaxBackups: options.MaxBackups,
		Compress:   options.Compress,
	})

	level := levels[options.Level]
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, fileSync, level),
	}
	if options.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
}

// NewNop returns a logger that discards everything (tests).
func NewNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
