// Package logging provides the structured logger used across oscring.
//
// It wraps a zap.SugaredLogger behind the same small level-method facade
// the rest of the core depends on (interfaces.Logger), so call sites read
// identically no matter which concrete logger is wired in.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// Level controls the minimum severity emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level       Level
	Development bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo}
}

// New builds a Logger from Config.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level.zapLevel()),
		Development:      cfg.Development,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: built.Sugar()}, nil
}

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.sugar == nil {
		return nil
	}
	return l.sugar.Sync()
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide default logger, building a plain
// stderr logger the first time it's requested.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(DefaultConfig())
		if err != nil {
			l = &Logger{sugar: zap.NewNop().Sugar()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

// NewDiscard returns a Logger that drops everything, for tests that want
// a non-nil logger without console noise.
func NewDiscard() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}
