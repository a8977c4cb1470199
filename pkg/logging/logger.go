package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the zap-backed logger.
type Options struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	// File enables a rotated JSON log file in addition to the console.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ZapLogger implements Logger on top of a zap core.
type ZapLogger struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// New builds a logger writing to console (stderr when nil) and, if
// configured, a lumberjack-rotated file.
func New(opts Options, console zapcore.WriteSyncer) *ZapLogger {
	if console == nil {
		console = zapcore.Lock(os.Stderr)
	}
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level).zap())

	cores := []zapcore.Core{zapcore.NewCore(encoder(opts.Format), console, level)}
	if opts.File != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), rotated, level))
	}

	return &ZapLogger{
		base:  zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)),
		level: level,
	}
}

// NewFromCore wraps an existing core, e.g. zaptest/observer in tests.
func NewFromCore(core zapcore.Core) *ZapLogger {
	return &ZapLogger{
		base:  zap.New(core),
		level: zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	cfg.MessageKey = "msg"
	if format == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

func (l *ZapLogger) Debug(msg string, fields ...Field) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.base.Debug(msg, toZap(fields)...)
	}
}

func (l *ZapLogger) Info(msg string, fields ...Field) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.base.Info(msg, toZap(fields)...)
	}
}

func (l *ZapLogger) Warn(msg string, fields ...Field) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.base.Warn(msg, toZap(fields)...)
	}
}

func (l *ZapLogger) Error(msg string, fields ...Field) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.base.Error(msg, toZap(fields)...)
	}
}

// With creates a child logger sharing the parent's level.
func (l *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{base: l.base.With(toZap(fields)...), level: l.level}
}

func (l *ZapLogger) SetLevel(level Level) { l.level.SetLevel(level.zap()) }

func (l *ZapLogger) GetLevel() Level { return fromZap(l.level.Level()) }

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error { return l.base.Sync() }

// TimedOperation helps measure operation duration
type TimedOperation struct {
	logger Logger
	msg    string
	start  time.Time
	fields []Field
}

// StartTimer begins timing an operation
func StartTimer(logger Logger, msg string, fields ...Field) *TimedOperation {
	return &TimedOperation{
		logger: logger,
		msg:    msg,
		start:  time.Now(),
		fields: fields,
	}
}

// End logs the operation with its duration and returns the elapsed time.
func (t *TimedOperation) End(extra ...Field) time.Duration {
	elapsed := time.Since(t.start)
	fields := append(append(t.fields[:len(t.fields):len(t.fields)], extra...), Latency(elapsed))
	t.logger.Info(t.msg, fields...)
	return elapsed
}

// EndError logs the operation as an error with its duration
func (t *TimedOperation) EndError(err error) time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Error(t.msg, append(t.fields[:len(t.fields):len(t.fields)], Latency(elapsed), Error(err))...)
	return elapsed
}
