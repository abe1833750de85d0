package logging

import (
	"context"
	"maps"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapOptions configures the zap-backed logger.
type ZapOptions struct {
	Level Level

	// OutputPath enables JSON file output with rotation when non-empty.
	OutputPath string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultZapOptions returns console-only logging at info level.
func DefaultZapOptions() ZapOptions {
	return ZapOptions{
		Level:      InfoLevel,
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 14,
	}
}

// ZapLogger implements Logger on top of go.uber.org/zap with JSON output
// to the console and, optionally, a lumberjack-rotated file.
type ZapLogger struct {
	zl     *zap.Logger
	atom   zap.AtomicLevel
	fields Fields
}

// NewZapLogger builds the production logger. Console output always goes to
// stdout; file output is added when opts.OutputPath is set.
func NewZapLogger(opts ZapOptions) *ZapLogger {
	atom := zap.NewAtomicLevelAt(zapLevel(opts.Level))

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		atom,
	)

	core := consoleCore
	if opts.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0755); err == nil {
			fileWriter := zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.OutputPath,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   opts.Compress,
			})
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				fileWriter,
				atom,
			)
			core = zapcore.NewTee(consoleCore, fileCore)
		}
	}

	zl := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	return &ZapLogger{zl: zl, atom: atom, fields: make(Fields)}
}

func zapLevel(l Level) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *ZapLogger) zapFields(err error, extra []Fields) []zap.Field {
	merged := make(Fields, len(z.fields))
	maps.Copy(merged, z.fields)
	for _, f := range extra {
		maps.Copy(merged, f)
	}

	out := make([]zap.Field, 0, len(merged)+1)
	if err != nil {
		out = append(out, zap.Error(err))
	}
	for k, v := range merged {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (z *ZapLogger) Debug(msg string, fields ...Fields) {
	z.zl.Debug(msg, z.zapFields(nil, fields)...)
}

func (z *ZapLogger) Info(msg string, fields ...Fields) {
	z.zl.Info(msg, z.zapFields(nil, fields)...)
}

func (z *ZapLogger) Warn(msg string, fields ...Fields) {
	z.zl.Warn(msg, z.zapFields(nil, fields)...)
}

func (z *ZapLogger) Error(err error, msg string, fields ...Fields) {
	z.zl.Error(msg, z.zapFields(err, fields)...)
}

func (z *ZapLogger) Fatal(err error, msg string, fields ...Fields) {
	z.zl.Fatal(msg, z.zapFields(err, fields)...)
}

func (z *ZapLogger) WithFields(fields Fields) Logger {
	newFields := make(Fields, len(z.fields)+len(fields))
	maps.Copy(newFields, z.fields)
	maps.Copy(newFields, fields)
	return &ZapLogger{zl: z.zl, atom: z.atom, fields: newFields}
}

func (z *ZapLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := fieldsFromContext(ctx); ok {
		return z.WithFields(fields)
	}
	return z
}

func (z *ZapLogger) SetLevel(level Level) {
	z.atom.SetLevel(zapLevel(level))
}

// Sync flushes buffered log entries. Call on shutdown.
func (z *ZapLogger) Sync() error {
	return z.zl.Sync()
}
