package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Config controls log level and file rotation.
type Config struct {
	Level      string // debug, info, warn, error
	OutputPath string // log file path; empty disables the file sink
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init sets up the global logger. Safe to call more than once; only the
// first call takes effect.
func Init(cfg Config) {
	once.Do(func() {
		var level zapcore.Level
		switch cfg.Level {
		case "debug":
			level = zapcore.DebugLevel
		case "warn":
			level = zapcore.WarnLevel
		case "error":
			level = zapcore.ErrorLevel
		default:
			level = zapcore.InfoLevel
		}

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
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		)

		cores := []zapcore.Core{consoleCore}

		if cfg.OutputPath != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err == nil {
				fileWriter := &lumberjack.Logger{
					Filename:   cfg.OutputPath,
					MaxSize:    cfg.MaxSizeMB,
					MaxBackups: cfg.MaxBackups,
					MaxAge:     cfg.MaxAgeDays,
					Compress:   true,
				}
				fileCore := zapcore.NewCore(
					zapcore.NewJSONEncoder(encoderConfig),
					zapcore.AddSync(fileWriter),
					level,
				)
				cores = append(cores, fileCore)
			}
		}

		globalLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	})
}

func get() *zap.Logger {
	if globalLogger == nil {
		Init(Config{Level: "info"})
	}
	return globalLogger
}

// Debug logs a message at debug level.
func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }

// Info logs a message at info level.
func Info(msg string, fields ...zap.Field) { get().Info(msg, fields...) }

// Warn logs a message at warn level.
func Warn(msg string, fields ...zap.Field) { get().Warn(msg, fields...) }

// Error logs a message at error level.
func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }

// Sync flushes buffered log entries.
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// Field helpers so callers do not import zap directly.

func String(key, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Float64(key string, v float64) zap.Field { return zap.Float64(key, v) }

func ErrorField(err error) zap.Field { return zap.Error(err) }
