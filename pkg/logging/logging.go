// Package logging adapts zap, with a lumberjack rotating file sink, to the
// orchestrator.Logger interface the rest of the tree programs against.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lokutor-ai/lokutor-voiceagent/pkg/orchestrator"
)

// Options configures the zap/lumberjack-backed logger.
type Options struct {
	// FilePath is the rotating log file's path. Empty disables file output
	// and logs to stderr only.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      string
}

// DefaultOptions matches the rotation knobs a long-running voice service
// needs without operator tuning.
func DefaultOptions() Options {
	return Options{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14, Level: "info"}
}

// Logger adapts a zap.SugaredLogger to orchestrator.Logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger. If opts.FilePath is set, logs are written there via
// lumberjack rotation in addition to stderr.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), level),
	}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core, zap.AddCaller())
	return &Logger{sugar: zl.Sugar()}, nil
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.sugar.Sync() }

var _ orchestrator.Logger = (*Logger)(nil)
