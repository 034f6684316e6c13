// Package monitoring owns the daemon's logging and metrics surfaces.
package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string // debug, info, warn, error
	Path       string // empty logs to stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop().Sugar()
)

// Logf is the package-level diagnostic logger. It defaults to the process
// logger's Infof but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	L().Infof(format, v...)
}

// SetLogger replaces Logf. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// ParseLevel converts a textual log level into a zap level. Unknown values
// map to info.
func ParseLevel(value string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a console-encoded zap logger. When cfg.Path is set the
// output goes to a lumberjack-rotated file.
func NewLogger(cfg LogConfig) (*zap.SugaredLogger, error) {
	writeSyncer := zapcore.AddSync(os.Stderr)

	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writeSyncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(encoder, writeSyncer, ParseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

// Init builds the process logger from cfg and installs it as the default
// returned by L.
func Init(cfg LogConfig) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	Set(l)
	l.Infof("logging initialized (level: %s, path: %q)", ParseLevel(cfg.Level), cfg.Path)
	return nil
}

// Set installs l as the process logger. A nil logger installs a no-op.
func Set(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// L returns the process logger. Before Init it is a no-op logger.
func L() *zap.SugaredLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}

// Or returns l when non-nil, otherwise the process logger.
func Or(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return L()
}
