// Package observability owns the process-wide CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log profiles.
const (
	ProfileConsole    = "console"
	ProfileStructured = "structured"
)

// CLILogger is the logger used by commands. It discards output until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// Options configure InitCLILogger.
type Options struct {
	Level   string
	Profile string
	// File, when set, also receives logs with size-based rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// ParseLevel maps a level name to a zap level. Unknown names are an error.
func ParseLevel(level string) (zapcore.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	if lvl, ok := levels[level]; ok {
		return lvl, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// NewLogger builds a logger writing to stderr and, optionally, a rotated file.
func NewLogger(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var stderrEnc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Profile)) {
	case "", ProfileConsole:
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		consoleCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("15:04:05"))
		}
		stderrEnc = zapcore.NewConsoleEncoder(consoleCfg)
	case ProfileStructured:
		stderrEnc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log profile %q", opts.Profile)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stderrEnc, zapcore.Lock(os.Stderr), level),
	}
	if file := strings.TrimSpace(opts.File); file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// InitCLILogger replaces CLILogger.
func InitCLILogger(opts Options) error {
	logger, err := NewLogger(opts)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// Sync flushes CLILogger.
func Sync() {
	_ = CLILogger.Sync()
}
