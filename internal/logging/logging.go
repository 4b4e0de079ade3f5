// Package logging builds the process logger from the log section of the
// config file.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output targets.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// Conf is the subset of configuration the logger needs.
type Conf struct {
	Level      string
	Output     string
	Path       string // log file, only for OutputFile
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a console-encoded sugared logger writing to conf.Output.
func New(conf Conf) (*zap.SugaredLogger, error) {
	ws, err := writeSyncer(conf)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder(), ws, ParseLevel(conf.Level))
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func writeSyncer(conf Conf) (zapcore.WriteSyncer, error) {
	switch conf.Output {
	case "", OutputStdout:
		return zapcore.AddSync(os.Stdout), nil
	case OutputStderr:
		return zapcore.AddSync(os.Stderr), nil
	case OutputFile:
		if conf.Path == "" {
			return nil, fmt.Errorf("log path is required when output is %q", OutputFile)
		}
		if err := os.MkdirAll(filepath.Dir(conf.Path), 0750); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   conf.Path,
			MaxSize:    conf.MaxSizeMB,
			MaxBackups: conf.MaxBackups,
			MaxAge:     conf.MaxAgeDays,
			Compress:   true,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log output %q", conf.Output)
	}
}

func encoder() zapcore.Encoder {
	ec := zap.NewDevelopmentEncoderConfig()
	ec.TimeKey = "time"
	ec.LevelKey = "level"
	ec.CallerKey = "caller"
	ec.MessageKey = "msg"
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeTime = timeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}

// ParseLevel converts a case-insensitive level name. Unknown names are info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidLevel reports whether level names a level ParseLevel understands.
func ValidLevel(level string) bool {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
		return true
	}
	return false
}
