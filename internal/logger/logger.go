// Package logger provides structured logging on top of go.uber.org/zap.
//
// The worker process speaks its protocol on stdout, so loggers never write
// there: the default destination is stderr.
package logger

import (
	"fmt"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level, encoding, and destination of a Logger.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console, or empty for auto
	OutputPath string `yaml:"output_path"` // stderr or a file path
}

// Logger wraps a zap.Logger with the session helpers used across termwatch.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultLogger *Logger
	defaultMu     sync.Mutex
)

// Default returns the process-wide logger, creating an info-level stderr
// logger on first use.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		l, err := New(Config{Level: "info"})
		if err != nil {
			l = &Logger{zap: zap.NewNop()}
		}
		defaultLogger = l
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// New builds a Logger from cfg. An empty Format picks console output when
// the destination is a terminal and JSON otherwise.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var out *os.File
	switch cfg.OutputPath {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		return nil, fmt.Errorf("log output stdout is reserved for the protocol stream")
	default:
		f, err := os.OpenFile(cfg.OutputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	format := cfg.Format
	if format == "" {
		format = detectFormat(out)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var enc zapcore.Encoder
	switch format {
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	return &Logger{zap: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// FromZap wraps an existing zap.Logger, e.g. one built by zaptest.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{zap: z}
}

func detectFormat(f *os.File) string {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return "console"
	}
	return "json"
}

// Zap exposes the underlying zap.Logger.
func (l *Logger) Zap() *zap.Logger { return l.zap }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.zap.Sync() }

// WithFields returns a child Logger that adds fields to every entry.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// WithSession tags entries with a session id.
func (l *Logger) WithSession(id string) *Logger {
	return l.WithFields(zap.String("session_id", id))
}

// WithError tags entries with err.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
