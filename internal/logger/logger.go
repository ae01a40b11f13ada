// Package logger provides structured logging for the storage core.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nainya/pagestore/pkg/page"
)

// Logger wraps zerolog with storage-core-specific derived loggers.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "pagestore").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger with additional fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// BufferLogger returns a logger for Buffer Pool fix/unfix/replacement
// operations, scoped to one page.
func (l *Logger) BufferLogger(pageID page.ID) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "buffer").
			Stringer("pageID", pageID).
			Logger(),
	}
}

// VersionLogger returns a logger for Version Manager operations.
func (l *Logger) VersionLogger(pageID page.ID) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "versionlog").
			Stringer("pageID", pageID).
			Logger(),
	}
}

// PhysicalFileLogger returns a logger for Physical File operations.
func (l *Logger) PhysicalFileLogger(fileName string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "physfile").
			Str("fileID", fileName).
			Logger(),
	}
}

// VerifyLogger returns a logger for verify-tree traversal operations.
func (l *Logger) VerifyLogger(fileName string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "verify").
			Str("fileID", fileName).
			Logger(),
	}
}

// LogFix logs one fix operation with the fields spec.md §10.1 names.
func (l *Logger) LogFix(pageID page.ID, fixMode string, timestamp page.Timestamp, duration time.Duration, err error) {
	event := l.zlog.Debug()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("component", "buffer").
		Stringer("pageID", pageID).
		Str("fixMode", fixMode).
		Stringer("timestamp", timestamp).
		Dur("duration_ms", duration).
		Msg("fix completed")
}

// LogCheckpoint logs one checkpoint daemon run.
func (l *Logger) LogCheckpoint(duration time.Duration, err error) {
	event := l.zlog.Info()
	if err != nil {
		event = l.zlog.Error().Err(err)
	}
	event.
		Str("component", "checkpoint").
		Dur("duration_ms", duration).
		Msg("checkpoint completed")
}

// LogEngineStart logs storage engine startup.
func (l *Logger) LogEngineStart(dbPath string) {
	l.zlog.Info().
		Str("event", "engine_start").
		Str("database", dbPath).
		Msg("pagestore engine starting")
}

// LogEngineReady logs when the engine has finished recovery and is
// ready to serve fix/unfix requests.
func (l *Logger) LogEngineReady(dbPath string) {
	l.zlog.Info().
		Str("event", "engine_ready").
		Str("database", dbPath).
		Msg("pagestore engine ready")
}

// LogEngineShutdown logs engine shutdown.
func (l *Logger) LogEngineShutdown() {
	l.zlog.Info().
		Str("event", "engine_shutdown").
		Msg("pagestore engine shutting down")
}

// Global logger instance.
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance, initializing it
// with defaults on first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
