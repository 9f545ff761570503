// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       false,
		FilePath:   filepath.Join(home, ".config", "marketsim", "logs", "marketsim.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
// Console output goes to stderr so stdout stays clean for JSON results.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context, or fallback if there is none.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return fallback
}

// WithSession adds the session and season ids to the logger context.
func WithSession(logger zerolog.Logger, sessionID, seasonID string) zerolog.Logger {
	return logger.With().Str("session_id", sessionID).Str("season_id", seasonID).Logger()
}

// WithTick adds the simulation tick to the logger context.
func WithTick(logger zerolog.Logger, tick int) zerolog.Logger {
	return logger.With().Int("tick", tick).Logger()
}

// WithInstrument adds an instrument code to the logger context.
func WithInstrument(logger zerolog.Logger, code string) zerolog.Logger {
	return logger.With().Str("instrument", code).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogTrade logs a fill.
func LogTrade(logger zerolog.Logger, tick int, code, side string, qty int64, price, fee string) {
	logger.Info().
		Str("event", "trade").
		Int("tick", tick).
		Str("instrument", code).
		Str("side", side).
		Int64("quantity", qty).
		Str("price", price).
		Str("fee", fee).
		Msg("Order filled")
}

// LogNews logs a generated news effect.
func LogNews(logger zerolog.Logger, tick int, category, headline string, impact float64) {
	logger.Debug().
		Str("event", "news").
		Int("tick", tick).
		Str("category", category).
		Str("headline", headline).
		Float64("impact", impact).
		Msg("News published")
}

// LogCrisis logs a crisis lifecycle change.
func LogCrisis(logger zerolog.Logger, tick int, kind, phase string, severity float64) {
	logger.Warn().
		Str("event", "crisis").
		Int("tick", tick).
		Str("type", kind).
		Str("phase", phase).
		Float64("severity", severity).
		Msg("Crisis update")
}

// LogVerification logs a replay verification result.
func LogVerification(logger zerolog.Logger, seasonID, code string, duration time.Duration, err error) {
	event := logger.Info().
		Str("event", "verification").
		Str("season_id", seasonID).
		Str("code", code).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("Verification failed")
	} else {
		event.Msg("Verification completed")
	}
}
