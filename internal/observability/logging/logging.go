// Package logging configures the process-wide structured logger and carries
// request and download identifiers through contexts so every stage of a
// download logs under the ids the client saw.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

// Init builds a logger from cfg and installs it as the slog default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// New builds a structured logger. Format "text" selects the text handler;
// anything else gets JSON. Unknown levels fall back to info.
func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		return slog.New(slog.NewTextHandler(writer, options))
	}
	return slog.New(slog.NewJSONHandler(writer, options))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger annotated with the provided component field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	downloadIDKey contextKey = "download_id"
	loggerKey     contextKey = "logger"
)

func contextWithID(ctx context.Context, key contextKey, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	return value, ok && value != ""
}

// ContextWithRequestID stores a non-empty request id on the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return contextWithID(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request id previously stored on the context.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return idFromContext(ctx, requestIDKey)
}

// ContextWithDownloadID stores a non-empty download id on the context.
func ContextWithDownloadID(ctx context.Context, id string) context.Context {
	return contextWithID(ctx, downloadIDKey, id)
}

// DownloadIDFromContext extracts the download id previously stored on the context.
func DownloadIDFromContext(ctx context.Context) (string, bool) {
	return idFromContext(ctx, downloadIDKey)
}

// ContextWithLogger attaches a logger to the context when available.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves a logger previously stored on the context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// WithContext annotates the logger with any request and download ids held in
// the context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		logger = logger.With("request_id", requestID)
	}
	if downloadID, ok := DownloadIDFromContext(ctx); ok {
		logger = logger.With("download_id", downloadID)
	}
	return logger
}
