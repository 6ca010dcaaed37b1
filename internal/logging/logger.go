package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LogLevel is a zerolog level name
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// RequestIDHeader carries the request id in and out of the HTTP layer
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// Logger wraps a zerolog logger with request and job helpers
type Logger struct {
	logger zerolog.Logger
}

// NewLogger writes JSON lines to output, stdout when nil. Unknown levels fall back to info.
func NewLogger(logLevel LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger: logger}
}

// Zerolog exposes the underlying logger for components that take *zerolog.Logger
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.logger
}

// WithContext adds request and trace fields carried by ctx
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logCtx := l.logger.With()

	if reqID := GetRequestID(ctx); reqID != "" {
		logCtx = logCtx.Str("req_id", reqID)
	}

	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		logCtx = logCtx.Str("trace_id", spanCtx.TraceID().String())
		logCtx = logCtx.Str("span_id", spanCtx.SpanID().String())
	}

	logger := logCtx.Logger()
	return &logger
}

// WithFields returns a child logger carrying fields
func (l *Logger) WithFields(fields map[string]interface{}) *zerolog.Logger {
	logCtx := l.logger.With()
	for key, value := range fields {
		logCtx = logCtx.Interface(key, value)
	}
	logger := logCtx.Logger()
	return &logger
}

// LogHTTPRequest writes one line per request. 4xx logs at warn and 5xx at error.
func (l *Logger) LogHTTPRequest(c *fiber.Ctx, duration time.Duration) {
	event := l.logger.Info()
	status := c.Response().StatusCode()
	switch {
	case status >= fiber.StatusInternalServerError:
		event = l.logger.Error()
	case status >= fiber.StatusBadRequest:
		event = l.logger.Warn()
	}

	event.
		Str("req_id", GetRequestID(c.UserContext())).
		Str("ip", c.IP()).
		Str("method", c.Method()).
		Str("url", c.OriginalURL()).
		Int("status", status).
		Int64("duration_ms", duration.Milliseconds()).
		Str("user_agent", c.Get(fiber.HeaderUserAgent)).
		Msg("HTTP request processed")
}

// LogJobProcessing records one finished task
func (l *Logger) LogJobProcessing(queue, jobType string, duration time.Duration, err error) {
	logger := l.logger.With().
		Str("queue", queue).
		Str("job_type", jobType).
		Int64("duration_ms", duration.Milliseconds()).
		Bool("success", err == nil).
		Logger()

	if err == nil {
		logger.Info().Msg("Job processed successfully")
		return
	}
	logger.Error().Err(err).Msg("Job processing failed")
}

// RequestIDMiddleware assigns every request an id, reusing an inbound X-Request-ID
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDHeader, reqID)
		c.Locals("req_id", reqID)
		c.SetUserContext(ContextWithRequestID(c.UserContext(), reqID))
		return c.Next()
	}
}

// FiberLoggerMiddleware logs every request after the error handler has set its status
func (l *Logger) FiberLoggerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// Let the app error handler set the final status before logging
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		l.LogHTTPRequest(c, time.Since(start))
		return nil
	}
}

// ContextWithRequestID stores a request id in ctx
func ContextWithRequestID(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, reqID)
}

// GetRequestID extracts the request id from context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	reqID, _ := ctx.Value(ctxKey{}).(string)
	return reqID
}

// SetLogLevel swaps the minimum level at runtime
func (l *Logger) SetLogLevel(logLevel LogLevel) error {
	level, err := zerolog.ParseLevel(string(logLevel))
	if err != nil {
		return fmt.Errorf("invalid log level: %s", logLevel)
	}

	l.logger = l.logger.Level(level)
	return nil
}
