package syslog

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
)

// Global logger instance.
var L *Logger

func init() {
	L = &Logger{
		zlog: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger(),
	}
}

// SetServiceLogger routes log entries through the platform service logger
// (Windows Event Log when running as a service).
func (l *Logger) SetServiceLogger(s service.Service) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	logger, err := s.Logger(nil)
	if err != nil {
		return fmt.Errorf("SetServiceLogger: failed to set service logger -> %w", err)
	}
	l.svc = logger
	return nil
}

// Error creates a new error-level LogEntry.
func (l *Logger) Error(err error) *LogEntry {
	return &LogEntry{
		Level:  "error",
		Err:    err,
		Fields: make(map[string]interface{}),
		logger: l,
	}
}

// Warn creates a new warning-level LogEntry.
func (l *Logger) Warn() *LogEntry {
	return &LogEntry{
		Level:  "warn",
		Fields: make(map[string]interface{}),
		logger: l,
	}
}

// Info creates a new info-level LogEntry.
func (l *Logger) Info() *LogEntry {
	return &LogEntry{
		Level:  "info",
		Fields: make(map[string]interface{}),
		logger: l,
	}
}

// Errorf is shorthand for Error(fmt.Errorf(...)).Write().
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Errorf(format, args...)).Write()
}

// Warnf is shorthand for Warn().WithMessage(...).Write().
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn().WithMessage(fmt.Sprintf(format, args...)).Write()
}

// Infof is shorthand for Info().WithMessage(...).Write().
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info().WithMessage(fmt.Sprintf(format, args...)).Write()
}

// WithMessage sets the log message.
func (e *LogEntry) WithMessage(msg string) *LogEntry {
	e.Message = msg
	return e
}

// WithField adds one key-value pair to the LogEntry.
func (e *LogEntry) WithField(key string, value interface{}) *LogEntry {
	e.Fields[key] = value
	return e
}

// WithFields adds multiple key-value pairs to the LogEntry.
func (e *LogEntry) WithFields(fields map[string]interface{}) *LogEntry {
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// Write finalizes the log entry and sends it to the appropriate destination.
func (e *LogEntry) Write() {
	e.logger.mu.RLock()
	defer e.logger.mu.RUnlock()

	if e.logger.svc != nil {
		jsonMsg := e.formatLogAsJSON()
		switch e.Level {
		case "warn":
			_ = e.logger.svc.Warning(jsonMsg)
		case "error":
			_ = e.logger.svc.Error(jsonMsg)
		default:
			_ = e.logger.svc.Info(jsonMsg)
		}
		return
	}

	var event *zerolog.Event
	switch e.Level {
	case "warn":
		event = e.logger.zlog.Warn()
	case "error":
		event = e.logger.zlog.Error()
	default:
		event = e.logger.zlog.Info()
	}
	event = event.Fields(e.Fields)
	if e.Err != nil {
		event = event.Err(e.Err)
	}
	event.Msg(e.Message)
}

// formatLogAsJSON formats the log entry as a JSON string for service loggers
// that take a single message payload.
func (e *LogEntry) formatLogAsJSON() string {
	var buf bytes.Buffer

	logger := zerolog.New(&buf).With().
		Timestamp().
		Fields(e.Fields).
		Logger()

	event := logger.Log()
	if e.Err != nil {
		event = event.Err(e.Err)
	}
	event.Msg(e.Message)

	return buf.String()
}
