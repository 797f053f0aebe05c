package syslog

import (
	"sync"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
)

type Logger struct {
	mu   sync.RWMutex
	zlog zerolog.Logger
	svc  service.Logger
}

// LogEntry represents a structured log entry.
type LogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Err       error                  `json:"-"`
	ErrString string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	logger    *Logger
}
