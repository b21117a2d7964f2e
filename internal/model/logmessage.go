package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// LogLevel is the severity of an audit log message.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Qualifier and message length bounds.
const (
	MaxQualifierLength = 100
	MaxMessageLength   = 500
)

// DefaultTimestampLayout renders log timestamps when no layout is given.
const DefaultTimestampLayout = "2006-01-02 15:04:05.999999-07:00"

// LogMessage is one audit log entry attached to a record.
type LogMessage struct {
	Level     LogLevel  `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Qualifier string    `json:"qualifier"`
	Message   string    `json:"message"`
	Data      []byte    `json:"data,omitempty"`
}

// Format renders the message as
// "   INFO [2024-01-02 03:04:05+00:00] <qualifier> message @{1.2 KiB}",
// the level right-aligned to seven columns. The size suffix is present only when Data is non-empty.
func (m LogMessage) Format(layout string) string {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	s := fmt.Sprintf("%7s [%s] <%s> %s",
		strings.ToUpper(string(m.Level)), m.Timestamp.Format(layout), m.Qualifier, m.Message)
	if len(m.Data) > 0 {
		s += fmt.Sprintf(" @{%s}", humanize.IBytes(uint64(len(m.Data))))
	}
	return s
}

// String renders the message with DefaultTimestampLayout.
func (m LogMessage) String() string {
	return m.Format("")
}

// Log queues an audit message to be persisted with the entity's next write.
func (e *Entity) Log(level LogLevel, qualifier, message string, data []byte) (LogMessage, error) {
	if !level.Valid() {
		return LogMessage{}, fmt.Errorf("unknown log level %q", level)
	}
	if len(qualifier) > MaxQualifierLength {
		return LogMessage{}, fmt.Errorf("qualifier exceeds %d bytes", MaxQualifierLength)
	}
	if len(message) > MaxMessageLength {
		return LogMessage{}, fmt.Errorf("message exceeds %d bytes", MaxMessageLength)
	}
	m := LogMessage{
		Level:     level,
		Qualifier: qualifier,
		Message:   message,
		Data:      data,
	}
	e.pending = append(e.pending, m)
	e.logged = true
	return m, nil
}

// Debug queues a debug message.
func (e *Entity) Debug(qualifier, message string, data []byte) (LogMessage, error) {
	return e.Log(LevelDebug, qualifier, message, data)
}

// Info queues an info message.
func (e *Entity) Info(qualifier, message string, data []byte) (LogMessage, error) {
	return e.Log(LevelInfo, qualifier, message, data)
}

// Warn queues a warning.
func (e *Entity) Warn(qualifier, message string, data []byte) (LogMessage, error) {
	return e.Log(LevelWarn, qualifier, message, data)
}

// Error queues an error message.
func (e *Entity) Error(qualifier, message string, data []byte) (LogMessage, error) {
	return e.Log(LevelError, qualifier, message, data)
}

// Logged reports whether a message was queued since the last write.
func (e *Entity) Logged() bool {
	return e.logged
}

// PendingLogs returns the queued messages.
func (e *Entity) PendingLogs() []LogMessage {
	return append([]LogMessage(nil), e.pending...)
}

// StampPendingLogs sets the timestamp of queued messages that have none.
func (e *Entity) StampPendingLogs(now time.Time) {
	for i := range e.pending {
		if e.pending[i].Timestamp.IsZero() {
			e.pending[i].Timestamp = now.UTC()
		}
	}
}

// ClearLogs drops queued messages after a successful write.
func (e *Entity) ClearLogs() {
	e.pending = nil
	e.logged = false
}
