package models

import (
	"strconv"
	"strings"
	"time"
)

// LogLevel is the client-side console level that produced an entry.
// Levels: "log", "info", "warn", "error", "debug"
type LogLevel string

const (
	LogLevelLog   LogLevel = "log"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelDebug LogLevel = "debug"
)

// UnknownCaller is written in the caller slot when the client did not send one.
const UnknownCaller = "unknown"

// ClientLogEntry represents a single log record submitted by a client session.
//
// Sequence is assigned by the client, starting at 1, and is the only ordering
// key. Timestamp is formatted by the client and is never used for ordering.
type ClientLogEntry struct {
	SessionID string   `json:"sessionId" validate:"required,sessionid"` // Opaque session identifier
	Sequence  int64    `json:"sequence" validate:"min=1"`               // Client-assigned, gapless per session
	Level     LogLevel `json:"level" validate:"required"`               // Console level
	Message   string   `json:"message" validate:"required"`             // Pre-serialized payload
	Timestamp string   `json:"timestamp"`                               // Client wall-clock, opaque
	Caller    string   `json:"caller,omitempty"`                        // Free-text origin tag
}

// CallerOrUnknown returns the caller tag, defaulting to UnknownCaller.
func (e *ClientLogEntry) CallerOrUnknown() string {
	if e.Caller == "" {
		return UnknownCaller
	}
	return e.Caller
}

// ClientLogBatch is the POST body accepted by the ingestion endpoint.
type ClientLogBatch struct {
	Logs []ClientLogEntry `json:"logs" validate:"required,dive"`
}

// FormatLine renders an entry in the session file format:
//
//	[<timestamp>] [<LEVEL>] [SEQ:<sequence>] [<caller>] <message>\n
func FormatLine(e ClientLogEntry) string {
	var b strings.Builder
	b.Grow(len(e.Timestamp) + len(e.Message) + len(e.Caller) + 40)
	b.WriteByte('[')
	b.WriteString(e.Timestamp)
	b.WriteString("] [")
	b.WriteString(strings.ToUpper(string(e.Level)))
	b.WriteString("] [SEQ:")
	b.WriteString(strconv.FormatInt(e.Sequence, 10))
	b.WriteString("] [")
	b.WriteString(e.CallerOrUnknown())
	b.WriteString("] ")
	b.WriteString(e.Message)
	b.WriteByte('\n')
	return b.String()
}

// SessionLine is a drained entry handed to sinks, in sequence order.
type SessionLine struct {
	SessionID string         `json:"session_id"`
	Sequence  int64          `json:"sequence"`
	Entry     ClientLogEntry `json:"entry"`
	Text      string         `json:"text"` // FormatLine output, newline terminated
}

// NewSessionLine builds the sink payload for an entry.
func NewSessionLine(e ClientLogEntry) SessionLine {
	return SessionLine{
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Entry:     e,
		Text:      FormatLine(e),
	}
}

// SessionCursor records the next sequence number eligible for persistence.
// Persisted so a session resumes where it left off after eviction or restart.
type SessionCursor struct {
	SessionID    string    `json:"session_id"`
	NextSequence int64     `json:"next_sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionInfo summarises a buffered session for the read API.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	NextSequence int64     `json:"next_sequence"`
	Pending      int       `json:"pending"`
	LowestQueued int64     `json:"lowest_queued,omitempty"` // Smallest pending sequence, 0 when none
	LastActivity time.Time `json:"last_activity"`
}
