package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/seqlog/internal/models"
)

var (
	// ErrSessionNotFound is returned when no data exists for a session
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionID is returned when a session id cannot be used as a sink name
	ErrInvalidSessionID = errors.New("invalid session id")
)

// SessionSink is the append-only output for drained session lines.
// Appends for one session are never issued concurrently; an Append that
// returns nil must be durable.
type SessionSink interface {
	Append(ctx context.Context, line models.SessionLine) error
}

// SinkCleaner deletes session artifacts left behind by earlier runs.
// keep reports sessions whose artifacts must survive the purge.
type SinkCleaner interface {
	Purge(ctx context.Context, keep func(sessionID string) bool) (int, error)
}

// SessionReader reads persisted lines back for the read API
type SessionReader interface {
	// ReadLines returns up to limit of the most recent lines, oldest first.
	// limit <= 0 returns every line.
	ReadLines(ctx context.Context, sessionID string, limit int) ([]string, error)

	// ListSessions returns the ids of sessions with persisted lines
	ListSessions(ctx context.Context) ([]string, error)
}

// CursorStore persists each session's next eligible sequence number
type CursorStore interface {
	// LoadCursor returns the stored cursor; found is false when none exists
	LoadCursor(ctx context.Context, sessionID string) (next int64, found bool, err error)
	SaveCursor(ctx context.Context, sessionID string, next int64) error
	DeleteCursor(ctx context.Context, sessionID string) error
	ListCursors(ctx context.Context) ([]models.SessionCursor, error)
}

// StorageManager exposes the configured storage components
type StorageManager interface {
	Sink() SessionSink
	Cleaner() SinkCleaner
	Reader() SessionReader
	CursorStore() CursorStore
	Close() error
}
