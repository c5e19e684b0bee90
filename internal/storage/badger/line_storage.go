// -----------------------------------------------------------------------
// Badger Line Storage - Queryable copy of drained session lines
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// StoredLine is one persisted session line
type StoredLine struct {
	SessionID string `badgerhold:"index"`
	Sequence  int64
	Level     string
	Caller    string
	Timestamp string // Client formatted
	Text      string // Formatted line, newline terminated
	StoredAt  time.Time
}

// lineKey orders a session's lines by sequence within the keyspace
func lineKey(sessionID string, sequence int64) string {
	return fmt.Sprintf("%s:%020d", sessionID, sequence)
}

// LineStorage keeps session lines in Badger. It can act as the primary sink
// or mirror the file sink.
type LineStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var (
	_ interfaces.SessionSink   = (*LineStorage)(nil)
	_ interfaces.SessionReader = (*LineStorage)(nil)
	_ interfaces.SinkCleaner   = (*LineStorage)(nil)
)

// NewLineStorage creates a new LineStorage instance
func NewLineStorage(db *BadgerDB, logger arbor.ILogger) *LineStorage {
	return &LineStorage{
		db:     db,
		logger: logger,
	}
}

// Append stores a line. Re-appending the same sequence overwrites it.
func (s *LineStorage) Append(ctx context.Context, line models.SessionLine) error {
	stored := StoredLine{
		SessionID: line.SessionID,
		Sequence:  line.Sequence,
		Level:     strings.ToUpper(string(line.Entry.Level)),
		Caller:    line.Entry.CallerOrUnknown(),
		Timestamp: line.Entry.Timestamp,
		Text:      line.Text,
		StoredAt:  time.Now(),
	}
	if err := s.db.Store().Upsert(lineKey(line.SessionID, line.Sequence), &stored); err != nil {
		return fmt.Errorf("failed to store session line: %w", err)
	}
	return nil
}

// ReadLines returns the last limit lines of a session, oldest first
func (s *LineStorage) ReadLines(ctx context.Context, sessionID string, limit int) ([]string, error) {
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").SortBy("Sequence").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var stored []StoredLine
	if err := s.db.Store().Find(&stored, query); err != nil {
		return nil, fmt.Errorf("failed to read session lines: %w", err)
	}
	if len(stored) == 0 {
		return nil, interfaces.ErrSessionNotFound
	}

	lines := make([]string, len(stored))
	for i, line := range stored {
		lines[len(stored)-1-i] = strings.TrimSuffix(line.Text, "\n")
	}
	return lines, nil
}

// ListSessions returns the ids of sessions with stored lines, sorted
func (s *LineStorage) ListSessions(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.Store().ForEach(badgerhold.Where("SessionID").Ne("").Index("SessionID"), func(line *StoredLine) error {
		seen[line.SessionID] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]string, 0, len(seen))
	for id := range seen {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// countLines returns the number of stored lines for a session
func (s *LineStorage) countLines(ctx context.Context, sessionID string) (int, error) {
	count, err := s.db.Store().Count(&StoredLine{}, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count session lines: %w", err)
	}
	return int(count), nil
}

// Purge deletes the lines of every session that is not kept and returns
// how many sessions were removed.
func (s *LineStorage) Purge(ctx context.Context, keep func(string) bool) (int, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sessionID := range sessions {
		if keep != nil && keep(sessionID) {
			continue
		}
		if err := s.db.Store().DeleteMatching(&StoredLine{}, badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID")); err != nil {
			return removed, fmt.Errorf("failed to delete lines for session %s: %w", sessionID, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug().Int("sessions", removed).Msg("Purged stored session lines")
	}
	return removed, nil
}
