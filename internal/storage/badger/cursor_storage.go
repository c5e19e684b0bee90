package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CursorStorage persists session cursors so progress survives eviction and
// restarts.
type CursorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var (
	_ interfaces.CursorStore = (*CursorStorage)(nil)
	_ interfaces.SinkCleaner = (*CursorStorage)(nil)
)

// NewCursorStorage creates a new CursorStorage instance
func NewCursorStorage(db *BadgerDB, logger arbor.ILogger) *CursorStorage {
	return &CursorStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CursorStorage) LoadCursor(ctx context.Context, sessionID string) (int64, bool, error) {
	var cursor models.SessionCursor
	err := s.db.Store().Get(sessionID, &cursor)
	if err == badgerhold.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor.NextSequence, true, nil
}

func (s *CursorStorage) SaveCursor(ctx context.Context, sessionID string, next int64) error {
	cursor := models.SessionCursor{
		SessionID:    sessionID,
		NextSequence: next,
		UpdatedAt:    time.Now(),
	}
	if err := s.db.Store().Upsert(sessionID, &cursor); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *CursorStorage) DeleteCursor(ctx context.Context, sessionID string) error {
	err := s.db.Store().Delete(sessionID, &models.SessionCursor{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}

func (s *CursorStorage) ListCursors(ctx context.Context) ([]models.SessionCursor, error) {
	var cursors []models.SessionCursor
	if err := s.db.Store().Find(&cursors, badgerhold.Where("SessionID").Ne("").SortBy("SessionID")); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cursors, nil
}

// Purge deletes the cursors of sessions that are not kept, so a purged
// session that returns starts again at sequence 1.
func (s *CursorStorage) Purge(ctx context.Context, keep func(string) bool) (int, error) {
	cursors, err := s.ListCursors(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, cursor := range cursors {
		if keep != nil && keep(cursor.SessionID) {
			continue
		}
		if err := s.DeleteCursor(ctx, cursor.SessionID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
