package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
)

// CursorStorage keeps session cursors in memory. Cursors survive buffer
// eviction but not a restart.
type CursorStorage struct {
	mu      sync.RWMutex
	cursors map[string]models.SessionCursor
}

var _ interfaces.CursorStore = (*CursorStorage)(nil)

// NewCursorStorage creates an empty cursor store
func NewCursorStorage() *CursorStorage {
	return &CursorStorage{cursors: make(map[string]models.SessionCursor)}
}

func (s *CursorStorage) LoadCursor(ctx context.Context, sessionID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[sessionID]
	return cursor.NextSequence, ok, nil
}

func (s *CursorStorage) SaveCursor(ctx context.Context, sessionID string, next int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[sessionID] = models.SessionCursor{
		SessionID:    sessionID,
		NextSequence: next,
		UpdatedAt:    time.Now(),
	}
	return nil
}

func (s *CursorStorage) DeleteCursor(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, sessionID)
	return nil
}

func (s *CursorStorage) ListCursors(ctx context.Context) ([]models.SessionCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursors := make([]models.SessionCursor, 0, len(s.cursors))
	for _, cursor := range s.cursors {
		cursors = append(cursors, cursor)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].SessionID < cursors[j].SessionID })
	return cursors, nil
}
