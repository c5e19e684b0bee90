package sessionlog

import (
	"container/heap"
	"sync"
	"time"

	"github.com/ternarybob/seqlog/internal/models"
)

// pendingEntry is a buffered entry with its position in the heap
type pendingEntry struct {
	entry models.ClientLogEntry
	index int
}

// entryHeap is a min-heap of pending entries ordered by sequence.
// Duplicate sequences are allowed; they are resolved at drain time.
type entryHeap []*pendingEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].entry.Sequence < h[j].entry.Sequence }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	item := x.(*pendingEntry)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// SessionBuffer holds one session's entries that are not yet persisted.
//
// pending and lastActivity may be touched by any submitter under mu.
// nextSequence only changes while the session's write lock is held.
type SessionBuffer struct {
	id string

	mu           sync.Mutex
	pending      entryHeap
	nextSequence int64
	lastActivity time.Time
	evicted      bool
	resumed      bool // nextSequence reconciled with the cursor store
}

func newSessionBuffer(id string, nextSequence int64, now time.Time) *SessionBuffer {
	if nextSequence < 1 {
		nextSequence = 1
	}
	return &SessionBuffer{
		id:           id,
		nextSequence: nextSequence,
		lastActivity: now,
	}
}

// ID returns the session id
func (s *SessionBuffer) ID() string {
	return s.id
}

// push queues an entry. It returns false when the buffer has been evicted
// and the caller must resolve a fresh buffer.
func (s *SessionBuffer) push(entry models.ClientLogEntry, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return false
	}
	heap.Push(&s.pending, &pendingEntry{entry: entry})
	s.lastActivity = now
	return true
}

// head returns the lowest pending entry and the current next sequence
func (s *SessionBuffer) head() (*pendingEntry, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, s.nextSequence
	}
	return s.pending[0], s.nextSequence
}

// discard drops an entry without advancing the cursor
func (s *SessionBuffer) discard(item *pendingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.index >= 0 {
		heap.Remove(&s.pending, item.index)
	}
}

// commit drops a persisted entry and advances the cursor past it
func (s *SessionBuffer) commit(item *pendingEntry) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.index >= 0 {
		heap.Remove(&s.pending, item.index)
	}
	s.nextSequence = item.entry.Sequence + 1
	return s.nextSequence
}

// markEvicted detaches the buffer and returns how many entries were dropped
func (s *SessionBuffer) markEvicted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := len(s.pending)
	s.pending = nil
	s.evicted = true
	return dropped
}

// resume raises nextSequence to a persisted cursor. Called once, under the
// write lock, before the first drain.
func (s *SessionBuffer) resume(saved int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if saved > s.nextSequence {
		s.nextSequence = saved
	}
	s.resumed = true
}

func (s *SessionBuffer) isResumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}

func (s *SessionBuffer) isEvicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *SessionBuffer) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// NextSequence returns the next sequence eligible for persistence
func (s *SessionBuffer) NextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSequence
}

// Pending returns the number of buffered entries
func (s *SessionBuffer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Info returns a snapshot for the read API
func (s *SessionBuffer) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := models.SessionInfo{
		SessionID:    s.id,
		NextSequence: s.nextSequence,
		Pending:      len(s.pending),
		LastActivity: s.lastActivity,
	}
	if len(s.pending) > 0 {
		info.LowestQueued = s.pending[0].entry.Sequence
	}
	return info
}
