// -----------------------------------------------------------------------
// Tail Hub - Fans drained lines out to live subscribers
// -----------------------------------------------------------------------

package tail

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
)

const defaultSendBuffer = 256

// Hub broadcasts drained session lines to live subscribers.
// It is a sink mirror: Append never blocks and never fails, a subscriber
// that falls behind loses lines instead of stalling the drain.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	sendBuffer int
	logger     arbor.ILogger
}

var _ interfaces.SessionSink = (*Hub)(nil)

// Subscription receives the lines of one session
type Subscription struct {
	SessionID string

	hub     *Hub
	lines   chan models.SessionLine
	dropped atomic.Int64
	once    sync.Once
}

// NewHub creates a hub whose subscribers buffer up to sendBuffer lines
func NewHub(logger arbor.ILogger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Subscribe registers for a session's lines. Callers must Close the
// subscription when done.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		SessionID: sessionID,
		hub:       h,
		lines:     make(chan models.SessionLine, h.sendBuffer),
	}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Subscription]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().Str("session_id", sessionID).Msg("Tail subscriber added")
	return sub
}

// Append delivers line to every subscriber of its session
func (h *Hub) Append(ctx context.Context, line models.SessionLine) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[line.SessionID] {
		select {
		case sub.lines <- line:
		default:
			sub.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of subscribers for a session
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.SessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.SessionID)
		}
	}
}

// Lines returns the channel of delivered lines; it is closed by Close
func (s *Subscription) Lines() <-chan models.SessionLine {
	return s.lines
}

// Dropped returns how many lines were lost to a full buffer
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		// No Append can be sending once removed under the write lock
		close(s.lines)
		if dropped := s.dropped.Load(); dropped > 0 {
			s.hub.logger.Debug().Str("session_id", s.SessionID).Int64("dropped", dropped).Msg("Tail subscriber closed with dropped lines")
		}
	})
}
