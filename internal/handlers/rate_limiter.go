package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneAbove = 1024
)

// sessionLimiter keeps one token bucket per session
type sessionLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSessionLimiter returns nil when perSecond is not positive, which
// disables limiting.
func newSessionLimiter(perSecond float64, burst int) *sessionLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

// Allow consumes one token for sessionID
func (l *sessionLimiter) Allow(sessionID string) bool {
	_, ok := l.AllowAll([]string{sessionID})
	return ok
}

// AllowAll consumes one token for each session, or none at all. On failure
// it returns the first session without a token.
func (l *sessionLimiter) AllowAll(sessionIDs []string) (string, bool) {
	if l == nil {
		return "", true
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	reserved := make([]*rate.Reservation, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		r := l.get(sessionID, now).ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, prev := range reserved {
				prev.CancelAt(now)
			}
			return sessionID, false
		}
		reserved = append(reserved, r)
	}
	return "", true
}

// get returns the session's limiter. Caller holds mu.
func (l *sessionLimiter) get(sessionID string, now time.Time) *rate.Limiter {
	entry, ok := l.limiters[sessionID]
	if !ok {
		if len(l.limiters) >= limiterPruneAbove {
			l.prune(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[sessionID] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (l *sessionLimiter) prune(now time.Time) {
	for id, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, id)
		}
	}
}
