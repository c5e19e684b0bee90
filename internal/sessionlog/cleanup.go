// -----------------------------------------------------------------------
// Stale Session Cleanup - Purges leftover client_* artifacts on first sight
// -----------------------------------------------------------------------

package sessionlog

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/interfaces"
)

// cleanupHook purges stale sink artifacts the first time each session is
// seen. A purge failure never fails a submission.
type cleanupHook struct {
	enabled bool
	cleaner interfaces.SinkCleaner
	tasks   *common.TaskGroup
	metrics *Metrics
	logger  arbor.ILogger

	mu      sync.Mutex
	cleaned map[string]chan struct{} // Closed once the session's purge has finished
}

func newCleanupHook(enabled bool, cleaner interfaces.SinkCleaner, tasks *common.TaskGroup, metrics *Metrics, logger arbor.ILogger) *cleanupHook {
	return &cleanupHook{
		enabled: enabled && cleaner != nil,
		cleaner: cleaner,
		tasks:   tasks,
		metrics: metrics,
		logger:  logger,
		cleaned: make(map[string]chan struct{}),
	}
}

// run purges on the first sight of sessionID and returns once that purge has
// finished, so none of the session's lines can be written before it. The
// session's own artifacts are always purged; other sessions survive when
// keep reports them. Later calls for the same session wait for the first
// purge and then return.
func (h *cleanupHook) run(ctx context.Context, sessionID string, keep func(string) bool) {
	if !h.enabled {
		return
	}

	h.mu.Lock()
	done, started := h.cleaned[sessionID]
	if !started {
		done = make(chan struct{})
		h.cleaned[sessionID] = done
	}
	h.mu.Unlock()

	if !started {
		// The purge outlives the request that triggered it
		purgeCtx := context.WithoutCancel(ctx)
		keepOthers := func(id string) bool {
			return id != sessionID && keep != nil && keep(id)
		}
		h.tasks.Go("session-cleanup", func() {
			defer close(done)
			h.purge(purgeCtx, sessionID, keepOthers)
		})
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (h *cleanupHook) purge(ctx context.Context, sessionID string, keep func(string) bool) {
	removed, err := h.cleaner.Purge(ctx, keep)
	if err != nil {
		h.metrics.CleanupFailures.Inc()
		h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("Session cleanup failed")
		return
	}
	if removed > 0 {
		h.logger.Debug().Str("session_id", sessionID).Int("removed", removed).Msg("Removed stale session artifacts")
	}
}

// seen reports whether sessionID has gone through the hook
func (h *cleanupHook) seen(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cleaned[sessionID]
	return ok
}
