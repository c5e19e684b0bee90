// -----------------------------------------------------------------------
// Session log buffer - gap-free, in-order persistence of client log entries
// -----------------------------------------------------------------------

package sessionlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidSequence is returned for entries with a sequence below 1
var ErrInvalidSequence = errors.New("sequence must be at least 1")

// Options tune a Buffer
type Options struct {
	// CleanupOnFirstSight purges stale client_* artifacts the first time a
	// session is seen. Requires a SinkCleaner.
	CleanupOnFirstSight bool

	// MaxConcurrentSessions bounds how many sessions one batch drains in
	// parallel. 0 means unbounded.
	MaxConcurrentSessions int

	// Now overrides the clock used for idle tracking
	Now func() time.Time
}

// Stats is a point-in-time summary of the buffer
type Stats struct {
	Sessions int `json:"sessions"`
	Pending  int `json:"pending"`
}

// Buffer accepts log entries in any order and appends each session's entries
// to the sink strictly by ascending sequence, never skipping a number.
type Buffer struct {
	store   SessionBufferStore
	sink    interfaces.SessionSink
	cursors interfaces.CursorStore
	locks   *KeyedMutex
	cleanup *cleanupHook
	tasks   *common.TaskGroup
	metrics *Metrics
	logger  arbor.ILogger
	opts    Options
}

// NewBuffer creates a Buffer. store, cleaner, cursors and metrics may be nil.
func NewBuffer(
	store SessionBufferStore,
	sink interfaces.SessionSink,
	cleaner interfaces.SinkCleaner,
	cursors interfaces.CursorStore,
	metrics *Metrics,
	logger arbor.ILogger,
	opts Options,
) *Buffer {
	if store == nil {
		store = NewMemoryStore()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tasks := common.NewTaskGroup(logger)
	return &Buffer{
		store:   store,
		sink:    sink,
		cursors: cursors,
		locks:   NewKeyedMutex(),
		cleanup: newCleanupHook(opts.CleanupOnFirstSight, cleaner, tasks, metrics, logger),
		tasks:   tasks,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
	}
}

// SubmitBatch partitions entries by session and submits each session's
// entries in input order. Sessions are processed concurrently. Every entry is
// attempted; the errors of failed entries are joined and returned.
func (b *Buffer) SubmitBatch(ctx context.Context, entries []models.ClientLogEntry) error {
	order, groups := partitionBySession(entries)

	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	if b.opts.MaxConcurrentSessions > 0 {
		g.SetLimit(b.opts.MaxConcurrentSessions)
	}

	for _, sessionID := range order {
		sessionEntries := groups[sessionID]
		g.Go(func() error {
			b.cleanup.run(ctx, sessionID, b.isKnownSession)
			for _, entry := range sessionEntries {
				if err := b.SubmitEntry(ctx, entry); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// SubmitEntry buffers one entry and drains whatever contiguous run is now
// ready. It returns once this entry's drain pass is over; an entry behind a
// gap stays buffered.
func (b *Buffer) SubmitEntry(ctx context.Context, entry models.ClientLogEntry) error {
	if !models.ValidSessionID(entry.SessionID) {
		return fmt.Errorf("%w: %q", interfaces.ErrInvalidSessionID, entry.SessionID)
	}
	if entry.Sequence < 1 {
		return fmt.Errorf("session %s: %w (got %d)", entry.SessionID, ErrInvalidSequence, entry.Sequence)
	}

	b.metrics.EntriesReceived.Inc()
	for {
		sb := b.getOrCreate(entry.SessionID)
		if !sb.push(entry, b.opts.Now()) {
			// Evicted between lookup and push, resolve the replacement buffer
			continue
		}
		b.metrics.EntriesPending.Inc()

		requeue := false
		err := b.locks.WithLock(ctx, entry.SessionID, func() error {
			if sb.isEvicted() {
				// Dropped with the evicted buffer before its drain ran
				requeue = true
				return nil
			}
			if err := b.resume(ctx, sb); err != nil {
				return err
			}
			return b.drain(ctx, sb)
		})
		if !requeue {
			return err
		}
	}
}

func (b *Buffer) getOrCreate(sessionID string) *SessionBuffer {
	sb, created := b.store.GetOrCreate(sessionID, func() *SessionBuffer {
		return newSessionBuffer(sessionID, 1, b.opts.Now())
	})
	if created {
		b.metrics.SessionsActive.Inc()
		b.logger.Debug().Str("session_id", sessionID).Msg("Session buffer created")
	}
	return sb
}

// resume seeds a new buffer from the cursor store. Caller holds the write lock.
func (b *Buffer) resume(ctx context.Context, sb *SessionBuffer) error {
	if sb.isResumed() {
		return nil
	}
	if b.cursors == nil {
		sb.resume(1)
		return nil
	}

	next, found, err := b.cursors.LoadCursor(ctx, sb.ID())
	if err != nil {
		return fmt.Errorf("failed to load cursor for session %s: %w", sb.ID(), err)
	}
	if !found {
		next = 1
	}
	sb.resume(next)
	if found && next > 1 {
		b.logger.Debug().Str("session_id", sb.ID()).Int64("next_sequence", next).Msg("Session resumed from cursor")
	}
	return nil
}

// drain appends the contiguous run starting at nextSequence.
// Caller holds the session's write lock.
func (b *Buffer) drain(ctx context.Context, sb *SessionBuffer) error {
	advanced := false
	defer func() {
		if advanced {
			b.saveCursor(ctx, sb)
		}
	}()

	for {
		item, next := sb.head()
		if item == nil || item.entry.Sequence > next {
			return nil
		}

		if item.entry.Sequence < next {
			sb.discard(item)
			b.metrics.DuplicatesDropped.Inc()
			b.metrics.EntriesPending.Dec()
			continue
		}

		if err := b.sink.Append(ctx, models.NewSessionLine(item.entry)); err != nil {
			// The entry stays pending and is retried by the next drain
			b.metrics.AppendFailures.Inc()
			b.logger.Warn().Err(err).
				Str("session_id", sb.ID()).
				Int64("sequence", item.entry.Sequence).
				Msg("Failed to append session line")
			return fmt.Errorf("failed to append sequence %d for session %s: %w", item.entry.Sequence, sb.ID(), err)
		}

		sb.commit(item)
		advanced = true
		b.metrics.LinesWritten.Inc()
		b.metrics.EntriesPending.Dec()
	}
}

// saveCursor persists progress. A failed save is logged only: the lines are
// already durable and the in-memory cursor stays authoritative.
func (b *Buffer) saveCursor(ctx context.Context, sb *SessionBuffer) {
	if b.cursors == nil {
		return
	}
	if err := b.cursors.SaveCursor(ctx, sb.ID(), sb.NextSequence()); err != nil {
		b.logger.Warn().Err(err).Str("session_id", sb.ID()).Msg("Failed to save session cursor")
	}
}

// Evict drops a session's buffer and its pending entries. The cursor is kept
// so a returning session resumes at its next sequence.
func (b *Buffer) Evict(ctx context.Context, sessionID string) (int, error) {
	dropped, found, err := b.evict(ctx, sessionID, 0)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, interfaces.ErrSessionNotFound
	}
	return dropped, nil
}

// EvictIdle evicts every session with no submissions for longer than
// olderThan and returns how many were evicted.
func (b *Buffer) EvictIdle(ctx context.Context, olderThan time.Duration) int {
	now := b.opts.Now()
	var candidates []string
	b.store.Range(func(sb *SessionBuffer) bool {
		if sb.idleSince(now) > olderThan {
			candidates = append(candidates, sb.ID())
		}
		return true
	})

	evicted := 0
	for _, sessionID := range candidates {
		_, found, err := b.evict(ctx, sessionID, olderThan)
		if err != nil {
			b.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to evict idle session")
			continue
		}
		if found {
			evicted++
		}
	}
	return evicted
}

// evict removes a buffer under its write lock. When idle is positive the
// session is only evicted if it is still idle once the lock is held.
func (b *Buffer) evict(ctx context.Context, sessionID string, idle time.Duration) (dropped int, found bool, err error) {
	err = b.locks.WithLock(ctx, sessionID, func() error {
		sb, ok := b.store.Get(sessionID)
		if !ok {
			return nil
		}
		if idle > 0 && sb.idleSince(b.opts.Now()) <= idle {
			return nil
		}
		if sb.isResumed() && b.cursors != nil {
			if err := b.cursors.SaveCursor(ctx, sessionID, sb.NextSequence()); err != nil {
				return fmt.Errorf("failed to save cursor for session %s: %w", sessionID, err)
			}
		}

		b.store.Evict(sessionID)
		dropped = sb.markEvicted()
		found = true
		return nil
	})
	if err != nil || !found {
		return 0, found, err
	}

	b.metrics.SessionsEvicted.Inc()
	b.metrics.SessionsActive.Dec()
	b.metrics.EvictedEntries.Add(float64(dropped))
	b.metrics.EntriesPending.Sub(float64(dropped))
	b.logger.Debug().Str("session_id", sessionID).Int("dropped", dropped).Msg("Session buffer evicted")
	return dropped, true, nil
}

// Session returns a snapshot of one buffered session
func (b *Buffer) Session(sessionID string) (models.SessionInfo, bool) {
	sb, ok := b.store.Get(sessionID)
	if !ok {
		return models.SessionInfo{}, false
	}
	return sb.Info(), true
}

// Sessions returns snapshots of every buffered session ordered by id
func (b *Buffer) Sessions() []models.SessionInfo {
	infos := make([]models.SessionInfo, 0, b.store.Len())
	b.store.Range(func(sb *SessionBuffer) bool {
		infos = append(infos, sb.Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// Stats returns session and pending entry totals
func (b *Buffer) Stats() Stats {
	var stats Stats
	b.store.Range(func(sb *SessionBuffer) bool {
		stats.Sessions++
		stats.Pending += sb.Pending()
		return true
	})
	return stats
}

// Wait blocks until background cleanup tasks have finished
func (b *Buffer) Wait() {
	b.tasks.Wait()
}

// isKnownSession reports sessions whose artifacts belong to this process
func (b *Buffer) isKnownSession(sessionID string) bool {
	if b.cleanup.seen(sessionID) {
		return true
	}
	_, ok := b.store.Get(sessionID)
	return ok
}

// partitionBySession groups entries by session, keeping input order within
// each group and first-seen order across groups.
func partitionBySession(entries []models.ClientLogEntry) ([]string, map[string][]models.ClientLogEntry) {
	var order []string
	groups := make(map[string][]models.ClientLogEntry)
	for _, entry := range entries {
		if _, ok := groups[entry.SessionID]; !ok {
			order = append(order, entry.SessionID)
		}
		groups[entry.SessionID] = append(groups[entry.SessionID], entry)
	}
	return order, groups
}
