package sessionlog

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
	"github.com/ternarybob/seqlog/internal/storage/memory"
)

func TestSubmitBatch_AnyPermutationIsWrittenInOrder(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		sink := newRecordingSink()
		buffer := newTestBuffer(sink, Options{})

		const n = 50
		perm := rng.Perm(n)
		shuffled := make([]models.ClientLogEntry, 0, n)
		for _, i := range perm {
			shuffled = append(shuffled, entry("s1", int64(i+1)))
		}

		// Split across batches of random size
		for len(shuffled) > 0 {
			size := 1 + rng.Intn(7)
			if size > len(shuffled) {
				size = len(shuffled)
			}
			require.NoError(t, buffer.SubmitBatch(ctx, shuffled[:size]))
			shuffled = shuffled[size:]
		}

		assert.Equal(t, seqRange(1, n), sink.Sequences("s1"), "round %d", round)
		info, ok := buffer.Session("s1")
		require.True(t, ok)
		assert.Equal(t, int64(n+1), info.NextSequence)
		assert.Zero(t, info.Pending)
	}
}

func TestSubmitBatch_GapBlocksUntilFilled(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{})

	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 1, 3, 4)))
	assert.Equal(t, []int64{1}, sink.Sequences("s1"))

	info, ok := buffer.Session("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2), info.NextSequence)
	assert.Equal(t, 2, info.Pending)
	assert.Equal(t, int64(3), info.LowestQueued)

	require.NoError(t, buffer.SubmitEntry(ctx, entry("s1", 2)))
	assert.Equal(t, []int64{1, 2, 3, 4}, sink.Sequences("s1"))

	info, _ = buffer.Session("s1")
	assert.Equal(t, int64(5), info.NextSequence)
	assert.Zero(t, info.Pending)
}

func TestSubmitBatch_SessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{MaxConcurrentSessions: 2})

	batch := []models.ClientLogEntry{
		entry("a", 1), entry("b", 1),
		entry("a", 3), entry("b", 2),
		entry("a", 4), entry("b", 3),
		entry("b", 4),
	}
	require.NoError(t, buffer.SubmitBatch(ctx, batch))

	assert.Equal(t, []int64{1, 2, 3, 4}, sink.Sequences("b"))
	assert.Equal(t, []int64{1}, sink.Sequences("a"))

	stats := buffer.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 2, stats.Pending)
}

func TestSubmitEntry_ConcurrentSubmissionsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	sink.delay = 100 * time.Microsecond
	buffer := newTestBuffer(sink, Options{})

	const n = 200
	perm := rand.New(rand.NewSource(7)).Perm(n)

	var wg sync.WaitGroup
	for _, i := range perm {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			assert.NoError(t, buffer.SubmitEntry(ctx, entry("s1", seq)))
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, sink.maxInflight, "appends for one session must never overlap")
	assert.Equal(t, seqRange(1, n), sink.Sequences("s1"))
	assert.Zero(t, buffer.locks.Len(), "idle keys are released")
}

func TestSubmitEntry_ConcurrentBatchesAcrossSessions(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{MaxConcurrentSessions: 4})

	sessions := []string{"s1", "s2", "s3", "s4", "s5"}
	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for seq := int64(worker + 1); seq <= 40; seq += 4 {
				var batch []models.ClientLogEntry
				for _, id := range sessions {
					batch = append(batch, entry(id, seq))
				}
				assert.NoError(t, buffer.SubmitBatch(ctx, batch))
			}
		}(worker)
	}
	wg.Wait()

	for _, id := range sessions {
		assert.Equal(t, seqRange(1, 40), sink.Sequences(id), id)
	}
}

func TestSubmitBatch_DuplicateIsNotWrittenTwice(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	metrics := NewMetrics(nil)
	buffer := NewBuffer(nil, sink, nil, nil, metrics, testLogger, Options{})

	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 1, 1)))
	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 2)))

	lines := sink.Lines("s1")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[SEQ:1]")
	assert.Contains(t, lines[1], "[SEQ:2]")

	// A late retry of an already persisted entry is dropped as well
	require.NoError(t, buffer.SubmitEntry(ctx, entry("s1", 1)))
	assert.Len(t, sink.Lines("s1"), 2)

	info, _ := buffer.Session("s1")
	assert.Equal(t, int64(3), info.NextSequence)
	assert.Zero(t, info.Pending)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DuplicatesDropped))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.LinesWritten))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.EntriesReceived))
	assert.Zero(t, testutil.ToFloat64(metrics.EntriesPending))
}

func TestSubmitEntry_MissingCallerWritesUnknown(t *testing.T) {
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{})

	e := entry("s1", 1)
	e.Caller = ""
	require.NoError(t, buffer.SubmitEntry(context.Background(), e))

	lines := sink.Lines("s1")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[unknown]")
}

func TestSubmitBatch_ReversedArrivalIsWrittenInOrder(t *testing.T) {
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{})

	batch := []models.ClientLogEntry{
		{SessionID: "s1", Sequence: 2, Level: "info", Message: "b", Timestamp: "T2"},
		{SessionID: "s1", Sequence: 1, Level: "info", Message: "a", Timestamp: "T1"},
	}
	require.NoError(t, buffer.SubmitBatch(context.Background(), batch))

	want := []string{
		"[T1] [INFO] [SEQ:1] [unknown] a\n",
		"[T2] [INFO] [SEQ:2] [unknown] b\n",
	}
	if diff := cmp.Diff(want, sink.Lines("s1")); diff != "" {
		t.Errorf("session lines mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitEntry_RejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{})

	err := buffer.SubmitEntry(ctx, entry("../etc", 1))
	assert.ErrorIs(t, err, interfaces.ErrInvalidSessionID)

	err = buffer.SubmitEntry(ctx, entry("s1", 0))
	assert.ErrorIs(t, err, ErrInvalidSequence)

	assert.Empty(t, buffer.Sessions())
}

func TestSubmitEntry_AppendFailureKeepsEntryPending(t *testing.T) {
	ctx := context.Background()
	sink := new(MockSink)
	metrics := NewMetrics(nil)
	buffer := NewBuffer(nil, sink, nil, nil, metrics, testLogger, Options{})

	isSeq := func(seq int64) interface{} {
		return mock.MatchedBy(func(line models.SessionLine) bool { return line.Sequence == seq })
	}
	sink.On("Append", mock.Anything, isSeq(1)).Return(errors.New("disk full")).Once()
	sink.On("Append", mock.Anything, isSeq(1)).Return(nil).Once()
	sink.On("Append", mock.Anything, isSeq(2)).Return(nil).Once()

	err := buffer.SubmitEntry(ctx, entry("s1", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	info, _ := buffer.Session("s1")
	assert.Equal(t, int64(1), info.NextSequence, "failed append must not advance the cursor")
	assert.Equal(t, 1, info.Pending, "failed entry stays pending")

	// The next submission retries the failed entry first
	require.NoError(t, buffer.SubmitEntry(ctx, entry("s1", 2)))

	info, _ = buffer.Session("s1")
	assert.Equal(t, int64(3), info.NextSequence)
	assert.Zero(t, info.Pending)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AppendFailures))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.LinesWritten))
	sink.AssertExpectations(t)
}

func TestSubmitBatch_FailureDoesNotStopOtherEntries(t *testing.T) {
	ctx := context.Background()
	sink := new(MockSink)
	buffer := NewBuffer(nil, sink, nil, nil, nil, testLogger, Options{})

	sink.On("Append", mock.Anything, mock.MatchedBy(func(line models.SessionLine) bool {
		return line.SessionID == "bad"
	})).Return(errors.New("read-only file system"))
	sink.On("Append", mock.Anything, mock.MatchedBy(func(line models.SessionLine) bool {
		return line.SessionID == "good"
	})).Return(nil)

	batch := []models.ClientLogEntry{entry("bad", 1), entry("good", 1), entry("bad", 2), entry("good", 2)}
	err := buffer.SubmitBatch(ctx, batch)
	require.Error(t, err)

	good, _ := buffer.Session("good")
	assert.Equal(t, int64(3), good.NextSequence)
	bad, _ := buffer.Session("bad")
	assert.Equal(t, int64(1), bad.NextSequence)
	assert.Equal(t, 2, bad.Pending)
}

func TestEvict_CursorSurvivesEviction(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	cursors := memory.NewCursorStorage()
	metrics := NewMetrics(nil)
	buffer := NewBuffer(nil, sink, nil, cursors, metrics, testLogger, Options{})

	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 1, 2, 4)))

	next, found, err := cursors.LoadCursor(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), next)

	dropped, err := buffer.Evict(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	_, ok := buffer.Session("s1")
	assert.False(t, ok)

	_, err = buffer.Evict(ctx, "s1")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	// A returning session resumes at its saved cursor
	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 3, 4)))
	assert.Equal(t, []int64{1, 2, 3, 4}, sink.Sequences("s1"))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsEvicted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EvictedEntries))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionsActive))
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sink := newRecordingSink()
	buffer := NewBuffer(nil, sink, nil, memory.NewCursorStorage(), nil, testLogger, Options{Now: clock.Now})

	require.NoError(t, buffer.SubmitBatch(ctx, entries("old", 1, 3)))
	clock.Advance(20 * time.Minute)
	require.NoError(t, buffer.SubmitBatch(ctx, entries("fresh", 1)))
	clock.Advance(15 * time.Minute)

	evicted := buffer.EvictIdle(ctx, 30*time.Minute)
	assert.Equal(t, 1, evicted)

	_, ok := buffer.Session("old")
	assert.False(t, ok)
	_, ok = buffer.Session("fresh")
	assert.True(t, ok)

	assert.Zero(t, buffer.EvictIdle(ctx, 30*time.Minute))
}

func TestSessions_SortedByID(t *testing.T) {
	ctx := context.Background()
	buffer := newTestBuffer(newRecordingSink(), Options{})

	require.NoError(t, buffer.SubmitBatch(ctx, []models.ClientLogEntry{entry("zeta", 1), entry("alpha", 2), entry("mid", 1)}))

	infos := buffer.Sessions()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].SessionID)
	assert.Equal(t, 1, infos[0].Pending)
	assert.Equal(t, "mid", infos[1].SessionID)
	assert.Equal(t, "zeta", infos[2].SessionID)
}

func TestCleanup_DisabledByDefault(t *testing.T) {
	cleaner := new(MockCleaner)
	buffer := NewBuffer(nil, newRecordingSink(), cleaner, nil, nil, testLogger, Options{})

	require.NoError(t, buffer.SubmitBatch(context.Background(), entries("s1", 1)))
	buffer.Wait()

	cleaner.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything)
}

func TestCleanup_RunsOncePerSessionAndKeepsOtherActiveSessions(t *testing.T) {
	ctx := context.Background()
	cleaner := new(MockCleaner)
	buffer := NewBuffer(nil, newRecordingSink(), cleaner, nil, nil, testLogger, Options{CleanupOnFirstSight: true})

	var keeps []func(string) bool
	cleaner.On("Purge", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		keeps = append(keeps, args.Get(1).(func(string) bool))
	}).Return(3, nil)

	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 1)))
	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 2)))
	require.NoError(t, buffer.SubmitBatch(ctx, entries("s2", 1)))
	buffer.Wait()

	cleaner.AssertNumberOfCalls(t, "Purge", 2)
	require.Len(t, keeps, 2)

	// s1's purge removes s1's own leftovers
	assert.False(t, keeps[0]("s1"))
	assert.False(t, keeps[0]("stale-session"))

	// s2's purge spares s1, which is live in this process
	assert.True(t, keeps[1]("s1"))
	assert.False(t, keeps[1]("s2"))
	assert.False(t, keeps[1]("stale-session"))
}

func TestCleanup_FailureIsCountedNotSurfaced(t *testing.T) {
	ctx := context.Background()
	cleaner := new(MockCleaner)
	metrics := NewMetrics(nil)
	sink := newRecordingSink()
	buffer := NewBuffer(nil, sink, cleaner, nil, metrics, testLogger, Options{CleanupOnFirstSight: true})

	cleaner.On("Purge", mock.Anything, mock.Anything).Return(0, errors.New("permission denied"))

	require.NoError(t, buffer.SubmitBatch(ctx, entries("s1", 1, 2)))
	require.NoError(t, buffer.SubmitBatch(ctx, entries("s2", 1)))
	buffer.Wait()

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CleanupFailures))
	assert.Equal(t, []int64{1, 2}, sink.Sequences("s1"))
	assert.Equal(t, []int64{1}, sink.Sequences("s2"))
}

func TestPartitionBySession(t *testing.T) {
	order, groups := partitionBySession([]models.ClientLogEntry{
		entry("b", 2), entry("a", 1), entry("b", 1), entry("a", 3),
	})

	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, entries("b", 2, 1), groups["b"])
	assert.Equal(t, entries("a", 1, 3), groups["a"])
}

func TestSubmitEntry_EvictedBeforeDrainMovesToNewBuffer(t *testing.T) {
	ctx := context.Background()
	sink := newRecordingSink()
	buffer := newTestBuffer(sink, Options{})

	unlock, err := buffer.locks.Lock(ctx, "s1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- buffer.SubmitEntry(ctx, entry("s1", 1)) }()

	// The entry is pushed and its drain waits on the held lock
	assert.Eventually(t, func() bool {
		sb, ok := buffer.store.Get("s1")
		return ok && sb.Pending() == 1
	}, time.Second, time.Millisecond)

	sb, ok := buffer.store.Evict("s1")
	require.True(t, ok)
	assert.Equal(t, 1, sb.markEvicted())
	unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SubmitEntry did not return")
	}

	assert.Equal(t, []int64{1}, sink.Sequences("s1"))
	replacement, ok := buffer.store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, int64(2), replacement.NextSequence())
}
