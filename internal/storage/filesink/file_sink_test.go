package filesink

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
)

func newTestSink(t *testing.T, archive bool) (*FileSink, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "client")
	sink, err := NewFileSink(arbor.NewLogger(), &common.FilesConfig{Dir: dir, Sync: true, ArchiveOnPurge: archive})
	require.NoError(t, err)
	return sink, dir
}

func line(sessionID string, seq int64, msg string) models.SessionLine {
	return models.NewSessionLine(models.ClientLogEntry{
		SessionID: sessionID,
		Sequence:  seq,
		Level:     models.LogLevelWarn,
		Message:   msg,
		Timestamp: "2026-01-01T00:00:00Z",
	})
}

func TestFileSink_AppendWritesFormattedLines(t *testing.T) {
	ctx := context.Background()
	sink, dir := newTestSink(t, false)

	require.NoError(t, sink.Append(ctx, line("s1", 1, "first")))
	require.NoError(t, sink.Append(ctx, line("s1", 2, "second")))
	require.NoError(t, sink.Append(ctx, line("s2", 1, "other")))

	data, err := os.ReadFile(filepath.Join(dir, "client_s1.log"))
	require.NoError(t, err)
	assert.Equal(t,
		"[2026-01-01T00:00:00Z] [WARN] [SEQ:1] [unknown] first\n"+
			"[2026-01-01T00:00:00Z] [WARN] [SEQ:2] [unknown] second\n",
		string(data))

	sessions, err := sink.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, sessions)
}

func TestFileSink_AppendRejectsUnsafeSessionID(t *testing.T) {
	sink, dir := newTestSink(t, false)

	err := sink.Append(context.Background(), line("../escape", 1, "x"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidSessionID)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.log"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileSink_AppendRecreatesMissingDirectory(t *testing.T) {
	sink, dir := newTestSink(t, false)
	require.NoError(t, os.RemoveAll(dir))

	require.NoError(t, sink.Append(context.Background(), line("s1", 1, "x")))
	assert.FileExists(t, filepath.Join(dir, "client_s1.log"))
}

func TestFileSink_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	sink, _ := newTestSink(t, false)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for seq := int64(1); seq <= 50; seq++ {
				assert.NoError(t, sink.Append(ctx, line(id, seq, "m")))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b", "c", "d"} {
		lines, err := sink.ReadLines(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, lines, 50)
		assert.Contains(t, lines[49], "[SEQ:50]")
	}
}

func TestFileSink_ReadLinesTail(t *testing.T) {
	ctx := context.Background()
	sink, _ := newTestSink(t, false)

	for seq := int64(1); seq <= 10; seq++ {
		require.NoError(t, sink.Append(ctx, line("s1", seq, "m")))
	}

	lines, err := sink.ReadLines(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[SEQ:8]")
	assert.Contains(t, lines[2], "[SEQ:10]")

	all, err := sink.ReadLines(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	_, err = sink.ReadLines(ctx, "missing", 10)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestFileSink_PurgeKeepsActiveSessions(t *testing.T) {
	ctx := context.Background()
	sink, dir := newTestSink(t, false)

	require.NoError(t, sink.Append(ctx, line("active", 1, "keep me")))
	require.NoError(t, sink.Append(ctx, line("stale", 1, "old run")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "client_leftover.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	removed, err := sink.Purge(ctx, func(id string) bool { return id == "active" })
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.FileExists(t, filepath.Join(dir, "client_active.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "client_stale.log"))
	assert.NoFileExists(t, filepath.Join(dir, "client_leftover.tmp"))
}

func TestFileSink_PurgeMissingDirectory(t *testing.T) {
	sink, dir := newTestSink(t, false)
	require.NoError(t, os.RemoveAll(dir))

	removed, err := sink.Purge(context.Background(), func(string) bool { return false })
	assert.NoError(t, err)
	assert.Zero(t, removed)
}

func TestFileSink_PurgeArchives(t *testing.T) {
	ctx := context.Background()
	sink, dir := newTestSink(t, true)

	require.NoError(t, sink.Append(ctx, line("stale", 1, "archived line")))

	removed, err := sink.Purge(ctx, func(string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "client_stale.log"))

	archives, err := filepath.Glob(filepath.Join(dir, "archive", "client_stale.log.*.gz"))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	f, err := os.Open(archives[0])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "archived line\n"))
}

func TestTailLines(t *testing.T) {
	lines, err := tailLines(strings.NewReader("a\nb\nc\nd\ne\n"), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, lines)

	lines, err = tailLines(strings.NewReader("a\nb\n"), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)

	lines, err = tailLines(strings.NewReader(""), 5)
	require.NoError(t, err)
	assert.Empty(t, lines)
}
