// -----------------------------------------------------------------------
// File Sink - Append-only client_<session>.log files
// -----------------------------------------------------------------------

package filesink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
)

const (
	filePrefix = "client_"
	fileSuffix = ".log"
	archiveDir = "archive"

	maxLineBytes = 1024 * 1024
)

// FileSink writes each session to <dir>/client_<sessionId>.log.
//
// Every append opens the file in append mode, writes one line and closes it,
// so a purge can remove files at any time without leaving stale handles.
type FileSink struct {
	dir     string
	sync    bool
	archive bool
	logger  arbor.ILogger

	// Appends share the lock; a purge holds it exclusively
	mu sync.RWMutex
}

var (
	_ interfaces.SessionSink   = (*FileSink)(nil)
	_ interfaces.SinkCleaner   = (*FileSink)(nil)
	_ interfaces.SessionReader = (*FileSink)(nil)
)

// NewFileSink creates the directory if needed and returns a sink writing into it
func NewFileSink(logger arbor.ILogger, config *common.FilesConfig) (*FileSink, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("storage.files.dir must be set")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session log directory: %w", err)
	}

	logger.Debug().Str("dir", config.Dir).Bool("sync", config.Sync).Msg("Session file sink initialized")

	return &FileSink{
		dir:     config.Dir,
		sync:    config.Sync,
		archive: config.ArchiveOnPurge,
		logger:  logger,
	}, nil
}

// Path returns the file backing a session
func (s *FileSink) Path(sessionID string) string {
	return filepath.Join(s.dir, filePrefix+sessionID+fileSuffix)
}

// Append writes one line. With sync enabled the line is fsynced before
// Append returns.
func (s *FileSink) Append(ctx context.Context, line models.SessionLine) error {
	if !models.ValidSessionID(line.SessionID) {
		return fmt.Errorf("%w: %q", interfaces.ErrInvalidSessionID, line.SessionID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := s.openAppend(s.Path(line.SessionID))
	if err != nil {
		return err
	}

	if _, err := f.WriteString(line.Text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write session line: %w", err)
	}
	if s.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("failed to sync session file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	return nil
}

func (s *FileSink) openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrNotExist) {
		// Directory removed underneath us
		if mkErr := os.MkdirAll(s.dir, 0755); mkErr != nil {
			return nil, fmt.Errorf("failed to recreate session log directory: %w", mkErr)
		}
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	return f, nil
}

// Purge removes client_* files whose session is not kept. With archiving
// enabled the files are gzipped into <dir>/archive first. A missing
// directory is not an error.
func (s *FileSink) Purge(ctx context.Context, keep func(string) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"))
	if err != nil {
		return 0, fmt.Errorf("failed to list session files: %w", err)
	}

	removed := 0
	var errs []error
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if sessionID, ok := sessionIDFromName(filepath.Base(path)); ok && keep != nil && keep(sessionID) {
			continue
		}

		if s.archive {
			if err := archiveFile(path, filepath.Join(s.dir, archiveDir)); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

// ReadLines returns the last limit lines of a session file, oldest first
func (s *FileSink) ReadLines(ctx context.Context, sessionID string, limit int) ([]string, error) {
	if !models.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidSessionID, sessionID)
	}

	f, err := os.Open(s.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	return tailLines(f, limit)
}

// ListSessions returns the ids of sessions with a file, sorted
func (s *FileSink) ListSessions(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}

	sessions := make([]string, 0, len(matches))
	for _, path := range matches {
		if sessionID, ok := sessionIDFromName(filepath.Base(path)); ok {
			sessions = append(sessions, sessionID)
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}

// tailLines keeps the last limit lines of r in a ring; limit <= 0 keeps all
func tailLines(r io.Reader, limit int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines []string
	next := 0
	for scanner.Scan() {
		line := scanner.Text()
		if limit <= 0 || len(lines) < limit {
			lines = append(lines, line)
			continue
		}
		lines[next] = line
		next = (next + 1) % limit
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if next == 0 {
		return lines, nil
	}
	return append(lines[next:], lines[:next]...), nil
}

func sessionIDFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	sessionID := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	return sessionID, models.ValidSessionID(sessionID)
}

// archiveFile gzips path into dir as <name>.<timestamp>.gz
func archiveFile(path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s for archiving: %w", path, err)
	}
	defer src.Close()

	target := filepath.Join(dir, fmt.Sprintf("%s.%s.gz", filepath.Base(path), time.Now().Format("20060102T150405.000")))
	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", target, err)
	}

	zw := gzip.NewWriter(dst)
	zw.Name = filepath.Base(path)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(target)
		return fmt.Errorf("failed to compress %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		os.Remove(target)
		return fmt.Errorf("failed to finish archive %s: %w", target, err)
	}
	return dst.Close()
}
