package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/models"
)

// MultiSink fans a line out to a primary sink and any number of mirrors.
// Only the primary decides whether the append succeeded; a failing mirror is
// reported to onMirrorError and skipped, so a retried drain never writes a
// primary line twice.
type MultiSink struct {
	primary       interfaces.SessionSink
	mirrors       []interfaces.SessionSink
	onMirrorError func(sessionID string, err error)
}

var _ interfaces.SessionSink = (*MultiSink)(nil)

// NewMultiSink creates a MultiSink. onMirrorError may be nil.
func NewMultiSink(primary interfaces.SessionSink, onMirrorError func(sessionID string, err error), mirrors ...interfaces.SessionSink) *MultiSink {
	var active []interfaces.SessionSink
	for _, mirror := range mirrors {
		if mirror != nil {
			active = append(active, mirror)
		}
	}
	return &MultiSink{
		primary:       primary,
		mirrors:       active,
		onMirrorError: onMirrorError,
	}
}

func (m *MultiSink) Append(ctx context.Context, line models.SessionLine) error {
	if err := m.primary.Append(ctx, line); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Append(ctx, line); err != nil && m.onMirrorError != nil {
			m.onMirrorError(line.SessionID, err)
		}
	}
	return nil
}

// multiCleaner runs every cleaner and sums what they removed
type multiCleaner []interfaces.SinkCleaner

func (c multiCleaner) Purge(ctx context.Context, keep func(string) bool) (int, error) {
	removed := 0
	var errs []error
	for _, cleaner := range c {
		n, err := cleaner.Purge(ctx, keep)
		removed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", cleaner, err))
		}
	}
	return removed, errors.Join(errs...)
}
