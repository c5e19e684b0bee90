// -----------------------------------------------------------------------
// Storage Manager - Sink, reader and cursor store wiring
// -----------------------------------------------------------------------

package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/interfaces"
	"github.com/ternarybob/seqlog/internal/storage/badger"
	"github.com/ternarybob/seqlog/internal/storage/filesink"
	"github.com/ternarybob/seqlog/internal/storage/memory"
)

// Manager holds the storage components selected by configuration
type Manager struct {
	sink    interfaces.SessionSink
	cleaner interfaces.SinkCleaner
	reader  interfaces.SessionReader
	cursors interfaces.CursorStore
	db      *badger.BadgerDB
	logger  arbor.ILogger
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewStorageManager assembles sinks, reader and cursor store from config.
//
// storage.sink picks the primary sink. With badger enabled and a file
// primary, lines are mirrored into badger and cursors are persisted there;
// otherwise cursors live in memory. Extra mirrors (the live tail) are
// appended after the storage mirrors.
func NewStorageManager(logger arbor.ILogger, config *common.Config, onMirrorError func(sessionID string, err error), extraMirrors ...interfaces.SessionSink) (*Manager, error) {
	m := &Manager{logger: logger}

	if config.Storage.Badger.Enabled {
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		m.db = db
	}

	var (
		primary  interfaces.SessionSink
		mirrors  []interfaces.SessionSink
		cleaners multiCleaner
	)

	switch config.Storage.Sink {
	case common.SinkTypeFile, "":
		files, err := filesink.NewFileSink(logger, &config.Storage.Files)
		if err != nil {
			m.Close()
			return nil, err
		}
		primary = files
		m.reader = files
		cleaners = append(cleaners, files)

		if m.db != nil {
			lines := badger.NewLineStorage(m.db, logger)
			mirrors = append(mirrors, lines)
			cleaners = append(cleaners, lines)
		}

	case common.SinkTypeBadger:
		if m.db == nil {
			return nil, fmt.Errorf("storage.sink = %q requires storage.badger.enabled = true", config.Storage.Sink)
		}
		lines := badger.NewLineStorage(m.db, logger)
		primary = lines
		m.reader = lines
		cleaners = append(cleaners, lines)

	default:
		m.Close()
		return nil, fmt.Errorf("unsupported storage sink: %s", config.Storage.Sink)
	}

	if m.db != nil {
		cursors := badger.NewCursorStorage(m.db, logger)
		m.cursors = cursors
		cleaners = append(cleaners, cursors)
	} else {
		m.cursors = memory.NewCursorStorage()
	}

	m.sink = NewMultiSink(primary, onMirrorError, append(mirrors, extraMirrors...)...)
	m.cleaner = cleaners

	logger.Info().
		Str("sink", config.Storage.Sink).
		Bool("badger", m.db != nil).
		Int("mirrors", len(mirrors)+len(extraMirrors)).
		Msg("Storage manager initialized")

	return m, nil
}

// Sink returns the primary sink wrapped with its mirrors
func (m *Manager) Sink() interfaces.SessionSink {
	return m.sink
}

// Cleaner purges every store holding session artifacts
func (m *Manager) Cleaner() interfaces.SinkCleaner {
	return m.cleaner
}

// Reader reads lines back from the primary sink
func (m *Manager) Reader() interfaces.SessionReader {
	return m.reader
}

// CursorStore returns the configured cursor persistence
func (m *Manager) CursorStore() interfaces.CursorStore {
	return m.cursors
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
