// Package disk implements the disk manager: synchronous fixed-size page
// read/write by page identifier. It is deliberately the simplest layer in
// the stack — no write-ahead log coordination, no fsync guarantees beyond
// page write-through. Grounded on DaemonDB's storage_engine/disk_manager,
// trimmed from that package's multi-file/heap+index/WAL machinery down to
// the single index file the buffer pool actually needs; pages are
// rewritten in place at their fixed offsets.
package disk

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"dbcore/internal/page"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager owns one on-disk file and the monotonic page id counter for it.
// All I/O goes through ReadAt/WriteAt at a fixed page-aligned offset, the
// same approach as DaemonDB's FileDescriptor.File.ReadAt/WriteAt pair.
type Manager struct {
	file       *os.File
	nextPageID atomic.Int64

	mu     sync.Mutex
	closed bool

	reads  atomic.Uint64
	writes atomic.Uint64

	logger zerolog.Logger
}

// New opens (creating if necessary) the backing file at path.
func New(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: stat %s: %w", path, err)
	}
	m := &Manager{
		file:   f,
		logger: log.With().Str("component", "disk").Logger(),
	}
	m.nextPageID.Store(stat.Size() / page.Size)
	return m, nil
}

// WithLogger overrides the manager's logger.
func (m *Manager) WithLogger(l zerolog.Logger) *Manager {
	m.logger = l
	return m
}

// AllocatePage reserves the next page id. It does not write any bytes —
// the caller (the buffer pool) is responsible for eventually flushing
// content for the id it receives.
func (m *Manager) AllocatePage() page.ID {
	return page.ID(m.nextPageID.Add(1) - 1)
}

// ReadPage fills dst (which must be exactly page.Size bytes) with the
// on-disk contents of id. Reading a page beyond the current end of file
// yields a zeroed buffer, matching the "page allocated but never written"
// state a freshly-allocated header page starts in.
func (m *Manager) ReadPage(id page.ID, dst []byte) error {
	if len(dst) != page.Size {
		return fmt.Errorf("disk: ReadPage dst must be %d bytes, got %d", page.Size, len(dst))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads.Add(1)
	n, err := m.file.ReadAt(dst, int64(id)*page.Size)
	if err != nil && n == 0 {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	m.logger.Debug().Int64("page_id", int64(id)).Msg("read page")
	return nil
}

// WritePage writes the full contents of src (page.Size bytes) to id's
// on-disk slot.
func (m *Manager) WritePage(id page.ID, src []byte) error {
	if len(src) != page.Size {
		return fmt.Errorf("disk: WritePage src must be %d bytes, got %d", page.Size, len(src))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes.Add(1)
	if _, err := m.file.WriteAt(src, int64(id)*page.Size); err != nil {
		return fmt.Errorf("disk: write page %d: %w", id, err)
	}
	m.logger.Debug().Int64("page_id", int64(id)).Msg("write page")
	return nil
}

// Stats reports lifetime read/write counts.
func (m *Manager) Stats() (reads, writes uint64) {
	return m.reads.Load(), m.writes.Load()
}

// Close closes the underlying file handle. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.file.Close()
}
