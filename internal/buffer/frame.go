package buffer

import (
	"sync"

	"dbcore/internal/page"
)

// frame is one fixed-size slot in the buffer pool's frame array. It holds
// at most one page's worth of bytes at a time, plus page id, pin count,
// dirty flag, and a reader-writer latch guarding the 4 KiB buffer itself.
type frame struct {
	id page.FrameID

	latch sync.RWMutex // guards data
	data  [page.Size]byte

	// pageID, pinCount and dirty are only ever mutated while the pool's
	// mutex is held; the page-table mapping, free list, and this metadata
	// all live under one lock.
	pageID   page.ID
	pinCount int32
	dirty    bool
}

func newFrame(id page.FrameID) *frame {
	return &frame{id: id, pageID: page.InvalidID}
}

func (f *frame) reset() {
	for i := range f.data {
		f.data[i] = 0
	}
	f.pageID = page.InvalidID
	f.pinCount = 0
	f.dirty = false
}
