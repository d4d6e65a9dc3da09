package buffer

import "dbcore/internal/page"

// BasicPageGuard is a scoped acquisition of a pinned frame with no latch
// held. Go has no destructors, so "guaranteed release when it goes out of
// scope" is approximated the idiomatic way: callers `defer guard.Drop()`
// the same way one would `defer mu.Unlock()`. Guards are move-only by
// convention — copy one by value and both copies will try to unpin on
// Drop, so always pass *BasicPageGuard (the reference implementation's
// C++ guards forbid the copy constructor outright; Go cannot enforce that
// at compile time, so the contract is documented here instead).
type BasicPageGuard struct {
	pool    *Pool
	frame   *frame
	pageID  page.ID
	dirty   bool
	dropped bool
}

// newBasicGuard is only ever called by Pool after a successful pin.
func newBasicGuard(p *Pool, f *frame, id page.ID) *BasicPageGuard {
	return &BasicPageGuard{pool: p, frame: f, pageID: id}
}

// PageID returns the id of the page this guard holds.
func (g *BasicPageGuard) PageID() page.ID { return g.pageID }

// Data returns the raw page bytes. Callers must not retain the slice past
// Drop.
func (g *BasicPageGuard) Data() []byte { return g.frame.data[:] }

// SetDirty marks the page dirty; it will be written back on eviction or
// flush.
func (g *BasicPageGuard) SetDirty() { g.dirty = true }

// Drop releases the pin, propagating any SetDirty call to the pool. Safe
// to call more than once (idempotent).
func (g *BasicPageGuard) Drop() {
	if g.dropped || g.pool == nil {
		return
	}
	g.dropped = true
	_ = g.pool.UnpinPage(g.pageID, g.dirty)
	g.pool, g.frame = nil, nil
}

// Close implements io.Closer so guards compose with defer the same way a
// *os.File does.
func (g *BasicPageGuard) Close() error {
	g.Drop()
	return nil
}

// ReadPageGuard additionally holds a shared latch on the page's buffer,
// letting concurrent readers coexist while a writer is excluded.
type ReadPageGuard struct {
	inner   *BasicPageGuard
	dropped bool
}

func newReadGuard(p *Pool, f *frame, id page.ID) *ReadPageGuard {
	f.latch.RLock()
	return &ReadPageGuard{inner: newBasicGuard(p, f, id)}
}

func (g *ReadPageGuard) PageID() page.ID { return g.inner.PageID() }
func (g *ReadPageGuard) Data() []byte    { return g.inner.Data() }

func (g *ReadPageGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.inner.frame.latch.RUnlock()
	g.inner.Drop()
}

func (g *ReadPageGuard) Close() error {
	g.Drop()
	return nil
}

// WritePageGuard holds an exclusive latch. Any mutation to Data must be
// followed by a call that marks the guard dirty — MutableData does so
// automatically the first time it is called.
type WritePageGuard struct {
	inner   *BasicPageGuard
	dropped bool
}

func newWriteGuard(p *Pool, f *frame, id page.ID) *WritePageGuard {
	f.latch.Lock()
	return &WritePageGuard{inner: newBasicGuard(p, f, id)}
}

func (g *WritePageGuard) PageID() page.ID { return g.inner.PageID() }

// Data returns a read-only view without marking the page dirty.
func (g *WritePageGuard) Data() []byte { return g.inner.Data() }

// MutableData returns the page buffer for writing and marks the guard
// dirty.
func (g *WritePageGuard) MutableData() []byte {
	g.inner.SetDirty()
	return g.inner.Data()
}

// SetDirty marks the page dirty; it will be written back on eviction or
// flush.
func (g *WritePageGuard) SetDirty() { g.inner.SetDirty() }

func (g *WritePageGuard) Drop() {
	if g.dropped {
		return
	}
	g.dropped = true
	g.inner.frame.latch.Unlock()
	g.inner.Drop()
}

func (g *WritePageGuard) Close() error {
	g.Drop()
	return nil
}

// FetchPageBasic pins id and returns a guard holding only the pin.
func (p *Pool) FetchPageBasic(id page.ID) (*BasicPageGuard, error) {
	fid, err := p.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return newBasicGuard(p, p.frameByID(fid), id), nil
}

// FetchPageRead pins id and acquires a shared latch on its buffer.
func (p *Pool) FetchPageRead(id page.ID) (*ReadPageGuard, error) {
	fid, err := p.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return newReadGuard(p, p.frameByID(fid), id), nil
}

// FetchPageWrite pins id and acquires an exclusive latch on its buffer.
func (p *Pool) FetchPageWrite(id page.ID) (*WritePageGuard, error) {
	fid, err := p.FetchPage(id)
	if err != nil {
		return nil, err
	}
	return newWriteGuard(p, p.frameByID(fid), id), nil
}

// NewPageGuarded allocates a new page and returns a basic guard over it.
func (p *Pool) NewPageGuarded() (*BasicPageGuard, error) {
	id, err := p.NewPage()
	if err != nil {
		return nil, err
	}
	fid, _ := p.pageTableLookup(id)
	return newBasicGuard(p, p.frameByID(fid), id), nil
}

// pageTableLookup is a small helper so guard construction doesn't need to
// re-pin through FetchPage after NewPage already pinned the frame once.
func (p *Pool) pageTableLookup(id page.ID) (page.FrameID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fid, ok := p.pageTable[id]
	return fid, ok
}
