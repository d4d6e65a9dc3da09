package bplustree

import (
	"dbcore/internal/buffer"
	"dbcore/internal/page"
)

// Iterator walks leaf entries in key order via the leaf chain, following
// original_source's index_iterator.cpp: it holds a read guard on exactly
// one leaf at a time, releasing it and fetching the next leaf via
// nextPageID once exhausted, rather than holding the whole tree latched
// for the scan's duration.
type Iterator struct {
	tree   *Tree
	guard  *buffer.ReadPageGuard
	slot   int
	ended  bool
}

// Begin returns an iterator positioned at the smallest key >= key, or an
// exhausted iterator if the tree is empty or key exceeds every entry.
// Passing a nil key starts at the smallest key in the tree.
func (t *Tree) Begin(key []byte) (*Iterator, error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return nil, err
	}
	root := readHeaderRoot(hg.Data())
	hg.Drop()
	if root == page.InvalidID {
		return &Iterator{tree: t, ended: true}, nil
	}

	cur, err := t.pool.FetchPageRead(root)
	if err != nil {
		return nil, err
	}
	for readHeaderKind(cur.Data()) == kindInternal {
		iv := internalView{data: cur.Data(), keySize: t.keySize}
		var idx int
		if key == nil {
			idx = 0
		} else {
			idx = t.internalFind(iv, key)
		}
		next, err := t.pool.FetchPageRead(iv.valueAt(idx))
		cur.Drop()
		if err != nil {
			return nil, err
		}
		cur = next
	}

	lv := leafView{data: cur.Data(), keySize: t.keySize}
	slot := 0
	if key != nil {
		idx, _ := t.leafFind(lv, key)
		slot = idx
	}
	it := &Iterator{tree: t, guard: cur, slot: slot}
	it.skipToValid()
	return it, nil
}

// skipToValid advances across empty/exhausted leaves until positioned on
// a real entry or the end of the index.
func (it *Iterator) skipToValid() {
	for {
		if it.guard == nil {
			it.ended = true
			return
		}
		lv := leafView{data: it.guard.Data(), keySize: it.tree.keySize}
		if it.slot < lv.size() {
			return
		}
		next := lv.nextPageID()
		it.guard.Drop()
		it.guard = nil
		if next == page.InvalidID {
			it.ended = true
			return
		}
		g, err := it.tree.pool.FetchPageRead(next)
		if err != nil {
			it.ended = true
			return
		}
		it.guard = g
		it.slot = 0
	}
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool { return it.ended }

// Key returns the current entry's key. Must not be called when IsEnd.
func (it *Iterator) Key() []byte {
	lv := leafView{data: it.guard.Data(), keySize: it.tree.keySize}
	return append([]byte(nil), lv.keyAt(it.slot)...)
}

// Value returns the current entry's RID. Must not be called when IsEnd.
func (it *Iterator) Value() page.RID {
	lv := leafView{data: it.guard.Data(), keySize: it.tree.keySize}
	return lv.ridAt(it.slot)
}

// Next advances the iterator by one entry.
func (it *Iterator) Next() {
	if it.ended {
		return
	}
	it.slot++
	it.skipToValid()
}

// Close releases the iterator's current leaf guard, if any. Callers that
// run an iterator to exhaustion (IsEnd true) do not need to call Close.
func (it *Iterator) Close() error {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
	it.ended = true
	return nil
}
