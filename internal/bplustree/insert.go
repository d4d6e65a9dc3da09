package bplustree

import (
	"dbcore/internal/buffer"
	"dbcore/internal/page"
)

type insertAncestor struct {
	guard    *buffer.WritePageGuard
	childIdx int
}

// Insert adds key/rid to the tree via latch crabbing: ancestors are
// released as soon as the current node is provably safe (won't need to
// split even if its child does), following original_source's
// b_plus_tree.cpp Insert/InsertIntoLeaf/InsertIntoParent split.
func (t *Tree) Insert(key []byte, rid page.RID) error {
	hg, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}

	root := readHeaderRoot(hg.Data())
	if root == page.InvalidID {
		lg, err := t.newLeaf()
		if err != nil {
			hg.Drop()
			return err
		}
		lv := leafView{data: lg.Data(), keySize: t.keySize}
		lv.setEntry(0, key, rid)
		lv.setSize(1)
		writeHeaderRoot(hg.Data(), lg.PageID())
		hg.SetDirty()
		hg.Drop()
		lg.Drop()
		return nil
	}

	var stack []insertAncestor
	headerHeld := true
	release := func() {
		for _, a := range stack {
			a.guard.Drop()
		}
		stack = nil
	}

	cur, err := t.pool.FetchPageWrite(root)
	if err != nil {
		hg.Drop()
		return err
	}

	for readHeaderKind(cur.Data()) == kindInternal {
		iv := internalView{data: cur.Data(), keySize: t.keySize}
		if iv.size() < iv.maxSize()-1 {
			release()
			if headerHeld {
				hg.Drop()
				headerHeld = false
			}
		}
		idx := t.internalFind(iv, key)
		childID := iv.valueAt(idx)
		stack = append(stack, insertAncestor{guard: cur, childIdx: idx})
		next, err := t.pool.FetchPageWrite(childID)
		if err != nil {
			release()
			if headerHeld {
				hg.Drop()
			}
			return err
		}
		cur = next
	}

	lv := leafView{data: cur.Data(), keySize: t.keySize}
	if _, found := t.leafFind(lv, key); found {
		release()
		cur.Drop()
		if headerHeld {
			hg.Drop()
		}
		return ErrDuplicateKey
	}
	if lv.size() < lv.maxSize()-1 {
		release()
		if headerHeld {
			hg.Drop()
			headerHeld = false
		}
	}

	idx, _ := t.leafFind(lv, key)
	for i := lv.size(); i > idx; i-- {
		lv.copyEntry(i, lv, i-1)
	}
	lv.setEntry(idx, key, rid)
	lv.setSize(lv.size() + 1)
	cur.SetDirty()

	if lv.size() < lv.maxSize() {
		cur.Drop()
		release()
		if headerHeld {
			hg.Drop()
		}
		return nil
	}

	newLeafID, sepKey, err := t.splitLeaf(lv)
	leftID := cur.PageID()
	cur.Drop()
	if err != nil {
		release()
		if headerHeld {
			hg.Drop()
		}
		return err
	}

	childID := newLeafID
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		iv := internalView{data: top.guard.Data(), keySize: t.keySize}
		insertPos := top.childIdx + 1
		for i := iv.size(); i > insertPos; i-- {
			iv.copyEntry(i, iv, i-1)
		}
		iv.setEntry(insertPos, sepKey, childID)
		iv.setSize(iv.size() + 1)
		top.guard.SetDirty()

		if iv.size() < iv.maxSize() {
			top.guard.Drop()
			release()
			if headerHeld {
				hg.Drop()
			}
			return nil
		}

		newInternalID, promoted, err := t.splitInternal(iv)
		parentLeft := top.guard.PageID()
		top.guard.Drop()
		if err != nil {
			release()
			if headerHeld {
				hg.Drop()
			}
			return err
		}
		leftID = parentLeft
		childID = newInternalID
		sepKey = promoted
	}

	ng, err := t.newInternal()
	if err != nil {
		if headerHeld {
			hg.Drop()
		}
		return err
	}
	niv := internalView{data: ng.Data(), keySize: t.keySize}
	niv.setValueAt(0, leftID)
	niv.setEntry(1, sepKey, childID)
	niv.setSize(2)
	ng.SetDirty()
	ng.Drop()

	writeHeaderRoot(hg.Data(), ng.PageID())
	hg.SetDirty()
	hg.Drop()
	return nil
}

// splitLeaf moves the upper half of lv's entries into a freshly allocated
// leaf, threads the next-page chain through it, and returns the new
// page's id and the separator key to promote to the parent (the new
// leaf's first key, which — unlike an internal split — stays resident in
// the leaf as well as being copied up).
func (t *Tree) splitLeaf(lv leafView) (page.ID, []byte, error) {
	ng, err := t.newLeaf()
	if err != nil {
		return page.InvalidID, nil, err
	}
	nv := leafView{data: ng.Data(), keySize: t.keySize}

	total := lv.size()
	mid := total / 2
	for i := mid; i < total; i++ {
		nv.copyEntry(i-mid, lv, i)
	}
	nv.setSize(total - mid)
	nv.setNextPageID(lv.nextPageID())
	lv.setNextPageID(ng.PageID())
	lv.setSize(mid)

	sep := append([]byte(nil), nv.keyAt(0)...)
	id := ng.PageID()
	ng.SetDirty()
	ng.Drop()
	return id, sep, nil
}

// splitInternal moves the upper half of iv's entries (excluding the
// promoted middle key, which is not retained on either side) into a
// freshly allocated internal page.
func (t *Tree) splitInternal(iv internalView) (page.ID, []byte, error) {
	ng, err := t.newInternal()
	if err != nil {
		return page.InvalidID, nil, err
	}
	nv := internalView{data: ng.Data(), keySize: t.keySize}

	total := iv.size()
	mid := total / 2
	promoted := append([]byte(nil), iv.keyAt(mid)...)

	nv.setValueAt(0, iv.valueAt(mid))
	for i := mid + 1; i < total; i++ {
		nv.copyEntry(i-mid, iv, i)
	}
	nv.setSize(total - mid)
	iv.setSize(mid)

	id := ng.PageID()
	ng.SetDirty()
	ng.Drop()
	return id, promoted, nil
}
