package bplustree

import (
	"dbcore/internal/buffer"
	"dbcore/internal/page"
)

func (t *Tree) leafMinSize() int     { return (t.leafMaxSize + 1) / 2 }
func (t *Tree) internalMinSize() int { return (t.internalMaxSize + 1) / 2 }

func removeLeafSlot(lv leafView, idx int) {
	for i := idx; i < lv.size()-1; i++ {
		lv.copyEntry(i, lv, i+1)
	}
	lv.setSize(lv.size() - 1)
}

func removeInternalSlot(iv internalView, idx int) {
	for i := idx; i < iv.size()-1; i++ {
		iv.copyEntry(i, iv, i+1)
	}
	iv.setSize(iv.size() - 1)
}

type deleteAncestor struct {
	guard    *buffer.WritePageGuard
	childIdx int
}

// Delete removes key via latch crabbing symmetric to Insert: a node is
// safe if removing one entry cannot force it below its minimum
// occupancy. The root is conservatively treated as always unsafe, so the
// header stays latched until the descent proves it irrelevant — a
// simplification original_source's b_plus_tree.cpp avoids with more
// granular bookkeeping, traded here for simpler crabbing code.
func (t *Tree) Delete(key []byte) error {
	hg, err := t.pool.FetchPageWrite(t.headerPageID)
	if err != nil {
		return err
	}
	root := readHeaderRoot(hg.Data())
	if root == page.InvalidID {
		hg.Drop()
		return ErrKeyNotFound
	}

	var stack []deleteAncestor
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
		isRoot := cur.PageID() == root
		safe := !isRoot && iv.size()-1 >= t.internalMinSize()
		if safe {
			release()
			if headerHeld {
				hg.Drop()
				headerHeld = false
			}
		}
		idx := t.internalFind(iv, key)
		childID := iv.valueAt(idx)
		stack = append(stack, deleteAncestor{guard: cur, childIdx: idx})
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
	idx, found := t.leafFind(lv, key)
	if !found {
		release()
		cur.Drop()
		if headerHeld {
			hg.Drop()
		}
		return ErrKeyNotFound
	}
	removeLeafSlot(lv, idx)
	cur.SetDirty()

	isRootLeaf := cur.PageID() == root
	if isRootLeaf || lv.size() >= t.leafMinSize() {
		cur.Drop()
		release()
		if headerHeld {
			hg.Drop()
		}
		return nil
	}

	if len(stack) == 0 {
		// Unreachable: a non-root leaf always has a parent on the stack.
		cur.Drop()
		if headerHeld {
			hg.Drop()
		}
		return nil
	}

	parent := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	pv := internalView{data: parent.guard.Data(), keySize: t.keySize}
	leftIdx := parent.childIdx
	useLeft := leftIdx > 0

	var siblingID page.ID
	if useLeft {
		siblingID = pv.valueAt(leftIdx - 1)
	} else {
		siblingID = pv.valueAt(leftIdx + 1)
	}
	sibGuard, err := t.pool.FetchPageWrite(siblingID)
	if err != nil {
		cur.Drop()
		parent.guard.Drop()
		release()
		if headerHeld {
			hg.Drop()
		}
		return err
	}
	sv := leafView{data: sibGuard.Data(), keySize: t.keySize}

	finishSafe := func() {
		release()
		if headerHeld {
			hg.Drop()
		}
	}

	if useLeft {
		if sv.size()+lv.size() > t.leafMaxSize-1 {
			last := sv.size() - 1
			key0, rid0 := sv.keyAt(last), sv.ridAt(last)
			for i := lv.size(); i > 0; i-- {
				lv.copyEntry(i, lv, i-1)
			}
			lv.setEntry(0, key0, rid0)
			lv.setSize(lv.size() + 1)
			sv.setSize(last)
			pv.setKeyAt(leftIdx, key0)
			cur.SetDirty()
			sibGuard.SetDirty()
			parent.guard.SetDirty()
			cur.Drop()
			sibGuard.Drop()
			parent.guard.Drop()
			finishSafe()
			return nil
		}
		base := sv.size()
		for i := 0; i < lv.size(); i++ {
			sv.copyEntry(base+i, lv, i)
		}
		sv.setSize(base + lv.size())
		sv.setNextPageID(lv.nextPageID())
		removeInternalSlot(pv, leftIdx)
		deletedID := cur.PageID()
		cur.Drop()
		_ = t.pool.DeletePage(deletedID)
		sibGuard.SetDirty()
		sibGuard.Drop()
		return t.fixupAfterMerge(hg, headerHeld, parent.guard, stack, root)
	}

	if sv.size()+lv.size() > t.leafMaxSize-1 {
		key0, rid0 := sv.keyAt(0), sv.ridAt(0)
		lv.setEntry(lv.size(), key0, rid0)
		lv.setSize(lv.size() + 1)
		removeLeafSlot(sv, 0)
		pv.setKeyAt(leftIdx+1, sv.keyAt(0))
		cur.SetDirty()
		sibGuard.SetDirty()
		parent.guard.SetDirty()
		cur.Drop()
		sibGuard.Drop()
		parent.guard.Drop()
		finishSafe()
		return nil
	}

	base := lv.size()
	for i := 0; i < sv.size(); i++ {
		lv.copyEntry(base+i, sv, i)
	}
	lv.setSize(base + sv.size())
	lv.setNextPageID(sv.nextPageID())
	removeInternalSlot(pv, leftIdx+1)
	deletedID := sibGuard.PageID()
	sibGuard.Drop()
	_ = t.pool.DeletePage(deletedID)
	cur.SetDirty()
	cur.Drop()
	return t.fixupAfterMerge(hg, headerHeld, parent.guard, stack, root)
}

// fixupAfterMerge walks upward from an internal node whose child count
// just shrank by one, borrowing from or merging with a sibling as needed,
// until reaching a safe node or the root.
func (t *Tree) fixupAfterMerge(hg *buffer.WritePageGuard, headerHeld bool, node *buffer.WritePageGuard, stack []deleteAncestor, root page.ID) error {
	for {
		iv := internalView{data: node.Data(), keySize: t.keySize}
		isRoot := node.PageID() == root

		if isRoot {
			if iv.size() == 1 {
				newRoot := iv.valueAt(0)
				oldRoot := node.PageID()
				node.Drop()
				_ = t.pool.DeletePage(oldRoot)
				writeHeaderRoot(hg.Data(), newRoot)
				hg.SetDirty()
				hg.Drop()
				return nil
			}
			node.SetDirty()
			node.Drop()
			for _, a := range stack {
				a.guard.Drop()
			}
			if headerHeld {
				hg.Drop()
			}
			return nil
		}

		if iv.size() >= t.internalMinSize() {
			node.SetDirty()
			node.Drop()
			for _, a := range stack {
				a.guard.Drop()
			}
			if headerHeld {
				hg.Drop()
			}
			return nil
		}

		gp := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		gpv := internalView{data: gp.guard.Data(), keySize: t.keySize}
		leftIdx := gp.childIdx
		useLeft := leftIdx > 0

		var siblingID page.ID
		if useLeft {
			siblingID = gpv.valueAt(leftIdx - 1)
		} else {
			siblingID = gpv.valueAt(leftIdx + 1)
		}
		sibGuard, err := t.pool.FetchPageWrite(siblingID)
		if err != nil {
			node.Drop()
			gp.guard.Drop()
			for _, a := range stack {
				a.guard.Drop()
			}
			if headerHeld {
				hg.Drop()
			}
			return err
		}
		sv := internalView{data: sibGuard.Data(), keySize: t.keySize}

		if useLeft {
			if sv.size()+iv.size() > t.internalMaxSize {
				movedChild := sv.valueAt(sv.size() - 1)
				oldSep := append([]byte(nil), gpv.keyAt(leftIdx)...)
				newSep := append([]byte(nil), sv.keyAt(sv.size()-1)...)
				for i := iv.size(); i > 0; i-- {
					iv.copyEntry(i, iv, i-1)
				}
				iv.setEntry(1, oldSep, iv.valueAt(0))
				iv.setValueAt(0, movedChild)
				iv.setSize(iv.size() + 1)
				sv.setSize(sv.size() - 1)
				gpv.setKeyAt(leftIdx, newSep)
				node.SetDirty()
				sibGuard.SetDirty()
				gp.guard.SetDirty()
				node.Drop()
				sibGuard.Drop()
				gp.guard.Drop()
				for _, a := range stack {
					a.guard.Drop()
				}
				if headerHeld {
					hg.Drop()
				}
				return nil
			}
			sep := append([]byte(nil), gpv.keyAt(leftIdx)...)
			base := sv.size()
			sv.setEntry(base, sep, iv.valueAt(0))
			for i := 1; i < iv.size(); i++ {
				sv.copyEntry(base+i, iv, i)
			}
			sv.setSize(base + iv.size())
			removeInternalSlot(gpv, leftIdx)
			deletedID := node.PageID()
			node.Drop()
			_ = t.pool.DeletePage(deletedID)
			sibGuard.SetDirty()
			sibGuard.Drop()
			node = gp.guard
			continue
		}

		if sv.size()+iv.size() > t.internalMaxSize {
			movedChild := sv.valueAt(0)
			oldSep := append([]byte(nil), gpv.keyAt(leftIdx+1)...)
			newSep := append([]byte(nil), sv.keyAt(1)...)
			iv.setEntry(iv.size(), oldSep, movedChild)
			iv.setSize(iv.size() + 1)
			removeInternalSlot(sv, 0)
			gpv.setKeyAt(leftIdx+1, newSep)
			node.SetDirty()
			sibGuard.SetDirty()
			gp.guard.SetDirty()
			node.Drop()
			sibGuard.Drop()
			gp.guard.Drop()
			for _, a := range stack {
				a.guard.Drop()
			}
			if headerHeld {
				hg.Drop()
			}
			return nil
		}
		sep := append([]byte(nil), gpv.keyAt(leftIdx+1)...)
		base := iv.size()
		iv.setEntry(base, sep, sv.valueAt(0))
		for i := 1; i < sv.size(); i++ {
			iv.copyEntry(base+i, sv, i)
		}
		iv.setSize(base + sv.size())
		removeInternalSlot(gpv, leftIdx+1)
		deletedID := sibGuard.PageID()
		sibGuard.Drop()
		_ = t.pool.DeletePage(deletedID)
		node.SetDirty()
		node.Drop()
		node = gp.guard
	}
}
