// Package bplustree implements a concurrent B+ tree index on top of the
// buffer pool, using latch crabbing for traversal and mutation.
//
// Grounded on original_source/src/storage/page/b_plus_tree_{leaf,internal}_page.cpp
// for the exact on-disk layout and binary-search semantics, and on
// DaemonDB's storage_engine/access/indexfile_manager/bplustree package
// (struct.go, node_to_index_page.go) for the Go field naming and the
// separate insertion/deletion files this package keeps (insert.go,
// delete.go) — generalized from DaemonDB's variable-length []byte keys under a
// single whole-tree mutex to fixed-width keys under per-page latch
// crabbing.
package bplustree

import (
	"encoding/binary"
	"fmt"

	"dbcore/internal/page"
)

// kind tags a page as leaf or internal, replacing the C++ reference's
// dynamic_cast between node subclasses with an explicit tagged field read
// once from the header.
type kind byte

const (
	kindLeaf     kind = 1
	kindInternal kind = 2
)

// Header layout, common to both page kinds:
//
//	offset 0: kind       (1 byte)
//	offset 1: size       (2 bytes, little-endian uint16)
//	offset 3: maxSize    (2 bytes, little-endian uint16)
//	offset 5: nextPageID (4 bytes, leaf pages only)
const (
	hdrKindOff     = 0
	hdrSizeOff     = 1
	hdrMaxSizeOff  = 3
	hdrNextOff     = 5
	leafHeaderSize = 9
	intHeaderSize  = 5
)

// rid on-disk size: 4-byte page id + 4-byte slot id.
const ridSize = 8

func readHeaderKind(data []byte) kind { return kind(data[hdrKindOff]) }

func readSize(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[hdrSizeOff:]))
}

func writeSize(data []byte, n int) {
	binary.LittleEndian.PutUint16(data[hdrSizeOff:], uint16(n))
}

func readMaxSize(data []byte) int {
	return int(binary.LittleEndian.Uint16(data[hdrMaxSizeOff:]))
}

func writeMaxSize(data []byte, n int) {
	binary.LittleEndian.PutUint16(data[hdrMaxSizeOff:], uint16(n))
}

// leafView wraps a guard's raw buffer with typed accessors for a leaf
// page's header, key array, and RID array. It does not own the guard.
type leafView struct {
	data    []byte
	keySize int
}

func initLeafPage(data []byte, keySize, maxSize int) {
	data[hdrKindOff] = byte(kindLeaf)
	writeSize(data, 0)
	writeMaxSize(data, maxSize)
	invalid := page.InvalidID
	binary.LittleEndian.PutUint32(data[hdrNextOff:], uint32(int32(invalid)))
}

func (l leafView) size() int       { return readSize(l.data) }
func (l leafView) maxSize() int    { return readMaxSize(l.data) }
func (l leafView) setSize(n int)   { writeSize(l.data, n) }
func (l leafView) entrySize() int  { return l.keySize + ridSize }
func (l leafView) slotOffset(i int) int {
	return leafHeaderSize + i*l.entrySize()
}

func (l leafView) nextPageID() page.ID {
	return page.ID(int32(binary.LittleEndian.Uint32(l.data[hdrNextOff:])))
}

func (l leafView) setNextPageID(id page.ID) {
	binary.LittleEndian.PutUint32(l.data[hdrNextOff:], uint32(int32(id)))
}

func (l leafView) keyAt(i int) []byte {
	off := l.slotOffset(i)
	return l.data[off : off+l.keySize]
}

func (l leafView) ridAt(i int) page.RID {
	off := l.slotOffset(i) + l.keySize
	pid := int32(binary.LittleEndian.Uint32(l.data[off:]))
	slot := binary.LittleEndian.Uint32(l.data[off+4:])
	return page.RID{PageID: page.ID(pid), SlotID: slot}
}

func (l leafView) setEntry(i int, key []byte, rid page.RID) {
	off := l.slotOffset(i)
	copy(l.data[off:off+l.keySize], key)
	binary.LittleEndian.PutUint32(l.data[off+l.keySize:], uint32(int32(rid.PageID)))
	binary.LittleEndian.PutUint32(l.data[off+l.keySize+4:], rid.SlotID)
}

// copyEntry copies slot src of leaf `from` into slot dst of l.
func (l leafView) copyEntry(dst int, from leafView, src int) {
	l.setEntry(dst, from.keyAt(src), from.ridAt(src))
}

// internalView wraps a guard's raw buffer with typed accessors for an
// internal page. Slot 0 holds an unused sentinel key and the leftmost
// child; slots 1..size-1 hold (separator key, child).
type internalView struct {
	data    []byte
	keySize int
}

func initInternalPage(data []byte, keySize, maxSize int) {
	data[hdrKindOff] = byte(kindInternal)
	writeSize(data, 0)
	writeMaxSize(data, maxSize)
}

func (n internalView) size() int    { return readSize(n.data) }
func (n internalView) maxSize() int { return readMaxSize(n.data) }
func (n internalView) setSize(v int) { writeSize(n.data, v) }
func (n internalView) entrySize() int { return n.keySize + 4 }
func (n internalView) slotOffset(i int) int {
	return intHeaderSize + i*n.entrySize()
}

func (n internalView) keyAt(i int) []byte {
	off := n.slotOffset(i)
	return n.data[off : off+n.keySize]
}

func (n internalView) setKeyAt(i int, key []byte) {
	off := n.slotOffset(i)
	copy(n.data[off:off+n.keySize], key)
}

func (n internalView) valueAt(i int) page.ID {
	off := n.slotOffset(i) + n.keySize
	return page.ID(int32(binary.LittleEndian.Uint32(n.data[off:])))
}

func (n internalView) setValueAt(i int, id page.ID) {
	off := n.slotOffset(i) + n.keySize
	binary.LittleEndian.PutUint32(n.data[off:], uint32(int32(id)))
}

func (n internalView) setEntry(i int, key []byte, child page.ID) {
	n.setKeyAt(i, key)
	n.setValueAt(i, child)
}

func (n internalView) copyEntry(dst int, from internalView, src int) {
	n.setEntry(dst, from.keyAt(src), from.valueAt(src))
}

func leafEntrySize(keySize int) int     { return keySize + ridSize }
func internalEntrySize(keySize int) int { return keySize + 4 }

// maxEntriesFor returns how many entries of the given size fit in a page
// after the header, used when the caller does not pass an explicit
// maxSize (tests mostly pass an explicit small maxSize to exercise splits
// without needing a 4KiB-sized fixture).
func maxEntriesFor(headerSize, entrySize int) int {
	n := (page.Size - headerSize) / entrySize
	if n < 3 {
		panic(fmt.Sprintf("bplustree: page too small for entry size %d", entrySize))
	}
	return n
}
