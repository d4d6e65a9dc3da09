package bplustree

import (
	"errors"
	"fmt"

	"dbcore/internal/buffer"
	"dbcore/internal/page"
)

// ErrDuplicateKey is returned by Insert when the key already exists.
var ErrDuplicateKey = errors.New("bplustree: duplicate key")

// ErrKeyNotFound is returned by Delete and GetValue when the key is absent.
var ErrKeyNotFound = errors.New("bplustree: key not found")

// Tree is a concurrent B+ tree index. All structural access goes through
// the buffer pool's page guards; concurrency is provided by latch
// crabbing, not a whole-tree lock, generalizing DaemonDB's
// storage_engine/access/indexfile_manager/bplustree.BPlusTree (which
// serializes every operation behind one sync.RWMutex) to per-page latches
// acquired and released root-to-leaf.
type Tree struct {
	pool          *buffer.Pool
	cmp           page.Comparator
	keySize       int
	headerPageID  page.ID
	leafMaxSize   int
	internalMaxSize int
}

// New creates an empty tree backed by pool, allocating a header page to
// track the root. keySize is the fixed width of every key. leafMaxSize and
// internalMaxSize bound the number of entries a page may hold before it
// must split; pass 0 for either to size it to fill a page, the way
// production indexes are sized and small test fixtures are not.
func New(pool *buffer.Pool, keySize int, cmp page.Comparator, leafMaxSize, internalMaxSize int) (*Tree, error) {
	if leafMaxSize == 0 {
		leafMaxSize = maxEntriesFor(leafHeaderSize, leafEntrySize(keySize))
	}
	if internalMaxSize == 0 {
		internalMaxSize = maxEntriesFor(intHeaderSize, internalEntrySize(keySize))
	}

	hg, err := pool.NewPageGuarded()
	if err != nil {
		return nil, fmt.Errorf("bplustree: allocate header page: %w", err)
	}
	writeHeaderRoot(hg.Data(), page.InvalidID)
	hg.SetDirty()
	hg.Drop()

	return &Tree{
		pool:            pool,
		cmp:             cmp,
		keySize:         keySize,
		headerPageID:    hg.PageID(),
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}, nil
}

// Open reopens a tree backed by an existing header page, the counterpart
// to New for reattaching to an index a catalog already knows about across
// a process restart.
func Open(pool *buffer.Pool, headerPageID page.ID, keySize int, cmp page.Comparator, leafMaxSize, internalMaxSize int) *Tree {
	if leafMaxSize == 0 {
		leafMaxSize = maxEntriesFor(leafHeaderSize, leafEntrySize(keySize))
	}
	if internalMaxSize == 0 {
		internalMaxSize = maxEntriesFor(intHeaderSize, internalEntrySize(keySize))
	}
	return &Tree{
		pool:            pool,
		cmp:             cmp,
		keySize:         keySize,
		headerPageID:    headerPageID,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}
}

// HeaderPageID returns the page id a catalog should persist to reopen
// this tree later via Open.
func (t *Tree) HeaderPageID() page.ID { return t.headerPageID }

func writeHeaderRoot(data []byte, id page.ID) {
	for i := 0; i < 8; i++ {
		data[i] = byte(int64(id) >> (8 * i))
	}
}

func readHeaderRoot(data []byte) page.ID {
	var v int64
	for i := 0; i < 8; i++ {
		v |= int64(data[i]) << (8 * i)
	}
	return page.ID(v)
}

func (t *Tree) newLeaf() (*buffer.BasicPageGuard, error) {
	g, err := t.pool.NewPageGuarded()
	if err != nil {
		return nil, err
	}
	initLeafPage(g.Data(), t.keySize, t.leafMaxSize)
	g.SetDirty()
	return g, nil
}

func (t *Tree) newInternal() (*buffer.BasicPageGuard, error) {
	g, err := t.pool.NewPageGuarded()
	if err != nil {
		return nil, err
	}
	initInternalPage(g.Data(), t.keySize, t.internalMaxSize)
	g.SetDirty()
	return g, nil
}

// leafFind returns the slot index of key within a leaf's sorted entries,
// via binary search, or (insertionPoint, false) if absent, where
// insertionPoint is the slot the key would occupy to keep the leaf sorted.
func (t *Tree) leafFind(lv leafView, key []byte) (int, bool) {
	lo, hi := 0, lv.size()
	for lo < hi {
		mid := (lo + hi) / 2
		c := t.cmp(lv.keyAt(mid), key)
		if c == 0 {
			return mid, true
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// internalFind returns the index of the child pointer to follow for key:
// the last slot i>=1 whose key is <= key, or 0 if key is less than every
// separator.
func (t *Tree) internalFind(iv internalView, key []byte) int {
	lo, hi := 1, iv.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if t.cmp(iv.keyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// isRootEmpty reports whether the tree currently has no root page.
func (t *Tree) isRootEmpty() (bool, error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return false, err
	}
	defer hg.Drop()
	return readHeaderRoot(hg.Data()) == page.InvalidID, nil
}

// GetValue returns the RID stored for key, or ErrKeyNotFound.
func (t *Tree) GetValue(key []byte) (page.RID, error) {
	hg, err := t.pool.FetchPageRead(t.headerPageID)
	if err != nil {
		return page.RID{}, err
	}
	root := readHeaderRoot(hg.Data())
	if root == page.InvalidID {
		hg.Drop()
		return page.RID{}, ErrKeyNotFound
	}

	cur, err := t.pool.FetchPageRead(root)
	hg.Drop()
	if err != nil {
		return page.RID{}, err
	}
	for readHeaderKind(cur.Data()) == kindInternal {
		iv := internalView{data: cur.Data(), keySize: t.keySize}
		idx := t.internalFind(iv, key)
		childID := iv.valueAt(idx)
		next, err := t.pool.FetchPageRead(childID)
		cur.Drop()
		if err != nil {
			return page.RID{}, err
		}
		cur = next
	}
	lv := leafView{data: cur.Data(), keySize: t.keySize}
	idx, found := t.leafFind(lv, key)
	defer cur.Drop()
	if !found {
		return page.RID{}, ErrKeyNotFound
	}
	return lv.ridAt(idx), nil
}
