package txn

import (
	"container/list"
	"sync"
)

// request is one transaction's ask for a lock on a queue's resource.
type request struct {
	txnID   int64
	mode    Mode
	granted bool
}

// queue serializes lock requests for a single resource (one table oid or
// one row RID). Waiters block on cond rather than busy-polling, and
// upgrading tracks the single transaction (if any) currently mid-upgrade,
// since only one upgrade may be in flight per resource at a time —
// grounded on yale-systems-go-db-2024's dbLock{holders, waiters,
// upgraders, mutex} shape, adapted from that file's slice-based holder
// set to an ordered list so FIFO-with-upgrader-priority grant order is
// exact rather than incidental to map iteration.
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requests  *list.List // of *request, oldest first
	upgrading int64      // 0 if no upgrade in flight
}

func newQueue() *queue {
	q := &queue{requests: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// reset clears a queue for reuse from the pool.
func (q *queue) reset() {
	q.requests.Init()
	q.upgrading = 0
}

var queuePool = sync.Pool{New: func() any { return newQueue() }}

func acquireQueue() *queue {
	return queuePool.Get().(*queue)
}

func releaseQueueIfEmpty(q *queue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.requests.Len() != 0 {
		return false
	}
	q.reset()
	queuePool.Put(q)
	return true
}

// grantedModes returns the modes currently held by granted requests other
// than skipTxn, used to test compatibility of a new or upgrading request.
func (q *queue) grantedModes(skipTxn int64) []Mode {
	var modes []Mode
	for e := q.requests.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if r.granted && r.txnID != skipTxn {
			modes = append(modes, r.mode)
		}
	}
	return modes
}

func compatibleWithAll(want Mode, held []Mode) bool {
	for _, h := range held {
		if !Compatible(h, want) {
			return false
		}
	}
	return true
}

// canGrant reports whether the request at position elem may be granted
// now: it must be compatible with every already-granted request, and if
// it is not itself the front-most waiting request, no earlier waiter may
// still be blocked (first-come-first-served) — except an in-flight
// upgrade always takes priority over new waiters queued behind it.
func (q *queue) canGrant(target *list.Element) bool {
	r := target.Value.(*request)
	if q.upgrading != 0 && q.upgrading != r.txnID {
		return false
	}
	for e := q.requests.Front(); e != target; e = e.Next() {
		w := e.Value.(*request)
		if !w.granted {
			return false
		}
	}
	return compatibleWithAll(r.mode, q.grantedModes(r.txnID))
}
