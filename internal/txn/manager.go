package txn

import (
	"container/list"

	"dbcore/internal/page"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LockManager grants and tracks table- and row-granularity locks across
// transactions. Each resource gets its own queue, looked up through a
// lock-free concurrent map rather than one global mutex — grounded on
// yale-systems-go-db-2024's LockManager{lockTable *xsync.MapOf[...]}.
type LockManager struct {
	tables *xsync.MapOf[int64, *queue]
	rows   *xsync.MapOf[ResourceID, *queue]
	logger zerolog.Logger
}

// NewLockManager builds an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		tables: xsync.NewMapOf[int64, *queue](),
		rows:   xsync.NewMapOf[ResourceID, *queue](),
		logger: log.With().Str("component", "lockmgr").Logger(),
	}
}

func (lm *LockManager) WithLogger(l zerolog.Logger) *LockManager {
	lm.logger = l
	return lm
}

func (lm *LockManager) abort(t *Transaction, reason AbortReason) error {
	t.setState(Aborted)
	lm.logger.Warn().Int64("txn_id", t.ID()).Str("reason", reason.String()).Msg("transaction aborted by lock manager")
	return &AbortError{TxnID: t.ID(), Reason: reason}
}

// isolationAllows enforces the per-isolation-level rules a lock request
// must satisfy before it is even queued: READ_UNCOMMITTED never takes a
// shared-family lock (S, IS, SIX) in any state; READ_COMMITTED may still
// take S/IS while SHRINKING (only IX/X/SIX are forbidden there);
// REPEATABLE_READ/SERIALIZABLE forbids every lock while SHRINKING.
func isolationAllows(t *Transaction, mode Mode) (bool, AbortReason) {
	if t.Isolation() == ReadUncommitted && (mode == Shared || mode == IntentionShared || mode == SharedIntentionExclusive) {
		return false, ReasonLockSharedOnReadUncommitted
	}
	if t.State() == Shrinking && t.Isolation() == ReadCommitted && (mode == Shared || mode == IntentionShared) {
		return true, 0
	}
	if t.State() != Growing {
		return false, ReasonLockOnShrinking
	}
	return true, 0
}

// LockTable acquires (or upgrades to) mode on tableOID for t.
func (lm *LockManager) LockTable(t *Transaction, mode Mode, tableOID int64) error {
	if ok, reason := isolationAllows(t, mode); !ok {
		return lm.abort(t, reason)
	}
	if existing, ok := t.tableModeOf(tableOID); ok {
		if existing == mode {
			return nil
		}
		if !CanUpgrade(existing, mode) {
			return lm.abort(t, ReasonIncompatibleUpgrade)
		}
		q, _ := lm.tables.LoadOrCompute(tableOID, acquireQueue)
		return lm.upgrade(t, q, mode,
			func() { t.forgetTable(tableOID, existing) },
			func() { t.recordTable(tableOID, mode) })
	}

	q, _ := lm.tables.LoadOrCompute(tableOID, acquireQueue)
	return lm.acquire(t, q, mode, func() { t.recordTable(tableOID, mode) })
}

// LockRow acquires (or upgrades to) mode on rid within tableOID for t.
// Only Shared and Exclusive are valid row-granularity modes; t must
// already hold a lock on the table, and an Exclusive row lock needs that
// table lock to be X, IX or SIX.
func (lm *LockManager) LockRow(t *Transaction, mode Mode, tableOID int64, rid page.RID) error {
	if mode != Shared && mode != Exclusive {
		return lm.abort(t, ReasonAttemptedIntentionLockOnRow)
	}
	if ok, reason := isolationAllows(t, mode); !ok {
		return lm.abort(t, reason)
	}
	tableMode, ok := t.tableModeOf(tableOID)
	if !ok {
		return lm.abort(t, ReasonTableLockNotPresent)
	}
	if mode == Exclusive && tableMode != Exclusive && tableMode != IntentionExclusive && tableMode != SharedIntentionExclusive {
		return lm.abort(t, ReasonTableLockNotPresent)
	}

	res := RowResource(tableOID, rid)
	if existing, ok := t.rowModeOf(res); ok {
		if existing == mode {
			return nil
		}
		if !CanUpgrade(existing, mode) {
			return lm.abort(t, ReasonIncompatibleUpgrade)
		}
		q, _ := lm.rows.LoadOrCompute(res, acquireQueue)
		return lm.upgrade(t, q, mode,
			func() { t.forgetRow(res, existing) },
			func() { t.recordRow(res, mode) })
	}

	q, _ := lm.rows.LoadOrCompute(res, acquireQueue)
	return lm.acquire(t, q, mode, func() { t.recordRow(res, mode) })
}

// acquire blocks t until mode can be granted on q, in FIFO order subject
// to compatibility, per original_source's CanTxnTakeLock grant loop.
func (lm *LockManager) acquire(t *Transaction, q *queue, mode Mode, onGrant func()) error {
	q.mu.Lock()
	r := &request{txnID: t.ID(), mode: mode}
	elem := q.requests.PushBack(r)
	for !q.canGrant(elem) {
		q.cond.Wait()
		if t.State() == Aborted {
			q.requests.Remove(elem)
			q.mu.Unlock()
			q.cond.Broadcast()
			return &AbortError{TxnID: t.ID(), Reason: ReasonDeadlockPrevention}
		}
	}
	r.granted = true
	q.mu.Unlock()
	q.cond.Broadcast()
	onGrant()
	return nil
}

// upgrade replaces t's existing granted request on q with one for `to`,
// placed ahead of every waiting request. Only one upgrade may be in flight
// per queue: if another transaction is already upgrading, t is aborted
// with ReasonUpgradeConflict.
func (lm *LockManager) upgrade(t *Transaction, q *queue, to Mode, forget, record func()) error {
	q.mu.Lock()
	if q.upgrading != 0 && q.upgrading != t.ID() {
		q.mu.Unlock()
		return lm.abort(t, ReasonUpgradeConflict)
	}
	for e := q.requests.Front(); e != nil; e = e.Next() {
		if r := e.Value.(*request); r.txnID == t.ID() && r.granted {
			q.requests.Remove(e)
			break
		}
	}
	nr := &request{txnID: t.ID(), mode: to}
	var insertBefore *list.Element
	for e := q.requests.Front(); e != nil; e = e.Next() {
		if !e.Value.(*request).granted {
			insertBefore = e
			break
		}
	}
	var elem *list.Element
	if insertBefore != nil {
		elem = q.requests.InsertBefore(nr, insertBefore)
	} else {
		elem = q.requests.PushBack(nr)
	}
	q.upgrading = t.ID()
	for !q.canGrant(elem) {
		q.cond.Wait()
		if t.State() == Aborted {
			q.requests.Remove(elem)
			q.upgrading = 0
			q.mu.Unlock()
			q.cond.Broadcast()
			return &AbortError{TxnID: t.ID(), Reason: ReasonDeadlockPrevention}
		}
	}
	nr.granted = true
	q.upgrading = 0
	q.mu.Unlock()
	forget()
	record()
	q.cond.Broadcast()
	return nil
}

func (lm *LockManager) release(q *queue, txnID int64) {
	q.mu.Lock()
	for e := q.requests.Front(); e != nil; e = e.Next() {
		if e.Value.(*request).txnID == txnID {
			q.requests.Remove(e)
			break
		}
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (lm *LockManager) transitionToShrinking(t *Transaction) {
	if t.State() == Growing {
		t.setState(Shrinking)
	}
}

// UnlockTable releases t's lock on tableOID. It aborts t if t still holds
// any row lock derived from that table, or if t holds no lock on it at
// all.
func (lm *LockManager) UnlockTable(t *Transaction, tableOID int64) error {
	mode, ok := t.tableModeOf(tableOID)
	if !ok {
		return lm.abort(t, ReasonAttemptedUnlockButNoLockHeld)
	}
	if t.hasRowLocksOnTable(tableOID) {
		return lm.abort(t, ReasonTableUnlockedBeforeUnlockingRows)
	}
	if q, ok := lm.tables.Load(tableOID); ok {
		lm.release(q, t.ID())
	}
	t.forgetTable(tableOID, mode)
	lm.transitionToShrinking(t)
	return nil
}

// UnlockRow releases t's lock on rid within tableOID.
func (lm *LockManager) UnlockRow(t *Transaction, tableOID int64, rid page.RID) error {
	res := RowResource(tableOID, rid)
	mode, ok := t.rowModeOf(res)
	if !ok {
		return lm.abort(t, ReasonAttemptedUnlockButNoLockHeld)
	}
	if q, ok := lm.rows.Load(res); ok {
		lm.release(q, t.ID())
	}
	t.forgetRow(res, mode)
	lm.transitionToShrinking(t)
	return nil
}

// ReleaseAll drops every lock t holds, used on commit and abort.
func (lm *LockManager) ReleaseAll(t *Transaction) {
	for _, oids := range t.allTableLocks() {
		for _, oid := range oids {
			if q, ok := lm.tables.Load(oid); ok {
				lm.release(q, t.ID())
			}
		}
	}
	for _, resources := range t.allRowLocks() {
		for _, res := range resources {
			if q, ok := lm.rows.Load(res); ok {
				lm.release(q, t.ID())
			}
		}
	}
}

// WaitsForGraph builds the current waits-for graph: an edge u->v means
// transaction u is blocked waiting on a lock held by transaction v.
func (lm *LockManager) WaitsForGraph() map[int64]map[int64]bool {
	graph := make(map[int64]map[int64]bool)
	addEdges := func(q *queue) {
		q.mu.Lock()
		defer q.mu.Unlock()
		var granted []int64
		for e := q.requests.Front(); e != nil; e = e.Next() {
			if r := e.Value.(*request); r.granted {
				granted = append(granted, r.txnID)
			}
		}
		for e := q.requests.Front(); e != nil; e = e.Next() {
			r := e.Value.(*request)
			if r.granted {
				continue
			}
			for _, h := range granted {
				if h == r.txnID {
					continue
				}
				if graph[r.txnID] == nil {
					graph[r.txnID] = make(map[int64]bool)
				}
				graph[r.txnID][h] = true
			}
		}
	}
	lm.tables.Range(func(_ int64, q *queue) bool { addEdges(q); return true })
	lm.rows.Range(func(_ ResourceID, q *queue) bool { addEdges(q); return true })
	return graph
}

// BroadcastAll wakes every waiter on every queue, used after the deadlock
// detector aborts a victim so its acquire/upgrade loop notices.
func (lm *LockManager) BroadcastAll() {
	lm.tables.Range(func(_ int64, q *queue) bool { q.cond.Broadcast(); return true })
	lm.rows.Range(func(_ ResourceID, q *queue) bool { q.cond.Broadcast(); return true })
}

// compactEmptyQueues returns queues with no pending or granted requests to
// the pool and drops their map entries, called periodically by the
// deadlock detector so long-lived tables don't accumulate a queue object
// per row ever locked. Racing with a request that arrives the instant
// after a queue is found empty is possible but benign: LoadOrCompute
// simply allocates a fresh queue for it.
func (lm *LockManager) compactEmptyQueues() {
	lm.tables.Range(func(oid int64, q *queue) bool {
		if releaseQueueIfEmpty(q) {
			lm.tables.Delete(oid)
		}
		return true
	})
	lm.rows.Range(func(res ResourceID, q *queue) bool {
		if releaseQueueIfEmpty(q) {
			lm.rows.Delete(res)
		}
		return true
	})
}
