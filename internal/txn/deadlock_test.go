package txn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFindCycleDetectsSimpleCycle(t *testing.T) {
	graph := map[int64]map[int64]bool{
		1: {2: true},
		2: {3: true},
		3: {1: true},
	}
	cycle := findCycle(graph)
	if len(cycle) != 3 {
		t.Fatalf("expected a 3-node cycle, got %v", cycle)
	}
}

func TestFindCycleReturnsNilForAcyclicGraph(t *testing.T) {
	graph := map[int64]map[int64]bool{
		1: {2: true},
		2: {3: true},
	}
	if cycle := findCycle(graph); cycle != nil {
		t.Fatalf("expected no cycle, got %v", cycle)
	}
}

func TestDetectorAbortsYoungestInDeadlock(t *testing.T) {
	lm := NewLockManager()
	txm := NewManager(lm)
	tx1 := txm.Begin(Serializable)
	tx2 := txm.Begin(Serializable)

	if err := lm.LockTable(tx1, Exclusive, 100); err != nil {
		t.Fatal(err)
	}
	if err := lm.LockTable(tx2, Exclusive, 200); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- lm.LockTable(tx1, Exclusive, 200) }()
	go func() { errCh <- lm.LockTable(tx2, Exclusive, 100) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDetector(lm, txm, 20*time.Millisecond)
	go d.Run(ctx)

	select {
	case err := <-errCh:
		var abortErr *AbortError
		if !errors.As(err, &abortErr) {
			t.Fatalf("expected an AbortError from the deadlock cycle, got %v", err)
		}
		if abortErr.Reason != ReasonDeadlockPrevention {
			t.Fatalf("expected ReasonDeadlockPrevention, got %v", abortErr.Reason)
		}
		if abortErr.TxnID != tx2.ID() {
			t.Fatalf("expected the younger transaction (tx2, id %d) to be the victim, got txn %d", tx2.ID(), abortErr.TxnID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("deadlock was never detected")
	}
}
