package lruk

import (
	"testing"

	"dbcore/internal/page"
)

func TestEvictPrefersInfiniteDistance(t *testing.T) {
	r := New(4, 2)

	// frame 0: two accesses -> finite K-distance
	r.RecordAccess(0)
	r.RecordAccess(0)
	// frame 1: two accesses
	r.RecordAccess(1)
	r.RecordAccess(1)
	// frame 2: a single access -> +Inf K-distance
	r.RecordAccess(2)

	for _, f := range []page.FrameID{0, 1, 2} {
		if err := r.SetEvictable(f, true); err != nil {
			t.Fatalf("SetEvictable(%d): %v", f, err)
		}
	}

	victim, ok := r.Evict()
	if !ok {
		t.Fatal("expected a victim")
	}
	if victim != 2 {
		t.Fatalf("expected frame 2 (fewer than K accesses) to be evicted first, got %d", victim)
	}
}

func TestEvictTieBreaksOnEarliestFirstAccess(t *testing.T) {
	// K=3: two accesses each leave both frames at +Inf K-distance, so the
	// choice falls to the first-access tie-break.
	r := New(4, 3)

	r.RecordAccess(0) // first access at t=1
	r.RecordAccess(1) // first access at t=2
	r.RecordAccess(0)
	r.RecordAccess(1)

	_ = r.SetEvictable(0, true)
	_ = r.SetEvictable(1, true)

	victim, ok := r.Evict()
	if !ok || victim != 0 {
		t.Fatalf("expected frame 0 (earlier first access) evicted, got %d ok=%v", victim, ok)
	}
}

func TestSetEvictableUnknownFrameErrors(t *testing.T) {
	r := New(2, 2)
	if err := r.SetEvictable(5, true); err == nil {
		t.Fatal("expected error for unknown frame")
	}
}

func TestRemoveNonEvictableErrors(t *testing.T) {
	r := New(2, 2)
	r.RecordAccess(0)
	if err := r.Remove(0); err == nil {
		t.Fatal("expected error removing a non-evictable frame")
	}
}

func TestSizeTracksEvictableCount(t *testing.T) {
	r := New(3, 2)
	r.RecordAccess(0)
	r.RecordAccess(1)
	r.RecordAccess(2)

	if r.Size() != 0 {
		t.Fatalf("expected 0 evictable initially, got %d", r.Size())
	}
	_ = r.SetEvictable(0, true)
	_ = r.SetEvictable(1, true)
	if r.Size() != 2 {
		t.Fatalf("expected 2 evictable, got %d", r.Size())
	}
	_ = r.SetEvictable(0, false)
	if r.Size() != 1 {
		t.Fatalf("expected 1 evictable after un-marking, got %d", r.Size())
	}
}

func TestEvictNoneEvictable(t *testing.T) {
	r := New(2, 2)
	r.RecordAccess(0)
	if _, ok := r.Evict(); ok {
		t.Fatal("expected no victim when nothing is evictable")
	}
}
