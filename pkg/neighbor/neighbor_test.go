package neighbor

import (
	"testing"
	"time"
)

func TestUpsertIsNewOnlyOnFirstBeacon(t *testing.T) {
	tb := New()
	now := time.Now()
	if isNew := tb.Upsert(1, now, 1, 1); !isNew {
		t.Fatal("first upsert of addr 1 should report new")
	}
	if isNew := tb.Upsert(1, now.Add(time.Second), 2, 3); isNew {
		t.Fatal("second upsert of addr 1 should not report new")
	}
	e, ok := tb.Get(1)
	if !ok {
		t.Fatal("expected entry for addr 1")
	}
	if e.HopCount != 2 || e.PathQuality != 3 {
		t.Fatalf("entry not updated: %+v", e)
	}
	if e.LastPacketNumber != -1 {
		t.Fatalf("LastPacketNumber should start at -1, got %d", e.LastPacketNumber)
	}
}

func TestAgeEvictsStaleNeighborsInOrder(t *testing.T) {
	tb := New()
	base := time.Now()
	tb.Upsert(1, base, 1, 1)
	tb.Upsert(2, base.Add(10*time.Second), 1, 1)

	var evicted []uint8
	tb.Age(base.Add(20*time.Second), 15*time.Second, func(e Entry) {
		evicted = append(evicted, e.Addr)
	})

	if len(evicted) != 1 || evicted[0] != 1 {
		t.Fatalf("expected only addr 1 evicted, got %v", evicted)
	}
	if _, ok := tb.Get(1); ok {
		t.Fatal("addr 1 should have been removed")
	}
	if _, ok := tb.Get(2); !ok {
		t.Fatal("addr 2 should still be present")
	}
	if tb.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tb.Len())
	}
}

func TestSelectSink(t *testing.T) {
	r := Select(0, New())
	if r != (Route{HopCount: 0, PathQuality: 255, NextHop: 0}) {
		t.Fatalf("sink route = %+v", r)
	}
}

func TestSelectNoNeighbors(t *testing.T) {
	r := Select(3, New())
	if r != (Route{HopCount: 255, PathQuality: 0, NextHop: UndefinedHop}) {
		t.Fatalf("no-neighbor route = %+v", r)
	}
}

// TestSelectTwoHopConvergence reproduces the end-to-end convergence
// scenario: sink S=0 beacons [2,0,0,255]; A=1 hears it and becomes
// (hop=1, pq=1, next_hop=0); B=2 hears A's beacon [2,1,1,1] and becomes
// (hop=2, pq=1, next_hop=1).
func TestSelectTwoHopConvergence(t *testing.T) {
	now := time.Now()

	aTable := New()
	aTable.Upsert(0, now, 0, 255)
	aRoute := Select(1, aTable)
	if aRoute != (Route{HopCount: 1, PathQuality: 1, NextHop: 0}) {
		t.Fatalf("A's route = %+v", aRoute)
	}

	bTable := New()
	bTable.Upsert(1, now, aRoute.HopCount, aRoute.PathQuality)
	bRoute := Select(2, bTable)
	if bRoute != (Route{HopCount: 2, PathQuality: 1, NextHop: 1}) {
		t.Fatalf("B's route = %+v", bRoute)
	}
}

func TestSelectBreaksTiesByInsertionOrder(t *testing.T) {
	now := time.Now()
	tb := New()
	tb.Upsert(5, now, 2, 4) // hop=2, pq=4 -> both tied for min hop and max pq
	tb.Upsert(6, now, 2, 4)
	tb.Upsert(7, now, 3, 9) // worse hop count, never a candidate

	r := Select(1, tb)
	if r.HopCount != 3 {
		t.Fatalf("HopCount = %d, want 3", r.HopCount)
	}
	if r.PathQuality != 2 {
		t.Fatalf("PathQuality = %d, want 2 (two neighbors tied at min hop/max pq)", r.PathQuality)
	}
	if r.NextHop != 5 {
		t.Fatalf("NextHop = %d, want 5 (first inserted among the tied set)", r.NextHop)
	}
}

func TestSelectPathQualityIsSecondaryPreference(t *testing.T) {
	now := time.Now()
	tb := New()
	tb.Upsert(1, now, 1, 9) // min hop, but not max pq among min-hop neighbors
	tb.Upsert(2, now, 1, 1)
	tb.Upsert(3, now, 1, 9)

	r := Select(9, tb)
	if r.PathQuality != 2 {
		t.Fatalf("PathQuality = %d, want 2", r.PathQuality)
	}
	if r.NextHop != 1 {
		t.Fatalf("NextHop = %d, want 1 (first of the two tied at pq=9)", r.NextHop)
	}
}
