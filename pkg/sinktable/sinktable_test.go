package sinktable

import (
	"testing"
	"time"

	"github.com/llsrnet/llsrmac/pkg/mgmtagent"
)

func defaultMIB() mgmtagent.MIB {
	return mgmtagent.MIB{NodeAddr: 0, MaxAttempts: 5, BroadcastInterval: 10, MgmtMode: 1}
}

func TestAddOrReactivateCreatesAtMostOneRow(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()

	if isNew := tb.AddOrReactivate(2, now, defaultMIB()); !isNew {
		t.Fatal("first AddOrReactivate for addr 2 should report new")
	}
	if isNew := tb.AddOrReactivate(2, now, defaultMIB()); isNew {
		t.Fatal("second AddOrReactivate for addr 2 should not report new")
	}
	if tb.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", tb.Size())
	}
}

func TestGetReturnsNoneWhenDeactivated(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(0, now, defaultMIB())

	tb.Deactivate(0)
	v, ok := tb.Get(0, "maxAttempts")
	if !ok || v != "None" {
		t.Fatalf("Get after deactivate = (%q, %v), want (\"None\", true)", v, ok)
	}
}

func TestReactivateClearsDeactivatedState(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(0, now, defaultMIB())
	tb.Deactivate(0)
	tb.AddOrReactivate(0, now, defaultMIB())

	v, ok := tb.Get(0, "maxAttempts")
	if !ok || v != "5" {
		t.Fatalf("Get after reactivate = (%q, %v), want (\"5\", true)", v, ok)
	}
}

func TestExternalGetScenario(t *testing.T) {
	// With a one-row monitoring table {node_addr:0, max_attempts:5, ...},
	// get(0, "nodeAddr") yields "0".
	tb := New("key", nil)
	tb.AddOrReactivate(0, time.Now(), defaultMIB())

	v, ok := tb.Get(0, "nodeAddr")
	if !ok || v != "0" {
		t.Fatalf("Get(0, nodeAddr) = (%q, %v), want (\"0\", true)", v, ok)
	}
	if tb.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", tb.Size())
	}
}

func TestSetRegistersCommandAndEncodesRequest(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(2, now, defaultMIB())

	if err := tb.Set(0, "mgmtMode", 7, now); err != nil {
		t.Fatalf("Set: %v", err)
	}
	pending := tb.DrainPending()
	if len(pending) != 1 {
		t.Fatalf("DrainPending() returned %d requests, want 1", len(pending))
	}
	m := pending[0]
	if m.Dest != 2 || m.Value != 7 || m.Opt != 1 {
		t.Fatalf("unexpected pending request: %+v", m)
	}
	if tb.OutstandingLen() != 1 {
		t.Fatalf("OutstandingLen() = %d, want 1", tb.OutstandingLen())
	}
	v, _ := tb.Get(0, "mgmtMode")
	if v != "1" { // MgmtInfo is not a column; mgmtMode itself is unchanged until ack
		t.Fatalf("mgmtMode column changed prematurely: %v", v)
	}
}

func TestProcessAppliesSuccessfulSet(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(2, now, defaultMIB())
	tb.Set(0, "mgmtMode", 7, now)
	pending := tb.DrainPending()
	track := pending[0].Track

	tb.Process(1, 2, track, 0, now)

	v, _ := tb.Get(0, "mgmtMode")
	if v != "7" {
		t.Fatalf("mgmtMode = %q, want \"7\" after successful set", v)
	}
	if tb.OutstandingLen() != 0 {
		t.Fatal("outstanding command should be resolved after Process")
	}
}

func TestProcessAuthFailureMarksRowError(t *testing.T) {
	// Authentication failure scenario: destination replies flag=1, value=3;
	// sink marks the row mgmt_info=3.
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(2, now, defaultMIB())
	tb.Set(0, "mgmtMode", 7, now)
	track := tb.DrainPending()[0].Track

	tb.Process(1, 2, track, 3, now)

	if tb.rows[0].MgmtInfo != InfoError {
		t.Fatalf("MgmtInfo = %v, want InfoError", tb.rows[0].MgmtInfo)
	}
}

func TestProcessIgnoresUnknownTrack(t *testing.T) {
	tb := New("key", nil)
	tb.AddOrReactivate(2, time.Now(), defaultMIB())
	tb.Process(1, 2, 99, 0, time.Now()) // no panic, no row mutation
	if tb.rows[0].MgmtInfo != InfoAlive {
		t.Fatal("unknown-track response must not mutate any row")
	}
}

func TestProcessIgnoresSourceMismatch(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(2, now, defaultMIB())
	tb.Set(0, "mgmtMode", 7, now)
	track := tb.DrainPending()[0].Track

	tb.Process(1, 9, track, 0, now) // wrong src
	if tb.OutstandingLen() != 0 {
		t.Fatal("mismatched-source response should still clear the registry entry")
	}
	if tb.rows[0].MgmtInfo != InfoRequestSent {
		t.Fatal("mismatched-source response must not mutate the row")
	}
}

func TestDeactivatePurgesOutstandingCommands(t *testing.T) {
	tb := New("key", nil)
	now := time.Now()
	tb.AddOrReactivate(2, now, defaultMIB())
	tb.Set(0, "mgmtMode", 7, now)

	tb.Deactivate(2)
	if tb.OutstandingLen() != 0 {
		t.Fatal("deactivating a node should drop its outstanding commands")
	}
}
