package mgmtagent

import (
	"testing"

	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
)

func TestGetKnownOID(t *testing.T) {
	mib := &MIB{NodeAddr: 3, MaxAttempts: 5, BroadcastInterval: 10, MgmtMode: 1}
	flag, value := Execute(mib, llsrpkt.OpGet, OIDMaxAttempts, 0)
	if flag != 0 || value != 5 {
		t.Fatalf("Execute(GET, maxAttempts) = (%d, %d), want (0, 5)", flag, value)
	}
}

func TestGetUnknownOID(t *testing.T) {
	mib := &MIB{}
	flag, value := Execute(mib, llsrpkt.OpGet, 99, 0)
	if flag != 1 || value != llsrpkt.ErrOIDFail {
		t.Fatalf("Execute(GET, unknown) = (%d, %d), want (1, %d)", flag, value, llsrpkt.ErrOIDFail)
	}
}

func TestSetKnownOIDMutatesMIB(t *testing.T) {
	mib := &MIB{MgmtMode: 0}
	flag, value := Execute(mib, llsrpkt.OpSet, OIDMgmtMode, 7)
	if flag != 1 || value != 0 {
		t.Fatalf("Execute(SET, mgmtMode, 7) = (%d, %d), want (1, 0)", flag, value)
	}
	if mib.MgmtMode != 7 {
		t.Fatalf("MgmtMode = %d, want 7", mib.MgmtMode)
	}
}

func TestSetUnknownOIDDoesNotMutate(t *testing.T) {
	mib := &MIB{MgmtMode: 3}
	flag, value := Execute(mib, llsrpkt.OpSet, 99, 7)
	if flag != 1 || value != llsrpkt.ErrOIDFail {
		t.Fatalf("Execute(SET, unknown) = (%d, %d), want (1, %d)", flag, value, llsrpkt.ErrOIDFail)
	}
	if mib.MgmtMode != 3 {
		t.Fatal("unknown-oid SET must not mutate the MIB")
	}
}

func TestSetAcceptsAnyValue(t *testing.T) {
	mib := &MIB{}
	// The agent never range-checks; 255 is as valid as 0.
	if flag, _ := Execute(mib, llsrpkt.OpSet, OIDMaxAttempts, 255); flag != 1 {
		t.Fatalf("flag = %d, want 1", flag)
	}
	if mib.MaxAttempts != 255 {
		t.Fatalf("MaxAttempts = %d, want 255", mib.MaxAttempts)
	}
}

func TestColumnOID(t *testing.T) {
	for _, c := range []struct {
		name string
		oid  uint8
		ok   bool
	}{
		{"nodeAddr", OIDNodeAddr, true},
		{"maxAttempts", OIDMaxAttempts, true},
		{"broadcastInterval", OIDBroadcastInterval, true},
		{"mgmtMode", OIDMgmtMode, true},
		{"bogus", 0, false},
	} {
		oid, ok := ColumnOID(c.name)
		if ok != c.ok || (ok && oid != c.oid) {
			t.Errorf("ColumnOID(%q) = (%d, %v), want (%d, %v)", c.name, oid, ok, c.oid, c.ok)
		}
	}
}
