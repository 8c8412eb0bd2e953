// Package mgmtagent implements the on-node management information base and
// the GET/SET agent that executes in-band management requests against it.
package mgmtagent

import "github.com/llsrnet/llsrmac/pkg/llsrpkt"

// Object ids, per the four-entry MIB.
const (
	OIDNodeAddr          uint8 = 1
	OIDMaxAttempts       uint8 = 2
	OIDBroadcastInterval uint8 = 3
	OIDMgmtMode          uint8 = 4
)

// MIB is the ordered four-object dictionary backing the management agent.
// Field order matches the object id assignment; it is not safe for
// concurrent use and is expected to be guarded by the owning node's mutex.
type MIB struct {
	NodeAddr          uint8
	MaxAttempts       uint8
	BroadcastInterval uint8
	MgmtMode          uint8
}

func (m *MIB) get(oid uint8) (uint8, bool) {
	switch oid {
	case OIDNodeAddr:
		return m.NodeAddr, true
	case OIDMaxAttempts:
		return m.MaxAttempts, true
	case OIDBroadcastInterval:
		return m.BroadcastInterval, true
	case OIDMgmtMode:
		return m.MgmtMode, true
	default:
		return 0, false
	}
}

func (m *MIB) set(oid, value uint8) bool {
	switch oid {
	case OIDNodeAddr:
		m.NodeAddr = value
	case OIDMaxAttempts:
		m.MaxAttempts = value
	case OIDBroadcastInterval:
		m.BroadcastInterval = value
	case OIDMgmtMode:
		m.MgmtMode = value
	default:
		return false
	}
	return true
}

// Execute runs a GET (opt=OpGet) or SET (opt=OpSet) request with the given
// value and oid against mib, returning the (flag, value) pair carried back
// in the MGMT_RESP. flag=0 with the MIB value is a successful GET; flag=1
// with value=0 is a successful SET; flag=1 with value=ErrOIDFail is an
// unknown oid in either direction. The agent never rejects a SET based on
// the value supplied: range policy is the caller's concern, not the MIB's.
func Execute(mib *MIB, opt, oid, value uint8) (flag uint8, result uint8) {
	switch opt {
	case llsrpkt.OpGet:
		v, ok := mib.get(oid)
		if !ok {
			return 1, llsrpkt.ErrOIDFail
		}
		return 0, v
	case llsrpkt.OpSet:
		if !mib.set(oid, value) {
			return 1, llsrpkt.ErrOIDFail
		}
		return 1, 0
	default:
		return 1, llsrpkt.ErrOIDFail
	}
}

// ColumnOID maps a sink monitoring-table column name to its MIB object id,
// used when the sink constructs an outgoing SET/GET request.
func ColumnOID(column string) (uint8, bool) {
	switch column {
	case "nodeAddr":
		return OIDNodeAddr, true
	case "maxAttempts":
		return OIDMaxAttempts, true
	case "broadcastInterval":
		return OIDBroadcastInterval, true
	case "mgmtMode":
		return OIDMgmtMode, true
	default:
		return 0, false
	}
}
