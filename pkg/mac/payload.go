package mac

// The ARQ engine's queue items carry an opaque byte payload (pkg/arq.Item);
// these helpers are the mini-codec that lets the mgmt and mgmt_resp classes
// round-trip the fields they need to rebuild a wire packet at (re)transmit
// time, without the engine itself knowing about llsrpkt.

// encodeMgmtFwd packs the fields of a queued MGMT item that stay invariant
// across hops: origin, value, dest, opt, oid, and the hash the originator
// computed over the protocol id, its own Track, and those fields. Only
// Track is excluded — it is assigned fresh from the transmitting node's own
// mgmt_track counter on every hop; Hash is carried through unchanged and is
// not recomputed over the new Track, per spec.md §4.4's re-enqueue of the
// MGMT payload's invariant byte range.
func encodeMgmtFwd(origin, value, dest, opt, oid, hash uint8) []byte {
	return []byte{origin, value, dest, opt, oid, hash}
}

func decodeMgmtFwd(b []byte) (origin, value, dest, opt, oid, hash uint8, ok bool) {
	if len(b) != 6 {
		return 0, 0, 0, 0, 0, 0, false
	}
	return b[0], b[1], b[2], b[3], b[4], b[5], true
}

// encodeMgmtRespFwd packs the fields of a queued MGMT_RESP item. Unlike
// MGMT, Track and Hash are carried through unchanged at every hop: Track is
// the sink's original correlation key for the outstanding-command registry,
// and Hash is computed once, by the node whose agent produced the response,
// over exactly these fields.
func encodeMgmtRespFwd(flag, origin, track, value, hash uint8) []byte {
	return []byte{flag, origin, track, value, hash}
}

func decodeMgmtRespFwd(b []byte) (flag, origin, track, value, hash uint8, ok bool) {
	if len(b) != 5 {
		return 0, 0, 0, 0, 0, false
	}
	return b[0], b[1], b[2], b[3], b[4], true
}
