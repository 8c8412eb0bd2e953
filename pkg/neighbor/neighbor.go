// Package neighbor implements the neighbor table and the next-hop route
// selector that together drive LLSR's location-free routing: a node elects
// the neighbor closest to the sink (by hop count) as its next hop, breaking
// ties by a path-quality redundancy count rather than any link metric.
package neighbor

import "time"

// Entry is a single neighbor table row, created on the first beacon heard
// from an address and updated on every subsequent one.
type Entry struct {
	Addr              uint8
	LastHeard         time.Time
	HopCount          uint8
	PathQuality       uint8
	LastPacketNumber  int16 // -1 means no DATA/MGMT_RESP has been accepted from this neighbor yet
}

// Table is an insertion-ordered neighbor map. Order must be stable for
// deterministic next-hop tie-breaking: the same beacon history must always
// elect the same next hop. It is not safe for concurrent use; callers must
// hold the owning node's mutex, the same way ServerList's maps in
// pkg/api/api0/serverlist.go must be held under its mu.
type Table struct {
	order []uint8
	rows  map[uint8]*Entry
}

// New returns an empty neighbor table.
func New() *Table {
	return &Table{rows: make(map[uint8]*Entry)}
}

// Upsert records a beacon heard from addr at now, carrying the advertised
// hopCount and pathQuality. It returns true if addr was not already present.
func (t *Table) Upsert(addr uint8, now time.Time, hopCount, pathQuality uint8) (isNew bool) {
	e, ok := t.rows[addr]
	if !ok {
		e = &Entry{Addr: addr, LastPacketNumber: -1}
		t.rows[addr] = e
		t.order = append(t.order, addr)
	}
	e.LastHeard = now
	e.HopCount = hopCount
	e.PathQuality = pathQuality
	return !ok
}

// Get returns the entry for addr, and whether it exists.
func (t *Table) Get(addr uint8) (Entry, bool) {
	e, ok := t.rows[addr]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// SetLastPacketNumber updates the last-accepted ARQ sequence number tracked
// for addr, for DATA/MGMT_RESP new-vs-duplicate classification. It is a
// no-op if addr is not a known neighbor.
func (t *Table) SetLastPacketNumber(addr uint8, n uint8) {
	if e, ok := t.rows[addr]; ok {
		e.LastPacketNumber = int16(n)
	}
}

// Len returns the number of known neighbors.
func (t *Table) Len() int { return len(t.order) }

// Age removes every entry not heard from within expiry of now, in
// insertion order, invoking evicted for each one before it is removed so
// callers (the sink) can deactivate the corresponding monitoring row.
func (t *Table) Age(now time.Time, expiry time.Duration, evicted func(Entry)) {
	kept := t.order[:0:0]
	for _, addr := range t.order {
		e := t.rows[addr]
		if now.Sub(e.LastHeard) > expiry {
			delete(t.rows, addr)
			if evicted != nil {
				evicted(*e)
			}
			continue
		}
		kept = append(kept, addr)
	}
	t.order = kept
}

// Range calls f for every neighbor in insertion order. f must not modify the
// table.
func (t *Table) Range(f func(Entry)) {
	for _, addr := range t.order {
		f(*t.rows[addr])
	}
}

// Route is the routing state derived from a neighbor table by Select: the
// hop count and path quality this node advertises on its own beacons, and
// the next hop it forwards through.
type Route struct {
	HopCount    uint8
	PathQuality uint8
	NextHop     uint8
}

// UndefinedHop is the advertised next hop when a non-sink node has no
// neighbors, carrying hop_count=255 and path_quality=0 per the routing
// state invariants.
const UndefinedHop uint8 = 255

// Select computes this node's routing state from its neighbor table. self is
// the node's own address; addr 0 is always the sink.
//
// A sink always reports (hop_count=0, path_quality=255, next_hop=0). A
// non-sink node with neighbors reports hop_count = 1 + the minimum neighbor
// hop count, path_quality = the count of neighbors that jointly attain that
// minimum hop count and the maximum path quality among those, and next_hop =
// the first such neighbor in table iteration order. A non-sink node with no
// neighbors reports (hop_count=255, path_quality=0, next_hop=undefined).
func Select(self uint8, t *Table) Route {
	if self == 0 {
		return Route{HopCount: 0, PathQuality: 255, NextHop: 0}
	}
	if t.Len() == 0 {
		return Route{HopCount: 255, PathQuality: 0, NextHop: UndefinedHop}
	}

	minHop := uint8(255)
	t.Range(func(e Entry) {
		if e.HopCount < minHop {
			minHop = e.HopCount
		}
	})
	if minHop == 255 {
		// A neighbor already advertising the undefined hop count offers no
		// usable path; treat this node as equally unreachable rather than
		// wrapping 1+255 back to 0, which would collide with the sink.
		return Route{HopCount: 255, PathQuality: 0, NextHop: UndefinedHop}
	}

	var maxPQAtMinHop uint8
	t.Range(func(e Entry) {
		if e.HopCount == minHop && e.PathQuality > maxPQAtMinHop {
			maxPQAtMinHop = e.PathQuality
		}
	})

	var count uint8
	nextHop := UndefinedHop
	t.Range(func(e Entry) {
		if e.HopCount == minHop && e.PathQuality == maxPQAtMinHop {
			count++
			if nextHop == UndefinedHop {
				nextHop = e.Addr
			}
		}
	})

	return Route{HopCount: minHop + 1, PathQuality: count, NextHop: nextHop}
}
