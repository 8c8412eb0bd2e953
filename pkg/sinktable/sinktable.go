// Package sinktable implements the sink-side monitoring table: one row per
// known node, an outstanding-command registry keyed by management
// track-number, and the response reconciler that applies a MGMT_RESP back
// onto the originating row.
package sinktable

import (
	"fmt"
	"strconv"
	"time"

	"github.com/llsrnet/llsrmac/pkg/llsrhash"
	"github.com/llsrnet/llsrmac/pkg/llsrpkt"
	"github.com/llsrnet/llsrmac/pkg/mgmtagent"
)

// Info is the mgmt_info lifecycle state of a monitoring row.
type Info uint8

const (
	InfoAlive       Info = 0
	InfoRequestSent Info = 1
	InfoItemUpdated Info = 2
	InfoError       Info = 3
	InfoDeactivated Info = 4
)

// UTCTime is the 7-byte UTC timestamp tuple carried by a row.
type UTCTime struct {
	Year                            uint16
	Month, Day, Hour, Minute, Second uint8
}

func utcTimeFrom(t time.Time) UTCTime {
	u := t.UTC()
	return UTCTime{
		Year: uint16(u.Year()), Month: uint8(u.Month()), Day: uint8(u.Day()),
		Hour: uint8(u.Hour()), Minute: uint8(u.Minute()), Second: uint8(u.Second()),
	}
}

// Row is one monitoring-table entry. At most one row exists per NodeAddr.
type Row struct {
	NodeAddr          uint8
	MaxAttempts       uint8
	BroadcastInterval uint8
	MgmtMode          uint8
	LastUpdated       string
	LastUpdatedTime   UTCTime
	MgmtInfo          Info
}

func (r *Row) column(name string) (string, bool) {
	switch name {
	case "nodeAddr":
		return strconv.Itoa(int(r.NodeAddr)), true
	case "maxAttempts":
		return strconv.Itoa(int(r.MaxAttempts)), true
	case "broadcastInterval":
		return strconv.Itoa(int(r.BroadcastInterval)), true
	case "mgmtMode":
		return strconv.Itoa(int(r.MgmtMode)), true
	default:
		return "", false
	}
}

func (r *Row) setColumn(name string, value uint8) bool {
	switch name {
	case "nodeAddr":
		r.NodeAddr = value
	case "maxAttempts":
		r.MaxAttempts = value
	case "broadcastInterval":
		r.BroadcastInterval = value
	case "mgmtMode":
		r.MgmtMode = value
	default:
		return false
	}
	return true
}

// command is an outstanding SET/GET tracked by track number until a
// matching MGMT_RESP arrives or the forwarder synthesizes a failure.
type command struct {
	dest   uint8
	rowIdx int
	column string
	value  uint8
}

// Table is the sink's monitoring table. It is not safe for concurrent use;
// callers must hold the owning node's mutex.
type Table struct {
	rows    []*Row
	byAddr  map[uint8]int
	cmds    map[uint8]command
	track   uint8
	pending []llsrpkt.Mgmt

	hashKey string
	origin  uint8 // always the sink's own address (0)

	onLog   func(format string, args ...any)
	onEvent func(event string, addr uint8, detail string)
}

// New returns an empty monitoring table. hashKey is the shared secret used
// to authenticate outgoing MGMT requests.
func New(hashKey string, onLog func(format string, args ...any)) *Table {
	if onLog == nil {
		onLog = func(string, ...any) {}
	}
	return &Table{
		byAddr:  make(map[uint8]int),
		cmds:    make(map[uint8]command),
		hashKey: hashKey,
		onLog:   onLog,
		onEvent: func(string, uint8, string) {},
	}
}

// SetEventHook installs fn to be called with a stable event name (see the
// Event* constants), the affected node address, and a free-form detail
// string, for every row/command transition the table makes. It exists so a
// host can mirror transitions into durable storage (db/llsrdb) without the
// table depending on any particular persistence layer. Pass nil to disable.
func (t *Table) SetEventHook(fn func(event string, addr uint8, detail string)) {
	if fn == nil {
		fn = func(string, uint8, string) {}
	}
	t.onEvent = fn
}

// Event names passed to the function installed by SetEventHook.
const (
	EventRowAdded       = "row_added"
	EventRowReactivated = "row_reactivated"
	EventRowDeactivated = "row_deactivated"
	EventCommandIssued  = "command_issued"
	EventCommandApplied = "command_applied"
	EventCommandFailed  = "command_failed"
)

// Size returns the current row count.
func (t *Table) Size() uint32 { return uint32(len(t.rows)) }

// Get returns the string rendering of row idx's column, or "None" if the
// row is deactivated. ok is false if idx is out of range, or if column is
// unknown on a row that is not deactivated; a deactivated row yields
// ("None", true) for any column name.
func (t *Table) Get(idx int, column string) (value string, ok bool) {
	if idx < 0 || idx >= len(t.rows) {
		return "", false
	}
	r := t.rows[idx]
	if r.MgmtInfo == InfoDeactivated {
		return "None", true
	}
	return r.column(column)
}

// AddOrReactivate creates a row for addr defaulted from the sink's own MIB
// if none exists, or reactivates it if it exists in the deactivated state.
// It reports whether the neighbor was newly added to the table.
func (t *Table) AddOrReactivate(addr uint8, now time.Time, mib mgmtagent.MIB) (isNew bool) {
	if idx, ok := t.byAddr[addr]; ok {
		r := t.rows[idx]
		if r.MgmtInfo == InfoDeactivated {
			r.MgmtInfo = InfoAlive
			t.onLog("monitoring row %d reactivated", addr)
			t.onEvent(EventRowReactivated, addr, "")
		}
		return false
	}
	r := &Row{
		NodeAddr:          addr,
		MaxAttempts:       mib.MaxAttempts,
		BroadcastInterval: mib.BroadcastInterval,
		MgmtMode:          mib.MgmtMode,
		LastUpdated:       "nodeAddr",
		LastUpdatedTime:   utcTimeFrom(now),
		MgmtInfo:          InfoAlive,
	}
	t.byAddr[addr] = len(t.rows)
	t.rows = append(t.rows, r)
	t.onLog("monitoring row %d added", addr)
	t.onEvent(EventRowAdded, addr, "")
	return true
}

// Deactivate marks addr's row deactivated, typically invoked when its
// neighbor entry is aged out. Any outstanding command addressed to addr is
// dropped, since no response can arrive from a node that is no longer
// reachable.
func (t *Table) Deactivate(addr uint8) {
	idx, ok := t.byAddr[addr]
	if !ok {
		return
	}
	if t.rows[idx].MgmtInfo != InfoDeactivated {
		t.rows[idx].MgmtInfo = InfoDeactivated
		t.onEvent(EventRowDeactivated, addr, "")
	}
	for track, cmd := range t.cmds {
		if cmd.dest == addr {
			delete(t.cmds, track)
		}
	}
}

// Set issues a SET for idx's column through the in-band management
// protocol: it marks the row request-sent, allocates a track number,
// registers the outstanding command, and appends the signed MGMT request to
// the pending outbound queue drained by DrainPending.
func (t *Table) Set(idx int, column string, value uint8, now time.Time) error {
	return t.request(idx, column, value, llsrpkt.OpSet, now)
}

// RequestGet issues a GET for idx's column through the in-band management
// protocol, the way Set does for writes (the open question in the original
// design notes: GET must also be exposed, not just reuse SET's opt=1 path).
func (t *Table) RequestGet(idx int, column string, now time.Time) error {
	return t.request(idx, column, 0, llsrpkt.OpGet, now)
}

func (t *Table) request(idx int, column string, value, opt uint8, now time.Time) error {
	if idx < 0 || idx >= len(t.rows) {
		return fmt.Errorf("sinktable: row index %d out of range", idx)
	}
	r := t.rows[idx]
	if r.MgmtInfo == InfoDeactivated {
		return fmt.Errorf("sinktable: node %d is deactivated", r.NodeAddr)
	}
	oid, ok := mgmtagent.ColumnOID(column)
	if !ok {
		return fmt.Errorf("sinktable: unknown column %q", column)
	}

	r.MgmtInfo = InfoRequestSent
	track := t.track
	t.track++

	t.cmds[track] = command{dest: r.NodeAddr, rowIdx: idx, column: column, value: value}

	m := llsrpkt.Mgmt{
		Src: t.origin, Track: track, Origin: t.origin, Value: value,
		Dest: r.NodeAddr, Opt: opt, OID: oid,
	}
	m.Hash = llsrhash.Compute(t.hashKey, llsrpkt.ProtoMgmt, m.Track, m.Origin, m.Value, m.Dest, m.Opt, m.OID)
	t.pending = append(t.pending, m)
	t.onEvent(EventCommandIssued, r.NodeAddr, fmt.Sprintf("%s=%d", column, value))
	return nil
}

// DrainPending returns and clears the queue of MGMT requests produced by Set
// and RequestGet, for the control tick to push into the mgmt ARQ queue.
func (t *Table) DrainPending() []llsrpkt.Mgmt {
	p := t.pending
	t.pending = nil
	return p
}

// Process reconciles an inbound MGMT_RESP against the outstanding-command
// registry. Unknown or mismatched track numbers are logged and discarded.
func (t *Table) Process(flag, src, track, value uint8, now time.Time) {
	cmd, ok := t.cmds[track]
	if !ok {
		t.onLog("mgmt_resp: unknown track %d", track)
		return
	}
	if cmd.dest != src {
		t.onLog("mgmt_resp: track %d source mismatch, want %d got %d", track, cmd.dest, src)
		delete(t.cmds, track)
		return
	}
	r := t.rows[cmd.rowIdx]
	switch {
	case flag == 1 && value == 0:
		r.setColumn(cmd.column, cmd.value)
		r.MgmtInfo = InfoItemUpdated
		t.onEvent(EventCommandApplied, r.NodeAddr, fmt.Sprintf("%s=%d", cmd.column, cmd.value))
	case flag == 1 && value != 0:
		r.setColumn(cmd.column, value)
		r.MgmtInfo = InfoError
		t.onEvent(EventCommandFailed, r.NodeAddr, fmt.Sprintf("%s code=%d", cmd.column, value))
	default: // flag == 0: GET result
		r.setColumn(cmd.column, value)
		r.MgmtInfo = InfoItemUpdated
		t.onEvent(EventCommandApplied, r.NodeAddr, fmt.Sprintf("%s=%d (get)", cmd.column, value))
	}
	r.LastUpdated = cmd.column
	r.LastUpdatedTime = utcTimeFrom(now)
	delete(t.cmds, track)
}

// OutstandingLen reports the number of unresolved commands, for tests and
// metrics asserting that every command is eventually removed.
func (t *Table) OutstandingLen() int { return len(t.cmds) }
