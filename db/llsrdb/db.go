// Package llsrdb implements an optional sqlite3-backed audit log of sink
// monitoring-table transitions: row creation, deactivation, reactivation,
// and outstanding-command issue/resolve. The in-memory pkg/sinktable.Table
// remains the sole source of truth read back by pkg/extclient; this package
// is write-only history for operators, grounded on db/atlasdb.Open's
// sqlx.Connect/WAL-pragma construction.
package llsrdb

import (
	"context"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event names recorded by (*DB).Record.
const (
	EventRowAdded       = "row_added"
	EventRowReactivated = "row_reactivated"
	EventRowDeactivated = "row_deactivated"
	EventCommandIssued  = "command_issued"
	EventCommandApplied = "command_applied"
	EventCommandFailed  = "command_failed"
)

// DB stores LLSR audit events in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a DB at name, a sqlite3 filename.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, err
	}
	db := &DB{x}
	if cur, req, err := db.Version(); err != nil {
		x.Close()
		return nil, err
	} else if cur < req {
		if err := db.MigrateUp(context.Background(), req); err != nil {
			x.Close()
			return nil, err
		}
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Record appends one audit event. detail is a free-form, event-specific
// string (e.g. the column name and value of a resolved command).
func (db *DB) Record(ctx context.Context, ts time.Time, nodeAddr uint8, event, detail string) error {
	_, err := db.x.ExecContext(ctx,
		`INSERT INTO audit_events (ts, node_addr, event, detail) VALUES (?, ?, ?, ?)`,
		ts.Unix(), nodeAddr, event, detail,
	)
	return err
}

// RecentEvents returns the most recent n audit events for nodeAddr, newest
// first.
func (db *DB) RecentEvents(ctx context.Context, nodeAddr uint8, n int) ([]AuditEvent, error) {
	var rows []auditRow
	if err := db.x.SelectContext(ctx, &rows,
		`SELECT id, ts, node_addr, event, detail FROM audit_events WHERE node_addr = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		nodeAddr, n,
	); err != nil {
		return nil, err
	}
	out := make([]AuditEvent, len(rows))
	for i, r := range rows {
		out[i] = AuditEvent{
			ID:       r.ID,
			Time:     time.Unix(r.TS, 0).UTC(),
			NodeAddr: uint8(r.NodeAddr),
			Event:    r.Event,
			Detail:   r.Detail,
		}
	}
	return out, nil
}

// AuditEvent is one row of the audit log, decoded from its sqlite storage
// representation.
type AuditEvent struct {
	ID       int64
	Time     time.Time
	NodeAddr uint8
	Event    string
	Detail   string
}

type auditRow struct {
	ID       int64  `db:"id"`
	TS       int64  `db:"ts"`
	NodeAddr int64  `db:"node_addr"`
	Event    string `db:"event"`
	Detail   string `db:"detail"`
}
