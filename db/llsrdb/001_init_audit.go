package llsrdb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE audit_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			node_addr  INTEGER NOT NULL,
			event      TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT ''
		) STRICT;
	`); err != nil {
		return fmt.Errorf("create audit_events table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE INDEX audit_events_node_addr_idx ON audit_events(node_addr, ts)`); err != nil {
		return fmt.Errorf("create audit_events index: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP INDEX audit_events_node_addr_idx`); err != nil {
		return fmt.Errorf("drop audit_events_node_addr_idx index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE audit_events`); err != nil {
		return fmt.Errorf("drop audit_events table: %w", err)
	}
	return nil
}
