package llsrdb

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	Name string
	Up   func(context.Context, *sqlx.Tx) error
	Down func(context.Context, *sqlx.Tx) error
}

var migrations = map[uint64]migration{}

// migrate registers a versioned migration. Callers invoke it from an init
// func in a file named "NNN_description.go"; the version is parsed from the
// filename the same way db/pdatadb/migrations.go derives it.
func migrate(up, down func(context.Context, *sqlx.Tx) error) {
	_, fn, _, ok := runtime.Caller(1)
	if !ok {
		panic("llsrdb: add migration: failed to get filename")
	}
	fn = path.Base(strings.ReplaceAll(fn, `\`, `/`))

	n, _, ok := strings.Cut(fn, "_")
	if !ok {
		panic("llsrdb: add migration: failed to parse filename " + fn)
	}
	v, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		panic("llsrdb: add migration: failed to parse filename: " + err.Error())
	}
	if v == 0 {
		panic("llsrdb: add migration: version must not be 0")
	}
	migrations[v] = migration{strings.TrimSuffix(fn, ".go"), up, down}
}

// Version reports the database's current schema version and the version
// the compiled binary requires.
func (db *DB) Version() (current, required uint64, err error) {
	if err = db.x.Get(&current, `PRAGMA user_version`); err != nil {
		return 0, 0, fmt.Errorf("get version: %w", err)
	}
	for v := range migrations {
		if v > required {
			required = v
		}
	}
	return current, required, nil
}

// MigrateUp applies every registered migration up to and including to.
func (db *DB) MigrateUp(ctx context.Context, to uint64) error {
	tx, err := db.x.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cv uint64
	if err := tx.GetContext(ctx, &cv, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if to < cv {
		return fmt.Errorf("target version %d is less than current version %d", to, cv)
	}

	var vs []uint64
	for v := range migrations {
		if v > cv && v <= to {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })

	for _, v := range vs {
		if err := migrations[v].Up(ctx, tx); err != nil {
			return fmt.Errorf("migrate %d: %w", v, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `PRAGMA user_version = `+strconv.FormatUint(to, 10)); err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	return tx.Commit()
}
