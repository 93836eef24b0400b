// Package sqlindex mirrors committed keys into a SQLite table for
// operational introspection only (read back through Index.Scan) per
// SPEC_FULL.md §4.9. It is advisory: never consulted by Get/Put/Delete,
// never part of the durability contract, and may be rebuilt at any time
// from a full engine scan via RebuildFromEngine.
//
// Grounded on the teacher's internal/store/sql.go: openSqlite's
// PRAGMA-batch-then-ping pattern, the user_version schema-version pragma,
// and ticketInserter's prepared-statement-within-a-transaction shape —
// narrowed from the teacher's ticket schema to one table.
package sqlindex

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calvinalkan/kvcore/internal/errs"
)

const currentSchemaVersion = 1

const sqliteBusyTimeoutMs = 10000

// Index is the advisory SQLite mirror.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// the kv_entries schema is present at the current version.
func Open(ctx context.Context, path string) (*Index, error) {
	if path == "" {
		return nil, errs.New(errs.InvalidArgument, "sqlindex.open", nil)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.New(errs.IoFailed, "sqlindex.open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.New(errs.IoFailed, "sqlindex.open", err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
	`, sqliteBusyTimeoutMs))
	if err != nil {
		return errs.New(errs.IoFailed, "sqlindex.pragmas", err)
	}

	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	var version int

	row := db.QueryRowContext(ctx, "PRAGMA user_version")
	if err := row.Scan(&version); err != nil {
		return errs.New(errs.IoFailed, "sqlindex.schema_version", err)
	}

	if version == currentSchemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errs.New(errs.IoFailed, "sqlindex.schema", err)
	}

	defer func() { _ = tx.Rollback() }()

	statements := []string{
		"DROP TABLE IF EXISTS kv_entries",
		`CREATE TABLE kv_entries (
			key BLOB PRIMARY KEY,
			value_len INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			tombstone INTEGER NOT NULL
		) WITHOUT ROWID`,
		fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion),
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errs.New(errs.IoFailed, "sqlindex.schema", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.New(errs.IoFailed, "sqlindex.schema", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	if err := idx.db.Close(); err != nil {
		return errs.New(errs.IoFailed, "sqlindex.close", err)
	}

	return nil
}

// Upsert mirrors one committed Put: key present, not a tombstone.
func (idx *Index) Upsert(ctx context.Context, key []byte, valueLen int, sequence uint64) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value_len, sequence, tombstone) VALUES (?, ?, ?, 0)
		 ON CONFLICT(key) DO UPDATE SET value_len=excluded.value_len, sequence=excluded.sequence, tombstone=0`,
		key, valueLen, sequence)
	if err != nil {
		return errs.New(errs.IoFailed, "sqlindex.upsert", err)
	}

	return nil
}

// MarkDeleted mirrors one committed Delete as a tombstone row rather
// than removing it outright, so Scan still reports recent deletions.
func (idx *Index) MarkDeleted(ctx context.Context, key []byte, sequence uint64) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value_len, sequence, tombstone) VALUES (?, 0, ?, 1)
		 ON CONFLICT(key) DO UPDATE SET value_len=0, sequence=excluded.sequence, tombstone=1`,
		key, sequence)
	if err != nil {
		return errs.New(errs.IoFailed, "sqlindex.mark_deleted", err)
	}

	return nil
}

// Entry is one row of the advisory mirror.
type Entry struct {
	Key       []byte
	ValueLen  int
	Sequence  uint64
	Tombstone bool
}

// Scan returns every mirrored row, non-tombstones first ordering left to
// the caller since this is an operational view, not a read path.
func (idx *Index) Scan(ctx context.Context) ([]Entry, error) {
	rows, err := idx.db.QueryContext(ctx, "SELECT key, value_len, sequence, tombstone FROM kv_entries")
	if err != nil {
		return nil, errs.New(errs.IoFailed, "sqlindex.scan", err)
	}

	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var e Entry
		var tombstone int

		if err := rows.Scan(&e.Key, &e.ValueLen, &e.Sequence, &tombstone); err != nil {
			return nil, errs.New(errs.IoFailed, "sqlindex.scan", err)
		}

		e.Tombstone = tombstone != 0
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.IoFailed, "sqlindex.scan", err)
	}

	return entries, nil
}

// Rebuild discards all mirrored rows. Callers re-populate via Upsert
// from a full skiplist scan — the advisory mirror may be thrown away and
// reconstructed at any time without affecting durability.
func (idx *Index) Rebuild(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, "DELETE FROM kv_entries"); err != nil {
		return errs.New(errs.IoFailed, "sqlindex.rebuild", err)
	}

	return nil
}
