package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteEngine persists committed state in a single SQLite table.
type SQLiteEngine struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteEngine, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases coherent and serialises
	// writers.
	db.SetMaxOpenConns(1)
	e := &SQLiteEngine{db: db}
	if err := e.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *SQLiteEngine) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key BLOB PRIMARY KEY,
		value BLOB
	) WITHOUT ROWID;`
	_, err := e.db.ExecContext(ctx, query)
	return err
}

func (e *SQLiteEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := e.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (e *SQLiteEngine) ApplySorted(ctx context.Context, batch []Entry) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer func() { _ = upsert.Close() }()
	del, err := tx.PrepareContext(ctx, `DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}
	defer func() { _ = del.Close() }()

	for _, entry := range batch {
		if entry.Delete {
			if _, err := del.ExecContext(ctx, entry.Key); err != nil {
				return fmt.Errorf("delete %x: %w", entry.Key, err)
			}
			continue
		}
		if _, err := upsert.ExecContext(ctx, entry.Key, entry.Value); err != nil {
			return fmt.Errorf("put %x: %w", entry.Key, err)
		}
	}
	return tx.Commit()
}

// Iterate reads the whole range before calling fn so callbacks may use the
// engine again.
func (e *SQLiteEngine) Iterate(ctx context.Context, start, end Bound, dir Direction, fn func(key, value []byte) error) error {
	var (
		where []string
		args  []any
	)
	if k, ok := start.Key(); ok {
		op := ">"
		if start.Inclusive() {
			op = ">="
		}
		where = append(where, "key "+op+" ?")
		args = append(args, k)
	}
	if k, ok := end.Key(); ok {
		op := "<"
		if end.Inclusive() {
			op = "<="
		}
		where = append(where, "key "+op+" ?")
		args = append(args, k)
	}
	query := "SELECT key, value FROM kv"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if dir == Reverse {
		query += " ORDER BY key DESC"
	} else {
		query += " ORDER BY key ASC"
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	var entries []Entry
	for rows.Next() {
		var en Entry
		if err := rows.Scan(&en.Key, &en.Value); err != nil {
			_ = rows.Close()
			return err
		}
		if en.Value == nil {
			en.Value = []byte{}
		}
		entries = append(entries, en)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, en := range entries {
		if err := fn(en.Key, en.Value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (e *SQLiteEngine) Close() error { return e.db.Close() }
