package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists link records and pending deletion sets in SQLite. It is the
// only writer of both.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			task        TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			updated     INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS links (
			task  TEXT NOT NULL,
			ord   INTEGER NOT NULL,
			src   TEXT NOT NULL,
			dst   TEXT NOT NULL,
			size  INTEGER,
			mtime INTEGER,
			PRIMARY KEY (task, src)
		);
		CREATE TABLE IF NOT EXISTS pending (
			task TEXT NOT NULL,
			ord  INTEGER NOT NULL,
			dst  TEXT NOT NULL,
			PRIMARY KEY (task, dst)
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	for _, col := range []string{"root", "pending_root"} {
		if err := s.addColumn("records", col, "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
	}
	return nil
}

// addColumn adds column to table unless it is already there. Stores written
// before destination roots were tracked lack the root columns.
func (s *Store) addColumn(table, column, decl string) error {
	rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect %s: %w", table, err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if _, err := s.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + decl); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// Load returns the committed record for task. A task that never completed
// a run has an empty record.
func (s *Store) Load(ctx context.Context, task string) (Record, error) {
	rec := Record{Task: task}

	err := s.db.QueryRowContext(ctx,
		"SELECT fingerprint, root FROM records WHERE task = ?", task,
	).Scan(&rec.Fingerprint, &rec.Root)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record %s: %w", task, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT src, dst, size, mtime FROM links WHERE task = ? ORDER BY ord", task,
	)
	if err != nil {
		return Record{}, fmt.Errorf("load links %s: %w", task, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e           Entry
			size, mtime sql.NullInt64
		)
		if err := rows.Scan(&e.Source, &e.Dest, &size, &mtime); err != nil {
			return Record{}, fmt.Errorf("scan link: %w", err)
		}
		if size.Valid && mtime.Valid {
			e.Sig = &Signature{ModTime: mtime.Int64, Size: size.Int64}
		}
		rec.Entries = append(rec.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return Record{}, fmt.Errorf("load links %s: %w", task, err)
	}
	return rec, nil
}

// Commit replaces the task's record with rec and its pending set with
// pending in one transaction. pending was diffed against the record being
// replaced, so that record's root becomes the pending root.
func (s *Store) Commit(ctx context.Context, rec Record, pending []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var pendingRoot string
	if len(pending) > 0 {
		err := tx.QueryRowContext(ctx,
			"SELECT root FROM records WHERE task = ?", rec.Task,
		).Scan(&pendingRoot)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load root %s: %w", rec.Task, err)
		}
	}

	if err := writeRecord(ctx, tx, rec, pendingRoot); err != nil {
		return err
	}
	if err := writePending(ctx, tx, rec.Task, pending); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func writeRecord(ctx context.Context, tx *sql.Tx, rec Record, pendingRoot string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM links WHERE task = ?", rec.Task); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (task, fingerprint, root, pending_root, updated)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Task, rec.Fingerprint, rec.Root, pendingRoot, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store record: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO links (task, ord, src, dst, size, mtime) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, e := range rec.Entries {
		var size, mtime sql.NullInt64
		if e.Sig != nil {
			size = sql.NullInt64{Int64: e.Sig.Size, Valid: true}
			mtime = sql.NullInt64{Int64: e.Sig.ModTime, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, rec.Task, i, e.Source, e.Dest, size, mtime); err != nil {
			return fmt.Errorf("insert %s: %w", e.Source, err)
		}
	}
	return nil
}

func writePending(ctx context.Context, tx *sql.Tx, task string, pending []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM pending WHERE task = ?", task); err != nil {
		return fmt.Errorf("clear pending: %w", err)
	}
	for i, dst := range pending {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO pending (task, ord, dst) VALUES (?, ?, ?)", task, i, dst,
		)
		if err != nil {
			return fmt.Errorf("insert pending %s: %w", dst, err)
		}
	}
	return nil
}

// Pending returns the destinations awaiting deletion for task, in diff order.
func (s *Store) Pending(ctx context.Context, task string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT dst FROM pending WHERE task = ? ORDER BY ord", task,
	)
	if err != nil {
		return nil, fmt.Errorf("load pending %s: %w", task, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dst string
		if err := rows.Scan(&dst); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		out = append(out, dst)
	}
	return out, rows.Err()
}

// PendingRoot returns the destination root the pending set of task was
// linked under, or "" when the store does not know it.
func (s *Store) PendingRoot(ctx context.Context, task string) (string, error) {
	var root string
	err := s.db.QueryRowContext(ctx,
		"SELECT pending_root FROM records WHERE task = ?", task,
	).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load pending root %s: %w", task, err)
	}
	return root, nil
}

// SetPending replaces the pending set for task. The pending root is kept.
func (s *Store) SetPending(ctx context.Context, task string, pending []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := writePending(ctx, tx, task, pending); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearPending discards the pending set for task.
func (s *Store) ClearPending(ctx context.Context, task string) error {
	return s.SetPending(ctx, task, nil)
}

// Tasks lists the tasks that have a committed record.
func (s *Store) Tasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT task FROM records ORDER BY task")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var task string
		if err := rows.Scan(&task); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}
