package record

import (
	"context"
	"fmt"
)

// State is every record and pending set in a store. PendingRoots holds the
// destination root of each pending set when known.
type State struct {
	Pending      map[string][]string
	PendingRoots map[string]string
	Records      []Record
}

// Dump reads the full store.
func (s *Store) Dump(ctx context.Context) (State, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return State{}, err
	}

	st := State{Pending: make(map[string][]string), PendingRoots: make(map[string]string)}
	for _, task := range tasks {
		rec, err := s.Load(ctx, task)
		if err != nil {
			return State{}, err
		}
		st.Records = append(st.Records, rec)

		root, err := s.PendingRoot(ctx, task)
		if err != nil {
			return State{}, err
		}
		if root != "" {
			st.PendingRoots[task] = root
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT task, dst FROM pending ORDER BY task, ord")
	if err != nil {
		return State{}, fmt.Errorf("dump pending: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var task, dst string
		if err := rows.Scan(&task, &dst); err != nil {
			return State{}, fmt.Errorf("scan pending: %w", err)
		}
		st.Pending[task] = append(st.Pending[task], dst)
	}
	return st, rows.Err()
}

// Restore replaces the whole store with st in one transaction.
func (s *Store) Restore(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"records", "links", "pending"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, rec := range st.Records {
		if err := writeRecord(ctx, tx, rec, st.PendingRoots[rec.Task]); err != nil {
			return err
		}
	}
	for task, pending := range st.Pending {
		if err := writePending(ctx, tx, task, pending); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
