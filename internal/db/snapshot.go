package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orrn/receiptd/internal/core"
)

var _ core.SnapshotStore = (*Store)(nil)

// Load reads the snapshot back in the order it was saved. Rows that cannot
// be decoded are an error; the queue then starts empty and the rows stay in
// place until the next Save.
func (s *Store) Load(ctx context.Context) (core.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, ListSnapshotJobs)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var snap core.Snapshot
	for rows.Next() {
		var list, payload string
		if err := rows.Scan(&list, &payload); err != nil {
			return core.Snapshot{}, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		var job core.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return core.Snapshot{}, fmt.Errorf("failed to decode snapshot job: %w", err)
		}

		switch list {
		case listPending:
			snap.PendingJobs = append(snap.PendingJobs, job)
		case listFailed:
			snap.FailedJobs = append(snap.FailedJobs, job)
		}
	}
	if err := rows.Err(); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

// Save replaces the stored snapshot in a single transaction.
func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ClearSnapshot); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, InsertSnapshotJob)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, part := range []struct {
		list string
		jobs []core.Job
	}{
		{listPending, snap.PendingJobs},
		{listFailed, snap.FailedJobs},
	} {
		for i, job := range part.jobs {
			payload, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, part.list, i, job.ID, job.PrinterName, string(job.Status), job.Attempts, string(payload)); err != nil {
				return fmt.Errorf("failed to store job %s: %w", job.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}
