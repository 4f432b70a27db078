package store

import (
	"context"
	"database/sql"
	"time"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// Sweep deletes everything older than policy allows. Each job group
// (attempts, result, job) goes in the same transaction as the job row.
// A zero duration in policy disables that group.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time, policy storepkg.RetentionPolicy) (storepkg.SweepResult, error) {
	var result storepkg.SweepResult

	err := s.withTx(ctx, "retention sweep", func(tx *sql.Tx) error {
		if policy.Jobs > 0 {
			cutoff := formatTime(now.Add(-policy.Jobs))
			expired := `SELECT job_id FROM jobs WHERE updated_at < ?`
			if _, err := tx.ExecContext(ctx, `DELETE FROM job_attempts WHERE job_id IN (`+expired+`)`, cutoff); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM job_results WHERE job_id IN (`+expired+`)`, cutoff); err != nil {
				return err
			}
			n, err := deleteOlder(ctx, tx, `DELETE FROM jobs WHERE updated_at < ?`, cutoff)
			if err != nil {
				return err
			}
			result.Jobs = n
		}

		if policy.Cache > 0 {
			cutoff := formatTime(now.Add(-policy.Cache))
			n, err := deleteOlder(ctx, tx, `DELETE FROM cached_events WHERE received_at < ?`, cutoff)
			if err != nil {
				return err
			}
			result.CachedEvents = n
			if n, err = deleteOlder(ctx, tx, `DELETE FROM cached_messages WHERE received_at < ?`, cutoff); err != nil {
				return err
			}
			result.CachedMessages = n
		}

		if policy.Transfers > 0 {
			n, err := deleteOlder(ctx, tx, `DELETE FROM transfers WHERE updated_at < ?`, formatTime(now.Add(-policy.Transfers)))
			if err != nil {
				return err
			}
			result.Transfers = n
		}
		return nil
	})
	if err != nil {
		return storepkg.SweepResult{}, err
	}
	return result, nil
}

func deleteOlder(ctx context.Context, tx *sql.Tx, query, cutoff string) (int64, error) {
	res, err := tx.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
