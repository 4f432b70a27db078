package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

const jobColumns = `job_id, operation, status, payload, submitted_at, updated_at, failure_reason,
	message_id, source_identity, destination_identity, ttl_ms, deadline_at, transport_hint, requested_transport`

// CreateJob inserts a new submitted job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *storepkg.Job) error {
	if job.JobID == "" || job.MessageID == "" {
		return &storepkg.StorageError{Op: "create job", Err: errors.New("job_id and message_id are required")}
	}
	if job.Status == "" {
		job.Status = storepkg.StatusSubmitted
	}
	if job.Status != storepkg.StatusSubmitted {
		return fmt.Errorf("create job in status %s: %w", job.Status, storepkg.ErrInvalidTransition)
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = s.now().UTC()
	}
	job.UpdatedAt = job.SubmittedAt
	if job.Payload == nil {
		job.Payload = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Operation, string(job.Status), job.Payload,
		formatTime(job.SubmittedAt), formatTime(job.UpdatedAt), nullString(job.FailureReason),
		job.MessageID, job.SourceIdentity, job.DestinationIdentity, job.TTLMillis,
		formatOptionalTime(job.DeadlineAt), nullString(job.TransportHint), nullString(job.RequestedTransport),
	)
	if err != nil {
		return &storepkg.StorageError{Op: "create job", Err: err}
	}
	return nil
}

// GetJob returns a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*storepkg.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, wrap("get job", err)
	}
	return job, nil
}

// FindDispatchedJob returns the dispatched job whose command carried messageID.
func (s *SQLiteStore) FindDispatchedJob(ctx context.Context, messageID string) (*storepkg.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE message_id = ? AND status = ?`,
		messageID, string(storepkg.StatusDispatched))
	job, err := scanJob(row)
	if err != nil {
		return nil, wrap("find dispatched job", err)
	}
	return job, nil
}

// ListJobsByStatus returns jobs in status, oldest first.
func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, status storepkg.Status) ([]storepkg.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY submitted_at`, string(status))
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list jobs", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var jobs []storepkg.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrap("list jobs", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list jobs", Err: err}
	}
	return jobs, nil
}

// GetJobResult returns the result of a succeeded job.
func (s *SQLiteStore) GetJobResult(ctx context.Context, jobID string) (*storepkg.JobResult, error) {
	var (
		result      storepkg.JobResult
		completedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT job_id, result, completed_at FROM job_results WHERE job_id = ?`, jobID).
		Scan(&result.JobID, &result.Result, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storepkg.ErrNotFound
	}
	if err != nil {
		return nil, &storepkg.StorageError{Op: "get job result", Err: err}
	}
	if result.CompletedAt, err = parseTime(completedAt); err != nil {
		return nil, &storepkg.StorageError{Op: "get job result", Err: err}
	}
	return &result, nil
}

// ListJobAttempts returns the attempts of a job in order.
func (s *SQLiteStore) ListJobAttempts(ctx context.Context, jobID string) ([]storepkg.JobAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, attempt_no, started_at, finished_at, status, diagnostic
		FROM job_attempts WHERE job_id = ? ORDER BY attempt_no`, jobID)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list attempts", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var attempts []storepkg.JobAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, &storepkg.StorageError{Op: "list attempts", Err: err}
		}
		attempts = append(attempts, *attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list attempts", Err: err}
	}
	return attempts, nil
}

// StartAttempt records attempt 1 for a submitted job.
func (s *SQLiteStore) StartAttempt(ctx context.Context, jobID string, at time.Time) (*storepkg.JobAttempt, error) {
	attempt := &storepkg.JobAttempt{
		JobID:     jobID,
		AttemptNo: 1,
		StartedAt: at.UTC(),
		Status:    storepkg.AttemptRunning,
	}

	err := s.withTx(ctx, "start attempt", func(tx *sql.Tx) error {
		status, err := jobStatus(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if status != storepkg.StatusSubmitted {
			return fmt.Errorf("start attempt for %s job: %w", status, storepkg.ErrInvalidTransition)
		}

		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_attempts WHERE job_id = ?`, jobID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			return fmt.Errorf("job already has an attempt: %w", storepkg.ErrInvalidTransition)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO job_attempts (job_id, attempt_no, started_at, status) VALUES (?, ?, ?, ?)`,
			jobID, attempt.AttemptNo, formatTime(attempt.StartedAt), string(attempt.Status))
		return err
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// MarkDispatched moves a submitted job to dispatched.
func (s *SQLiteStore) MarkDispatched(ctx context.Context, jobID, transport string, deadline *time.Time, at time.Time) (*storepkg.Job, error) {
	var job *storepkg.Job
	err := s.withTx(ctx, "mark dispatched", func(tx *sql.Tx) error {
		if err := transition(ctx, tx, jobID, storepkg.StatusDispatched, []storepkg.Status{storepkg.StatusSubmitted}, at,
			`transport_hint = ?, deadline_at = ?`, nullString(transport), formatOptionalTime(deadline)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE job_attempts SET status = ?, diagnostic = ? WHERE job_id = ? AND finished_at IS NULL`,
			string(storepkg.AttemptDispatched), "accepted via "+transport, jobID); err != nil {
			return err
		}
		var err error
		job, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob moves a dispatched job to succeeded and stores its result.
func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, result []byte, at time.Time) (*storepkg.Job, error) {
	if result == nil {
		result = []byte{}
	}
	var job *storepkg.Job
	err := s.withTx(ctx, "complete job", func(tx *sql.Tx) error {
		if err := transition(ctx, tx, jobID, storepkg.StatusSucceeded, []storepkg.Status{storepkg.StatusDispatched}, at, ""); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO job_results (job_id, result, completed_at) VALUES (?, ?, ?)`,
			jobID, result, formatTime(at)); err != nil {
			return err
		}
		if err := finishAttempt(ctx, tx, jobID, storepkg.AttemptSucceeded, "result received", at); err != nil {
			return err
		}
		var err error
		job, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FailJob moves a non-terminal job to failed.
func (s *SQLiteStore) FailJob(ctx context.Context, jobID, reason string, at time.Time) (*storepkg.Job, error) {
	var job *storepkg.Job
	err := s.withTx(ctx, "fail job", func(tx *sql.Tx) error {
		if err := transition(ctx, tx, jobID, storepkg.StatusFailed,
			[]storepkg.Status{storepkg.StatusSubmitted, storepkg.StatusDispatched}, at,
			`failure_reason = ?`, reason); err != nil {
			return err
		}
		if err := finishAttempt(ctx, tx, jobID, storepkg.AttemptFailed, reason, at); err != nil {
			return err
		}
		var err error
		job, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// transition updates status (and the extra columns in set, bound to args)
// only when the job is currently in one of from.
func transition(ctx context.Context, tx *sql.Tx, jobID string, to storepkg.Status, from []storepkg.Status, at time.Time, set string, args ...any) error {
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	params := []any{string(to), formatTime(at)}
	if set != "" {
		query += ", " + set
		params = append(params, args...)
	}
	query += ` WHERE job_id = ? AND status IN (`
	params = append(params, jobID)
	for i, st := range from {
		if i > 0 {
			query += ", "
		}
		query += "?"
		params = append(params, string(st))
	}
	query += ")"

	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := jobStatus(ctx, tx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s -> %s: %w", current, to, storepkg.ErrInvalidTransition)
}

func finishAttempt(ctx context.Context, tx *sql.Tx, jobID string, status storepkg.AttemptStatus, diagnostic string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE job_attempts SET status = ?, diagnostic = ?, finished_at = ?
		WHERE job_id = ? AND finished_at IS NULL`,
		string(status), diagnostic, formatTime(at), jobID)
	return err
}

func jobStatus(ctx context.Context, tx *sql.Tx, jobID string) (storepkg.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storepkg.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return storepkg.Status(status), nil
}

func scanJob(row scanner) (*storepkg.Job, error) {
	var (
		job                               storepkg.Job
		status, submittedAt, updatedAt    string
		failureReason, deadline           sql.NullString
		transportHint, requestedTransport sql.NullString
	)
	err := row.Scan(&job.JobID, &job.Operation, &status, &job.Payload, &submittedAt, &updatedAt, &failureReason,
		&job.MessageID, &job.SourceIdentity, &job.DestinationIdentity, &job.TTLMillis, &deadline,
		&transportHint, &requestedTransport)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storepkg.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	job.Status = storepkg.Status(status)
	job.FailureReason = failureReason.String
	job.TransportHint = transportHint.String
	job.RequestedTransport = requestedTransport.String
	if job.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.DeadlineAt, err = parseOptionalTime(deadline); err != nil {
		return nil, err
	}
	return &job, nil
}

func scanAttempt(row scanner) (*storepkg.JobAttempt, error) {
	var (
		attempt              storepkg.JobAttempt
		startedAt, status    string
		finishedAt, diagnose sql.NullString
	)
	if err := row.Scan(&attempt.JobID, &attempt.AttemptNo, &startedAt, &finishedAt, &status, &diagnose); err != nil {
		return nil, err
	}
	attempt.Status = storepkg.AttemptStatus(status)
	attempt.Diagnostic = diagnose.String

	var err error
	if attempt.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if attempt.FinishedAt, err = parseOptionalTime(finishedAt); err != nil {
		return nil, err
	}
	return &attempt, nil
}
