package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

const transferColumns = `transfer_id, status, metadata, submitted_at, updated_at, failure_reason`

// CreateTransfer inserts a new submitted transfer.
func (s *SQLiteStore) CreateTransfer(ctx context.Context, transfer *storepkg.Transfer) error {
	if transfer.TransferID == "" {
		return &storepkg.StorageError{Op: "create transfer", Err: errors.New("transfer_id is required")}
	}
	transfer.Status = storepkg.StatusSubmitted
	if transfer.SubmittedAt.IsZero() {
		transfer.SubmittedAt = s.now().UTC()
	}
	transfer.UpdatedAt = transfer.SubmittedAt

	meta, err := json.Marshal(transfer.Metadata)
	if err != nil {
		return &storepkg.StorageError{Op: "create transfer", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		transfer.TransferID, string(transfer.Status), string(meta),
		formatTime(transfer.SubmittedAt), formatTime(transfer.UpdatedAt), nullString(transfer.FailureReason))
	if err != nil {
		return &storepkg.StorageError{Op: "create transfer", Err: err}
	}
	return nil
}

// GetTransfer returns a transfer by id.
func (s *SQLiteStore) GetTransfer(ctx context.Context, transferID string) (*storepkg.Transfer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transfer_id = ?`, transferID)
	transfer, err := scanTransfer(row)
	if err != nil {
		return nil, wrap("get transfer", err)
	}
	return transfer, nil
}

// ListTransfersByStatus returns transfers in status, oldest first.
func (s *SQLiteStore) ListTransfersByStatus(ctx context.Context, status storepkg.Status) ([]storepkg.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE status = ? ORDER BY submitted_at`, string(status))
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list transfers", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var transfers []storepkg.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, &storepkg.StorageError{Op: "list transfers", Err: err}
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list transfers", Err: err}
	}
	return transfers, nil
}

// UpdateTransferProgress stores new metadata. status may be the current
// status or dispatched (from submitted).
func (s *SQLiteStore) UpdateTransferProgress(ctx context.Context, transferID string, meta storepkg.TransferMetadata, status storepkg.Status, at time.Time) (*storepkg.Transfer, error) {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "update transfer", Err: err}
	}

	var transfer *storepkg.Transfer
	err = s.withTx(ctx, "update transfer", func(tx *sql.Tx) error {
		current, err := scanTransfer(tx.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transfer_id = ?`, transferID))
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("update %s transfer: %w", current.Status, storepkg.ErrInvalidTransition)
		}
		next := current.Status
		switch {
		case status == "" || status == current.Status:
		case status == storepkg.StatusDispatched && current.Status == storepkg.StatusSubmitted:
			next = status
		default:
			return fmt.Errorf("%s -> %s: %w", current.Status, status, storepkg.ErrInvalidTransition)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE transfers SET status = ?, metadata = ?, updated_at = ? WHERE transfer_id = ?`,
			string(next), string(encoded), formatTime(at), transferID); err != nil {
			return err
		}

		current.Status = next
		current.Metadata = meta
		current.UpdatedAt = at.UTC()
		transfer = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// FinishTransfer moves a non-terminal transfer to a terminal status.
func (s *SQLiteStore) FinishTransfer(ctx context.Context, transferID string, status storepkg.Status, reason string, at time.Time) (*storepkg.Transfer, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("finish transfer with %s: %w", status, storepkg.ErrInvalidTransition)
	}

	var transfer *storepkg.Transfer
	err := s.withTx(ctx, "finish transfer", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE transfers SET status = ?, failure_reason = ?, updated_at = ?
			WHERE transfer_id = ? AND status IN (?, ?)`,
			string(status), nullString(reason), formatTime(at), transferID,
			string(storepkg.StatusSubmitted), string(storepkg.StatusDispatched))
		if err != nil {
			return err
		}

		current, err := scanTransfer(tx.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE transfer_id = ?`, transferID))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("%s -> %s: %w", current.Status, status, storepkg.ErrInvalidTransition)
		}
		transfer = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

func scanTransfer(row scanner) (*storepkg.Transfer, error) {
	var (
		transfer                             storepkg.Transfer
		status, meta, submittedAt, updatedAt string
		failureReason                        sql.NullString
	)
	err := row.Scan(&transfer.TransferID, &status, &meta, &submittedAt, &updatedAt, &failureReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storepkg.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	transfer.Status = storepkg.Status(status)
	transfer.FailureReason = failureReason.String
	if err := json.Unmarshal([]byte(meta), &transfer.Metadata); err != nil {
		return nil, fmt.Errorf("decoding transfer metadata: %w", err)
	}
	if transfer.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if transfer.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &transfer, nil
}
