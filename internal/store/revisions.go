package store

import (
	"context"
	"database/sql"
	"errors"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// AppendConfigRevision stores a new immutable revision.
func (s *SQLiteStore) AppendConfigRevision(ctx context.Context, config string) (*storepkg.ConfigRevision, error) {
	rev := &storepkg.ConfigRevision{Config: config, CreatedAt: s.now().UTC()}
	res, err := s.db.ExecContext(ctx, `INSERT INTO node_config_revisions (config, created_at) VALUES (?, ?)`,
		config, formatTime(rev.CreatedAt))
	if err != nil {
		return nil, &storepkg.StorageError{Op: "append config revision", Err: err}
	}
	if rev.RevisionID, err = res.LastInsertId(); err != nil {
		return nil, &storepkg.StorageError{Op: "append config revision", Err: err}
	}
	return rev, nil
}

// LatestConfigRevision returns the newest revision, or ErrNotFound.
func (s *SQLiteStore) LatestConfigRevision(ctx context.Context) (*storepkg.ConfigRevision, error) {
	rev, err := scanRevision(s.db.QueryRowContext(ctx,
		`SELECT revision_id, config, created_at FROM node_config_revisions ORDER BY revision_id DESC LIMIT 1`))
	if err != nil {
		return nil, wrap("latest config revision", err)
	}
	return rev, nil
}

// ListConfigRevisions returns revisions newest first.
func (s *SQLiteStore) ListConfigRevisions(ctx context.Context, limit int) ([]storepkg.ConfigRevision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT revision_id, config, created_at FROM node_config_revisions
		ORDER BY revision_id DESC LIMIT ?`, clampLimit(limit, 50))
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list config revisions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var revisions []storepkg.ConfigRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, &storepkg.StorageError{Op: "list config revisions", Err: err}
		}
		revisions = append(revisions, *rev)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list config revisions", Err: err}
	}
	return revisions, nil
}

func scanRevision(row scanner) (*storepkg.ConfigRevision, error) {
	var (
		rev       storepkg.ConfigRevision
		createdAt string
	)
	err := row.Scan(&rev.RevisionID, &rev.Config, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storepkg.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &rev, nil
}
