package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

func aclTable(list storepkg.AclList) (string, error) {
	switch list {
	case storepkg.AclAllow:
		return "acl_allowlist", nil
	case storepkg.AclDeny:
		return "acl_denylist", nil
	default:
		return "", fmt.Errorf("unknown ACL list %q", list)
	}
}

// AddAclEntry adds identity to list, or updates the note of an existing entry.
func (s *SQLiteStore) AddAclEntry(ctx context.Context, list storepkg.AclList, identity, note string) (*storepkg.AclEntry, error) {
	table, err := aclTable(list)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "add acl entry", Err: err}
	}
	other, _ := aclTable(list.Other())

	var entry *storepkg.AclEntry
	err = s.withTx(ctx, "add acl entry", func(tx *sql.Tx) error {
		var present int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+other+` WHERE identity_hash = ?`, identity).Scan(&present); err != nil {
			return err
		}
		if present > 0 {
			return storepkg.ErrAclOverlap
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (identity_hash, note, created_at) VALUES (?, ?, ?)
			ON CONFLICT(identity_hash) DO UPDATE SET note = excluded.note`,
			identity, nullString(note), formatTime(s.now())); err != nil {
			return err
		}

		var scanErr error
		entry, scanErr = scanAclEntry(tx.QueryRowContext(ctx,
			`SELECT id, identity_hash, note, created_at FROM `+table+` WHERE identity_hash = ?`, identity))
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveAclEntry deletes identity from list.
func (s *SQLiteStore) RemoveAclEntry(ctx context.Context, list storepkg.AclList, identity string) error {
	table, err := aclTable(list)
	if err != nil {
		return &storepkg.StorageError{Op: "remove acl entry", Err: err}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE identity_hash = ?`, identity)
	if err != nil {
		return &storepkg.StorageError{Op: "remove acl entry", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &storepkg.StorageError{Op: "remove acl entry", Err: err}
	}
	if n == 0 {
		return storepkg.ErrNotFound
	}
	return nil
}

// ListAclEntries returns the entries of list in insertion order.
func (s *SQLiteStore) ListAclEntries(ctx context.Context, list storepkg.AclList) ([]storepkg.AclEntry, error) {
	table, err := aclTable(list)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list acl entries", Err: err}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, identity_hash, note, created_at FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "list acl entries", Err: err}
	}
	defer func() { _ = rows.Close() }()

	entries := []storepkg.AclEntry{}
	for rows.Next() {
		entry, err := scanAclEntry(rows)
		if err != nil {
			return nil, &storepkg.StorageError{Op: "list acl entries", Err: err}
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "list acl entries", Err: err}
	}
	return entries, nil
}

// HasIdentity reports whether identity is in list.
func (s *SQLiteStore) HasIdentity(ctx context.Context, list storepkg.AclList, identity string) (bool, error) {
	table, err := aclTable(list)
	if err != nil {
		return false, &storepkg.StorageError{Op: "acl lookup", Err: err}
	}
	var present int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE identity_hash = ?`, identity).Scan(&present); err != nil {
		return false, &storepkg.StorageError{Op: "acl lookup", Err: err}
	}
	return present > 0, nil
}

// OverlappingIdentities lists identities present in both sets.
func (s *SQLiteStore) OverlappingIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.identity_hash FROM acl_allowlist a
		JOIN acl_denylist d ON d.identity_hash = a.identity_hash ORDER BY a.identity_hash`)
	if err != nil {
		return nil, &storepkg.StorageError{Op: "acl overlap", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, &storepkg.StorageError{Op: "acl overlap", Err: err}
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, &storepkg.StorageError{Op: "acl overlap", Err: err}
	}
	return identities, nil
}

func scanAclEntry(row scanner) (*storepkg.AclEntry, error) {
	var (
		entry     storepkg.AclEntry
		note      sql.NullString
		createdAt string
	)
	err := row.Scan(&entry.ID, &entry.IdentityHash, &note, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storepkg.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry.Note = note.String
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &entry, nil
}
