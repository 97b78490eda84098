package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/daviddao/phishbeads/internal/types"
)

// --- Tag operations ---

const tagColumns = "id, email_id, raw, type, fingerprint, indicator_id"

// GetTag returns the tag for (email, raw, type) or ErrNotFound.
func (d *DB) GetTag(ctx context.Context, emailID int64, raw, typ string) (*types.Tag, error) {
	return scanTag(d.conn.QueryRowContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE email_id = ? AND raw = ? AND type = ?",
		emailID, raw, typ))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTag(row rowScanner) (*types.Tag, error) {
	t := &types.Tag{}
	var ind sql.NullInt64
	err := row.Scan(&t.ID, &t.EmailID, &t.Raw, &t.Type, &t.Fingerprint, &ind)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ind.Valid {
		id := ind.Int64
		t.IndicatorID = &id
	}
	return t, nil
}

// InsertTag atomically inserts the tag or fetches the existing row for the
// same (email, raw, type). When the stored tag is resolved, its incident is
// created in the same transaction if it does not exist yet. The returned
// tag is the stored row, which may differ from t if it already existed.
func (d *DB) InsertTag(ctx context.Context, t *types.Tag, timestamp int64) (*types.Tag, error) {
	var stored *types.Tag
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (email_id, raw, type, fingerprint, indicator_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(email_id, raw, type) DO NOTHING`,
			t.EmailID, t.Raw, t.Type, t.Fingerprint, nullInt(t.IndicatorID)); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
		var err error
		stored, err = scanTag(tx.QueryRowContext(ctx,
			"SELECT "+tagColumns+" FROM tags WHERE email_id = ? AND raw = ? AND type = ?",
			t.EmailID, t.Raw, t.Type))
		if err != nil {
			return fmt.Errorf("fetch tag: %w", err)
		}
		if stored.Resolved() {
			return insertIncident(ctx, tx, stored.ID, timestamp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ResolveTag sets the indicator of a still-unresolved tag and records its
// incident in the same transaction. It returns false without changes if the
// tag is already resolved.
func (d *DB) ResolveTag(ctx context.Context, tagID, indicatorID, timestamp int64) (bool, error) {
	resolved := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE tags SET indicator_id = ? WHERE id = ? AND indicator_id IS NULL", indicatorID, tagID)
		if err != nil {
			return fmt.Errorf("resolve tag %d: %w", tagID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		resolved = true
		return insertIncident(ctx, tx, tagID, timestamp)
	})
	return resolved, err
}

// UnresolvedTags returns tags that did not match any indicator yet.
func (d *DB) UnresolvedTags(ctx context.Context) ([]*types.Tag, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE indicator_id IS NULL ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTags(rows)
}

// TagsForEmail returns all tags of an email in insertion order.
func (d *DB) TagsForEmail(ctx context.Context, emailID int64) ([]*types.Tag, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE email_id = ? ORDER BY id", emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTags(rows)
}

func scanTags(rows *sql.Rows) ([]*types.Tag, error) {
	var result []*types.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
