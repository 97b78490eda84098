package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/daviddao/phishbeads/internal/types"
)

// --- Email operations ---

// GetOrCreateEmail returns the email with the given Message-ID, inserting it
// first if it does not exist. The label is only written on insert.
func (d *DB) GetOrCreateEmail(ctx context.Context, messageID, label string) (*types.Email, error) {
	if messageID == "" {
		return nil, fmt.Errorf("empty message id")
	}
	if _, err := d.conn.ExecContext(ctx, `
		INSERT INTO emails (message_id, label) VALUES (?, ?)
		ON CONFLICT(message_id) DO NOTHING`, messageID, nullStr(label)); err != nil {
		return nil, fmt.Errorf("insert email: %w", err)
	}
	return d.GetEmail(ctx, messageID)
}

// GetEmail returns the email with the given Message-ID or ErrNotFound.
func (d *DB) GetEmail(ctx context.Context, messageID string) (*types.Email, error) {
	return scanEmail(d.conn.QueryRowContext(ctx, `
		SELECT id, message_id, label, status, timestamp
		FROM emails WHERE message_id = ?`, messageID))
}

// GetEmailByID returns the email with the given row id or ErrNotFound.
func (d *DB) GetEmailByID(ctx context.Context, id int64) (*types.Email, error) {
	return scanEmail(d.conn.QueryRowContext(ctx, `
		SELECT id, message_id, label, status, timestamp
		FROM emails WHERE id = ?`, id))
}

func scanEmail(row *sql.Row) (*types.Email, error) {
	e := &types.Email{}
	var label sql.NullString
	var status int
	err := row.Scan(&e.ID, &e.MessageID, &label, &status, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Label = label.String
	e.Status = types.EmailStatus(status)
	return e, nil
}

// SetEmailStatus caches the verdict of an email.
func (d *DB) SetEmailStatus(ctx context.Context, id int64, status types.EmailStatus, timestamp int64) error {
	res, err := d.conn.ExecContext(ctx,
		"UPDATE emails SET status = ?, timestamp = ? WHERE id = ?", int(status), timestamp, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteEmail removes an email with its tags and incidents.
// Returns false if no such email exists.
func (d *DB) DeleteEmail(ctx context.Context, messageID string) (bool, error) {
	found := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM emails WHERE message_id = ?", messageID).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM incidents WHERE tag_id IN (SELECT id FROM tags WHERE email_id = ?)", id); err != nil {
			return fmt.Errorf("delete incidents: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE email_id = ?", id); err != nil {
			return fmt.Errorf("delete tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete email: %w", err)
		}
		return nil
	})
	return found, err
}
