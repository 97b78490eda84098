package db

import (
	"context"
	"database/sql"
	"fmt"
)

// --- Lock operations ---

// TryLock claims the named lock for holder until expires (unix ms). An
// expired claim is taken over. It returns false if another holder has a
// live claim.
func (d *DB) TryLock(ctx context.Context, name, holder string, expires, now int64) (bool, error) {
	acquired := false
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM locks WHERE name = ? AND expires <= ?", name, now); err != nil {
			return fmt.Errorf("expire lock %s: %w", name, err)
		}
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO locks (name, holder, expires) VALUES (?, ?, ?)", name, holder, expires)
		if err != nil {
			return fmt.Errorf("claim lock %s: %w", name, err)
		}
		n, _ := res.RowsAffected()
		acquired = n == 1
		return nil
	})
	return acquired, err
}

// ExtendLock moves the expiry of a claim still owned by holder. It returns
// false if the claim was lost.
func (d *DB) ExtendLock(ctx context.Context, name, holder string, expires int64) (bool, error) {
	res, err := d.conn.ExecContext(ctx,
		"UPDATE locks SET expires = ? WHERE name = ? AND holder = ?", expires, name, holder)
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Unlock drops the claim if holder still owns it.
func (d *DB) Unlock(ctx context.Context, name, holder string) error {
	if _, err := d.conn.ExecContext(ctx,
		"DELETE FROM locks WHERE name = ? AND holder = ?", name, holder); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
