package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/daviddao/phishbeads/internal/types"
)

// LoadResult reports the outcome of a bulk indicator load.
type LoadResult struct {
	Inserted int     `json:"inserted"`
	Ignored  int     `json:"ignored"`
	Failed   int     `json:"failed"`
	Errors   []error `json:"-"`
}

func (r *LoadResult) add(o LoadResult) {
	r.Inserted += o.Inserted
	r.Ignored += o.Ignored
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// InsertIndicators inserts fingerprints of the given kind, ignoring
// duplicates. A failing entry is counted and skipped; it never aborts the
// rest of the batch.
func (d *DB) InsertIndicators(ctx context.Context, fingerprints []string, kind types.Kind) (LoadResult, error) {
	var res LoadResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		r, err := insertIndicators(ctx, tx, fingerprints, kind)
		res = r
		return err
	})
	return res, err
}

func insertIndicators(ctx context.Context, tx *sql.Tx, fingerprints []string, kind types.Kind) (LoadResult, error) {
	var res LoadResult
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO indicators (fingerprint, kind) VALUES (?, ?)")
	if err != nil {
		return res, fmt.Errorf("prepare indicator insert: %w", err)
	}
	defer stmt.Close()

	for _, fp := range fingerprints {
		if fp == "" {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("empty fingerprint"))
			continue
		}
		r, err := stmt.ExecContext(ctx, fp, int(kind))
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("insert %s: %w", fp, err))
			continue
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Inserted++
		} else {
			res.Ignored++
		}
	}
	return res, nil
}

// RefreshIndicators replaces every non-test indicator with the given feed.
// Indicators present both before and after keep their ids, so resolved tags
// stay attached to them. Test indicators are never touched.
func (d *DB) RefreshIndicators(ctx context.Context, feed map[types.Kind][]string) (LoadResult, error) {
	var res LoadResult
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res = LoadResult{}
		if _, err := tx.ExecContext(ctx, `
			CREATE TEMP TABLE IF NOT EXISTS feed_refresh (
				fingerprint TEXT NOT NULL,
				kind        INTEGER NOT NULL
			)`); err != nil {
			return fmt.Errorf("create refresh table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM feed_refresh"); err != nil {
			return fmt.Errorf("clear refresh table: %w", err)
		}
		for kind, fps := range feed {
			if kind == types.KindTest {
				continue
			}
			for _, fp := range fps {
				if _, err := tx.ExecContext(ctx, "INSERT INTO feed_refresh (fingerprint, kind) VALUES (?, ?)", fp, int(kind)); err != nil {
					return fmt.Errorf("stage indicator: %w", err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM indicators
			WHERE kind != 0 AND NOT EXISTS (
				SELECT 1 FROM feed_refresh f
				WHERE f.fingerprint = indicators.fingerprint AND f.kind = indicators.kind
			)`); err != nil {
			return fmt.Errorf("delete stale indicators: %w", err)
		}
		for kind, fps := range feed {
			if kind == types.KindTest {
				continue
			}
			r, err := insertIndicators(ctx, tx, fps, kind)
			if err != nil {
				return err
			}
			res.add(r)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM feed_refresh")
		return err
	})
	return res, err
}

// LookupIndicator returns every indicator matching the fingerprint.
func (d *DB) LookupIndicator(ctx context.Context, fingerprint string) ([]types.IndicatorRef, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT id, kind FROM indicators WHERE fingerprint = ? ORDER BY id", fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []types.IndicatorRef
	for rows.Next() {
		var ref types.IndicatorRef
		var kind int
		if err := rows.Scan(&ref.ID, &kind); err != nil {
			return nil, err
		}
		ref.Kind = types.Kind(kind)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// IndicatorFingerprints returns the distinct fingerprints of all indicators.
func (d *DB) IndicatorFingerprints(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, "SELECT DISTINCT fingerprint FROM indicators")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}
