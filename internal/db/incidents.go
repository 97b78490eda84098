package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/daviddao/phishbeads/internal/types"
)

// --- Incident operations ---

func insertIncident(ctx context.Context, tx *sql.Tx, tagID, timestamp int64) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO incidents (tag_id, timestamp, reported) VALUES (?, ?, 0)",
		tagID, timestamp); err != nil {
		return fmt.Errorf("record incident for tag %d: %w", tagID, err)
	}
	return nil
}

// IncidentForTag returns the incident of a tag or ErrNotFound.
func (d *DB) IncidentForTag(ctx context.Context, tagID int64) (*types.Incident, error) {
	inc := &types.Incident{}
	var reported int
	err := d.conn.QueryRowContext(ctx,
		"SELECT id, tag_id, timestamp, reported FROM incidents WHERE tag_id = ?", tagID).Scan(
		&inc.ID, &inc.TagID, &inc.Timestamp, &reported)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inc.Reported = types.ReportState(reported)
	return inc, nil
}

const incidentDetailQuery = `
	SELECT inc.id, inc.timestamp, tag.raw, tag.type, tag.fingerprint,
	       COALESCE(ind.kind, -1), email.message_id, inc.reported
	FROM incidents inc
	JOIN tags tag ON inc.tag_id = tag.id
	JOIN emails email ON tag.email_id = email.id
	LEFT JOIN indicators ind ON tag.indicator_id = ind.id`

// PendingIncidents returns incidents awaiting report. Test-kind incidents
// are included only when withTest is set.
func (d *DB) PendingIncidents(ctx context.Context, withTest bool) ([]*types.IncidentDetail, error) {
	rows, err := d.conn.QueryContext(ctx, incidentDetailQuery+`
		WHERE inc.reported = 0 AND (COALESCE(ind.kind, -1) != 0 OR ?)
		ORDER BY inc.id`, withTest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidentDetails(rows)
}

// ListIncidents returns all incidents, or only pending ones.
func (d *DB) ListIncidents(ctx context.Context, onlyPending bool) ([]*types.IncidentDetail, error) {
	query := incidentDetailQuery
	if onlyPending {
		query += " WHERE inc.reported = 0"
	}
	query += " ORDER BY inc.id"
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidentDetails(rows)
}

func scanIncidentDetails(rows *sql.Rows) ([]*types.IncidentDetail, error) {
	var result []*types.IncidentDetail
	for rows.Next() {
		inc := &types.IncidentDetail{}
		var kind, reported int
		if err := rows.Scan(&inc.ID, &inc.Timestamp, &inc.Raw, &inc.Type, &inc.Fingerprint,
			&kind, &inc.Context, &reported); err != nil {
			return nil, err
		}
		inc.Kind = types.Kind(kind)
		inc.Reported = types.ReportState(reported)
		result = append(result, inc)
	}
	return result, rows.Err()
}

// SetReported moves an incident from one report state to another. It fails
// with ErrInvalidTransition when the move is not allowed or the incident is
// no longer in the expected state.
func (d *DB) SetReported(ctx context.Context, id int64, from, to types.ReportState) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("incident %d %s -> %s: %w", id, from, to, ErrInvalidTransition)
	}
	res, err := d.conn.ExecContext(ctx,
		"UPDATE incidents SET reported = ? WHERE id = ? AND reported = ?", int(to), id, int(from))
	if err != nil {
		return fmt.Errorf("update incident %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("incident %d not %s: %w", id, from, ErrInvalidTransition)
	}
	return nil
}

// ResetInTransit returns every in-transit incident to pending.
func (d *DB) ResetInTransit(ctx context.Context) (int, error) {
	res, err := d.conn.ExecContext(ctx, "UPDATE incidents SET reported = 0 WHERE reported = -1")
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Indications returns the incidents recorded for an email.
func (d *DB) Indications(ctx context.Context, messageID string) ([]types.Indication, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT id, reported, raw, type FROM v_indications WHERE message_id = ? ORDER BY id", messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []types.Indication
	for rows.Next() {
		var ind types.Indication
		var reported int
		if err := rows.Scan(&ind.ID, &reported, &ind.Raw, &ind.Type); err != nil {
			return nil, err
		}
		ind.Reported = types.ReportState(reported)
		result = append(result, ind)
	}
	return result, rows.Err()
}
