package repo

import (
	"context"
	"database/sql"

	"gigescrow/internal/domain"
)

const eventColumns = `id,ts,type,job_id,entity_kind,entity_id,actor_id,payload_json`

type EventFilters struct {
	JobID      string
	Type       string
	EntityKind string
	EntityID   string
	// Before restricts results to ids strictly below the cursor.
	Before int64
	Limit  int
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var jobID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &jobID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.JobID = jobID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, q Queryer, f EventFilters) ([]domain.Event, error) {
	var clauses []string
	var args []any
	if f.JobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, f.JobID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := r.on(q).QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+where(clauses)+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with ids greater than the cursor in ascending
// order. An empty jobID spans all jobs.
func (r Repo) EventsAfter(ctx context.Context, q Queryer, limit int, cursor int64, jobID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if jobID != "" {
		clauses = append(clauses, "job_id=?")
		args = append(args, jobID)
	}
	args = append(args, limit)
	rows, err := r.on(q).QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+where(clauses)+` ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context, q Queryer) (int64, error) {
	var id int64
	err := r.on(q).QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
