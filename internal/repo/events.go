package repo

import (
	"context"
	"database/sql"

	"staffline/internal/domain"
)

const eventColumns = `id,ts,entity_type,COALESCE(entity_id,''),activity_type,COALESCE(project_id,''),COALESCE(resource_id,''),COALESCE(role,''),actor_id,description,automatic,payload_json`

type EventFilters struct {
	ProjectID    string
	ResourceID   string
	EntityType   string
	EntityID     string
	ActivityType string
	ActorID      string
	Automatic    *bool
}

func (f EventFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v string) {
		if v != "" {
			clauses = append(clauses, clause)
			args = append(args, v)
		}
	}
	add("project_id=?", f.ProjectID)
	add("resource_id=?", f.ResourceID)
	add("entity_type=?", f.EntityType)
	add("entity_id=?", f.EntityID)
	add("activity_type=?", f.ActivityType)
	add("actor_id=?", f.ActorID)
	if f.Automatic != nil {
		clauses = append(clauses, "automatic=?")
		if *f.Automatic {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	return clauses, args
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var auto int
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.EntityType, &e.EntityID, &e.ActivityType, &e.ProjectID, &e.ResourceID, &e.Role,
			&e.ActorID, &e.Description, &auto, &payload); err != nil {
			return nil, err
		}
		e.Automatic = auto != 0
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns newest-first events with IDs below cursor (0 means from the top).
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events`+where(clauses)+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
