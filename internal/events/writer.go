package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record is one audit event. EntityType and ActivityType are required.
type Record struct {
	EntityType   string
	EntityID     string
	ActivityType string
	ProjectID    string
	ResourceID   string
	Role         string
	ActorID      string
	Description  string
	Payload      EventPayload
}

// Automatic reports whether the activity was produced by reconciliation.
func Automatic(activityType string) bool {
	return strings.HasPrefix(activityType, "AUTO_")
}

// Append writes the record inside tx so it commits or rolls back with the
// mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if rec.EntityType == "" || rec.ActivityType == "" {
		return fmt.Errorf("event entity type and activity type are required")
	}
	if rec.ActorID == "" {
		return fmt.Errorf("event actor required")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := rec.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	auto := 0
	if Automatic(rec.ActivityType) {
		auto = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,entity_type,entity_id,activity_type,project_id,resource_id,role,actor_id,description,automatic,payload_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		ts, rec.EntityType, nullable(rec.EntityID), rec.ActivityType, nullable(rec.ProjectID), nullable(rec.ResourceID),
		nullable(rec.Role), rec.ActorID, rec.Description, auto, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
