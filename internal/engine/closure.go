package engine

import (
	"context"
	"database/sql"

	"staffline/internal/domain"
	"staffline/internal/events"
)

// MaybeCloseProject closes the project when it has been staffed at least once
// and no ACTIVE assignment remains. An empty or system actor records AUTO_CLOSE.
func (e Engine) MaybeCloseProject(ctx context.Context, projectID, actorID string) (bool, error) {
	if actorID == "" {
		actorID = domain.SystemActor
	}
	var closed bool
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		closed, err = e.maybeCloseProjectTx(ctx, tx, projectID, actorID)
		return err
	})
	return closed, err
}

func (e Engine) maybeCloseProjectTx(ctx context.Context, tx *sql.Tx, projectID, actorID string) (bool, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return false, notFound("project", projectID, err)
	}
	if p.Status == domain.ProjectClosed {
		return false, nil
	}
	staffed, err := e.Repo.ProjectEverStaffedTx(ctx, tx, projectID)
	if err != nil {
		return false, err
	}
	if !staffed {
		return false, nil
	}
	active, err := e.Repo.CountActiveByProjectTx(ctx, tx, projectID)
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}
	closed, err := e.Repo.CloseProjectTx(ctx, tx, projectID, e.stamp())
	if err != nil || !closed {
		return false, err
	}
	activity := domain.ActivityClose
	if actorID == domain.SystemActor {
		activity = domain.ActivityAutoClose
	}
	err = e.emit(ctx, tx, events.Record{
		EntityType:   domain.EntityProject,
		EntityID:     projectID,
		ActivityType: activity,
		ProjectID:    projectID,
		ActorID:      actorID,
		Description:  "Project " + p.Name + " closed: no active assignments remain",
		Payload:      events.EventPayload{"from": p.Status, "to": domain.ProjectClosed},
	})
	return err == nil, err
}
