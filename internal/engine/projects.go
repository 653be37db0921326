package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"staffline/internal/domain"
	"staffline/internal/events"
	"staffline/internal/repo"
)

type ProjectCreateOptions struct {
	Name        string
	ClientName  string
	Description string
	OwnerID     string
	ActorID     string
}

// ProjectUpdateOptions edits a project. Status may only toggle between
// ONGOING and HOLD.
type ProjectUpdateOptions struct {
	ID          string
	Name        *string
	ClientName  *string
	Description *string
	Status      *string
	ActorID     string
}

// CreateProject creates an ONGOING, unstaffed project and records the action as
// an APPROVED PROJECT request.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if err := required("name", name); err != nil {
		return domain.Project{}, err
	}
	client := strings.TrimSpace(opts.ClientName)
	if err := required("client_name", client); err != nil {
		return domain.Project{}, err
	}
	if opts.OwnerID == "" {
		opts.OwnerID = opts.ActorID
	}
	now := e.stamp()
	p := domain.Project{
		ID:          newID(),
		Name:        name,
		ClientName:  client,
		Description: strings.TrimSpace(opts.Description),
		OwnerID:     opts.OwnerID,
		Status:      domain.ProjectOngoing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		if _, err := e.Repo.GetUserTx(ctx, tx, p.OwnerID); err != nil {
			return notFound("user", p.OwnerID, err)
		}
		if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		if err := e.recordDirectTx(ctx, tx, domain.AssignmentRequest{
			Type:        domain.RequestProject,
			RequesterID: opts.ActorID,
			ProjectID:   ptr(p.ID),
			ProjectName: p.Name,
			ClientName:  p.ClientName,
			Description: p.Description,
			Reason:      "Project created directly by admin",
		}); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityProject,
			EntityID:     p.ID,
			ActivityType: domain.ActivityCreate,
			ProjectID:    p.ID,
			ActorID:      opts.ActorID,
			Description:  fmt.Sprintf("Project %s for %s created", p.Name, p.ClientName),
			Payload:      events.EventPayload{"owner_id": p.OwnerID},
		})
	})
	return p, err
}

// UpdateProject edits project details. CLOSED is terminal: a closed project
// cannot be edited and no project can be closed by hand.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	var out domain.Project
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		p, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
		if err != nil {
			return notFound("project", opts.ID, err)
		}
		if p.Status == domain.ProjectClosed {
			return invalid(ErrProjectTerminal, "project %s is closed", p.Name)
		}
		u := repo.ProjectUpdate{Description: opts.Description}
		changes := events.EventPayload{}
		if opts.Name != nil {
			name := strings.TrimSpace(*opts.Name)
			if err := required("name", name); err != nil {
				return err
			}
			u.Name = &name
			changes["name"] = name
		}
		if opts.ClientName != nil {
			client := strings.TrimSpace(*opts.ClientName)
			if err := required("client_name", client); err != nil {
				return err
			}
			u.ClientName = &client
			changes["client_name"] = client
		}
		if opts.Description != nil {
			changes["description"] = *opts.Description
		}
		if opts.Status != nil {
			status := strings.ToUpper(strings.TrimSpace(*opts.Status))
			switch status {
			case domain.ProjectOngoing, domain.ProjectHold:
			case domain.ProjectClosed:
				return invalid(ErrProjectTerminal, "projects close automatically when their last assignment ends")
			default:
				return invalid(ErrInvalidInput, "unknown project status %q", *opts.Status)
			}
			u.Status = &status
			changes["status"] = status
		}
		if len(changes) == 0 {
			out = p
			return nil
		}
		if err := e.Repo.UpdateProjectTx(ctx, tx, p.ID, u, e.stamp()); err != nil {
			return err
		}
		if err := e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityProject,
			EntityID:     p.ID,
			ActivityType: domain.ActivityUpdate,
			ProjectID:    p.ID,
			ActorID:      opts.ActorID,
			Description:  fmt.Sprintf("Project %s updated", p.Name),
			Payload:      changes,
		}); err != nil {
			return err
		}
		out, err = e.Repo.GetProjectTx(ctx, tx, p.ID)
		return err
	})
	return out, err
}

// DeleteProject removes a project with no ACTIVE assignments. Its assignments
// go with it; requests that referenced it are kept with the reference cleared.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, actorID); err != nil {
			return err
		}
		p, err := e.Repo.GetProjectTx(ctx, tx, id)
		if err != nil {
			return notFound("project", id, err)
		}
		active, err := e.Repo.CountActiveByProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return invalid(ErrHasActiveAssignments, "project %s has %d active assignments", p.Name, active)
		}
		removed, err := e.Repo.DeleteAssignmentsByProjectTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityProject,
			EntityID:     id,
			ActivityType: domain.ActivityDelete,
			ProjectID:    id,
			ActorID:      actorID,
			Description:  fmt.Sprintf("Project %s for %s deleted", p.Name, p.ClientName),
			Payload:      events.EventPayload{"status": p.Status, "assignments_removed": removed},
		})
	})
}
