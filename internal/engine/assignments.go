package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"staffline/internal/domain"
	"staffline/internal/events"
)

type AssignOptions struct {
	ResourceID string
	ProjectID  string
	Role       string
	StartDate  string
	EndDate    string
	Reason     string
	ActorID    string
	Today      string
}

type ExtendOptions struct {
	AssignmentID string
	NewEndDate   string
	Reason       string
	ActorID      string
	Today        string
}

// ReleaseOptions releases an assignment. ReleaseDate defaults to today, or to
// the start date when the assignment has not started yet.
type ReleaseOptions struct {
	AssignmentID string
	ReleaseDate  string
	Reason       string
	ActorID      string
	Today        string
}

type assignInput struct {
	ResourceID string
	ProjectID  string
	Role       string
	StartDate  string
	EndDate    string
}

func (in assignInput) validate() error {
	if err := required("resource_id", in.ResourceID); err != nil {
		return err
	}
	if err := required("project_id", in.ProjectID); err != nil {
		return err
	}
	if err := required("role", in.Role); err != nil {
		return err
	}
	start, err := parseDate("start_date", in.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("end_date", in.EndDate)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return invalid(ErrInvalidDateRange, "end date %s must be after start date %s", in.EndDate, in.StartDate)
	}
	return nil
}

// AssignResource staffs a resource on a project directly and records the
// action as an APPROVED ASSIGN request.
func (e Engine) AssignResource(ctx context.Context, opts AssignOptions) (domain.Assignment, error) {
	today, err := e.today(opts.Today)
	if err != nil {
		return domain.Assignment{}, err
	}
	in := assignInput{
		ResourceID: opts.ResourceID,
		ProjectID:  opts.ProjectID,
		Role:       strings.TrimSpace(opts.Role),
		StartDate:  opts.StartDate,
		EndDate:    opts.EndDate,
	}
	if err := in.validate(); err != nil {
		return domain.Assignment{}, err
	}
	if in.StartDate < today {
		return domain.Assignment{}, invalid(ErrInvalidDateRange, "start date %s is in the past", in.StartDate)
	}
	reason := opts.Reason
	if reason == "" {
		reason = "Directly assigned by admin"
	}
	var out domain.Assignment
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		pending, err := e.Repo.PendingAssignExistsTx(ctx, tx, in.ResourceID, in.ProjectID, in.Role, "")
		if err != nil {
			return err
		}
		if pending {
			return invalid(ErrDuplicatePendingRequest, "an assign request for this resource, project and role is awaiting approval")
		}
		a, err := e.assignTx(ctx, tx, in, opts.ActorID)
		if err != nil {
			return err
		}
		out = a
		return e.recordDirectTx(ctx, tx, domain.AssignmentRequest{
			Type:         domain.RequestAssign,
			RequesterID:  opts.ActorID,
			ProjectID:    ptr(a.ProjectID),
			ResourceID:   ptr(a.ResourceID),
			Role:         a.Role,
			AssignmentID: ptr(a.ID),
			StartDate:    a.StartDate,
			NewEndDate:   a.EndDate,
			Reason:       reason,
		})
	})
	return out, err
}

// assignTx inserts an ACTIVE assignment after checking the project, the
// resource, the date range and the single-active-triple rule.
func (e Engine) assignTx(ctx context.Context, tx *sql.Tx, in assignInput, actorID string) (domain.Assignment, error) {
	if err := in.validate(); err != nil {
		return domain.Assignment{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return domain.Assignment{}, notFound("project", in.ProjectID, err)
	}
	if p.Status == domain.ProjectClosed {
		return domain.Assignment{}, invalid(ErrProjectClosed, "project %s is closed", p.Name)
	}
	res, err := e.Repo.GetResourceTx(ctx, tx, in.ResourceID)
	if err != nil {
		return domain.Assignment{}, notFound("resource", in.ResourceID, err)
	}
	dup, err := e.Repo.ActiveTripleExistsTx(ctx, tx, in.ResourceID, in.ProjectID, in.Role, "")
	if err != nil {
		return domain.Assignment{}, err
	}
	if dup {
		return domain.Assignment{}, invalid(ErrDuplicateActiveAssignment, "%s already holds role %s on %s", res.Name, in.Role, p.Name)
	}
	now := e.stamp()
	a := domain.Assignment{
		ID:         newID(),
		ResourceID: in.ResourceID,
		ProjectID:  in.ProjectID,
		Role:       in.Role,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		Status:     domain.AssignmentActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, a); err != nil {
		if isUniqueViolation(err) {
			return domain.Assignment{}, invalid(ErrDuplicateActiveAssignment, "%s already holds role %s on %s", res.Name, in.Role, p.Name)
		}
		return domain.Assignment{}, fmt.Errorf("insert assignment: %w", err)
	}
	if res.Status != domain.ResourceAssigned {
		if err := e.Repo.SetResourceStatusTx(ctx, tx, res.ID, domain.ResourceAssigned, now); err != nil {
			return domain.Assignment{}, err
		}
	}
	if err := e.Repo.MarkProjectStaffedTx(ctx, tx, p.ID); err != nil {
		return domain.Assignment{}, err
	}
	err = e.emit(ctx, tx, events.Record{
		EntityType:   domain.EntityAssignment,
		EntityID:     a.ID,
		ActivityType: domain.ActivityAssign,
		ProjectID:    a.ProjectID,
		ResourceID:   a.ResourceID,
		Role:         a.Role,
		ActorID:      actorID,
		Description:  fmt.Sprintf("%s assigned to %s as %s from %s to %s", res.Name, p.Name, a.Role, a.StartDate, a.EndDate),
		Payload:      events.EventPayload{"start_date": a.StartDate, "end_date": a.EndDate},
	})
	return a, err
}

// ExtendAssignment moves the end date of an ACTIVE assignment. A new end date
// before today is accepted; the next reconciliation pass expires it.
func (e Engine) ExtendAssignment(ctx context.Context, opts ExtendOptions) (domain.Assignment, error) {
	today, err := e.today(opts.Today)
	if err != nil {
		return domain.Assignment{}, err
	}
	if err := required("assignment_id", opts.AssignmentID); err != nil {
		return domain.Assignment{}, err
	}
	var out domain.Assignment
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		a, oldEnd, err := e.extendTx(ctx, tx, opts.AssignmentID, opts.NewEndDate, opts.Reason, opts.ActorID)
		if err != nil {
			return err
		}
		out = a
		return e.recordDirectTx(ctx, tx, domain.AssignmentRequest{
			Type:           domain.RequestExtend,
			RequesterID:    opts.ActorID,
			ProjectID:      ptr(a.ProjectID),
			ResourceID:     ptr(a.ResourceID),
			Role:           a.Role,
			AssignmentID:   ptr(a.ID),
			StartDate:      a.StartDate,
			CurrentEndDate: oldEnd,
			NewEndDate:     a.EndDate,
			Reason:         opts.Reason,
		})
	})
	if err == nil && out.EndDate < today {
		e.log().WithField("assignment_id", out.ID).Warnf("assignment extended to %s which is before %s", out.EndDate, today)
	}
	return out, err
}

func (e Engine) extendTx(ctx context.Context, tx *sql.Tx, assignmentID, newEnd, reason, actorID string) (domain.Assignment, string, error) {
	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return a, "", notFound("assignment", assignmentID, err)
	}
	if a.Status != domain.AssignmentActive {
		return a, "", invalid(ErrAssignmentNotActive, "assignment %s is %s", a.ID, a.Status)
	}
	if _, err := parseDate("new_end_date", newEnd); err != nil {
		return a, "", err
	}
	if newEnd <= a.StartDate {
		return a, "", invalid(ErrInvalidDateRange, "new end date %s must be after start date %s", newEnd, a.StartDate)
	}
	oldEnd := a.EndDate
	now := e.stamp()
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, a.ID, &newEnd, nil, now); err != nil {
		return a, "", err
	}
	a.EndDate = newEnd
	a.UpdatedAt = now
	desc := fmt.Sprintf("Assignment end date moved from %s to %s", oldEnd, newEnd)
	if reason != "" {
		desc += ": " + reason
	}
	err = e.emit(ctx, tx, events.Record{
		EntityType:   domain.EntityAssignment,
		EntityID:     a.ID,
		ActivityType: domain.ActivityExtend,
		ProjectID:    a.ProjectID,
		ResourceID:   a.ResourceID,
		Role:         a.Role,
		ActorID:      actorID,
		Description:  desc,
		Payload:      events.EventPayload{"old_end_date": oldEnd, "new_end_date": newEnd},
	})
	return a, oldEnd, err
}

// ReleaseAssignment ends an ACTIVE assignment, re-derives the resource status
// and closes the project when this was its last ACTIVE assignment.
func (e Engine) ReleaseAssignment(ctx context.Context, opts ReleaseOptions) (domain.Assignment, error) {
	today, err := e.today(opts.Today)
	if err != nil {
		return domain.Assignment{}, err
	}
	if err := required("assignment_id", opts.AssignmentID); err != nil {
		return domain.Assignment{}, err
	}
	var out domain.Assignment
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		releaseDate := opts.ReleaseDate
		if releaseDate == "" {
			current, err := e.Repo.GetAssignmentTx(ctx, tx, opts.AssignmentID)
			if err != nil {
				return notFound("assignment", opts.AssignmentID, err)
			}
			releaseDate = defaultReleaseDate(today, current.StartDate)
		}
		a, oldEnd, err := e.releaseTx(ctx, tx, opts.AssignmentID, releaseDate, opts.Reason, opts.ActorID)
		if err != nil {
			return err
		}
		out = a
		return e.recordDirectTx(ctx, tx, domain.AssignmentRequest{
			Type:           domain.RequestRelease,
			RequesterID:    opts.ActorID,
			ProjectID:      ptr(a.ProjectID),
			ResourceID:     ptr(a.ResourceID),
			Role:           a.Role,
			AssignmentID:   ptr(a.ID),
			StartDate:      a.StartDate,
			CurrentEndDate: oldEnd,
			NewEndDate:     a.EndDate,
			Reason:         opts.Reason,
		})
	})
	return out, err
}

// defaultReleaseDate is today, or the start date for an assignment that has
// not started yet.
func defaultReleaseDate(today, start string) string {
	if today < start {
		return start
	}
	return today
}

func (e Engine) releaseTx(ctx context.Context, tx *sql.Tx, assignmentID, releaseDate, reason, actorID string) (domain.Assignment, string, error) {
	a, err := e.Repo.GetAssignmentTx(ctx, tx, assignmentID)
	if err != nil {
		return a, "", notFound("assignment", assignmentID, err)
	}
	if a.Status != domain.AssignmentActive {
		return a, "", invalid(ErrAssignmentNotActive, "assignment %s is %s", a.ID, a.Status)
	}
	if _, err := parseDate("release_date", releaseDate); err != nil {
		return a, "", err
	}
	if releaseDate < a.StartDate {
		return a, "", invalid(ErrInvalidDateRange, "release date %s is before start date %s", releaseDate, a.StartDate)
	}
	oldEnd := a.EndDate
	now := e.stamp()
	status := domain.AssignmentReleased
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, a.ID, &releaseDate, &status, now); err != nil {
		return a, "", err
	}
	a.EndDate = releaseDate
	a.Status = status
	a.UpdatedAt = now
	if _, _, err := e.syncResourceTx(ctx, tx, a.ResourceID); err != nil {
		return a, "", err
	}
	desc := fmt.Sprintf("Assignment released on %s", releaseDate)
	if reason != "" {
		desc += ": " + reason
	}
	if err := e.emit(ctx, tx, events.Record{
		EntityType:   domain.EntityAssignment,
		EntityID:     a.ID,
		ActivityType: domain.ActivityRelease,
		ProjectID:    a.ProjectID,
		ResourceID:   a.ResourceID,
		Role:         a.Role,
		ActorID:      actorID,
		Description:  desc,
		Payload:      events.EventPayload{"old_end_date": oldEnd, "release_date": releaseDate},
	}); err != nil {
		return a, "", err
	}
	if _, err := e.maybeCloseProjectTx(ctx, tx, a.ProjectID, actorID); err != nil {
		return a, "", err
	}
	return a, oldEnd, nil
}

// recordDirectTx stores the APPROVED request that documents a direct action.
func (e Engine) recordDirectTx(ctx context.Context, tx *sql.Tx, req domain.AssignmentRequest) error {
	now := e.stamp()
	req.ID = newID()
	req.Status = domain.RequestApproved
	req.DecidedBy = req.RequesterID
	req.DecidedAt = now
	req.CreatedAt = now
	if err := e.Repo.InsertRequestTx(ctx, tx, req); err != nil {
		return fmt.Errorf("record %s request: %w", strings.ToLower(req.Type), err)
	}
	return nil
}
