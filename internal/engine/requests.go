package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"staffline/internal/domain"
	"staffline/internal/events"
)

// SubmitOptions describes a request awaiting approval. Which fields apply
// depends on Type:
//   - ASSIGN: ResourceID, ProjectID, Role, StartDate, EndDate
//   - EXTEND: AssignmentID, NewEndDate
//   - RELEASE: AssignmentID, NewEndDate as the release date (defaults to today)
//   - PROJECT: ProjectName, ClientName, Description, Plan
type SubmitOptions struct {
	Type         string
	ResourceID   string
	ProjectID    string
	Role         string
	StartDate    string
	EndDate      string
	AssignmentID string
	NewEndDate   string
	Reason       string
	ProjectName  string
	ClientName   string
	Description  string
	Plan         []domain.PlanItem
	ActorID      string
	Today        string
}

type ApproveOptions struct {
	RequestID string
	ActorID   string
	Today     string
}

type RejectOptions struct {
	RequestID string
	Reason    string
	ActorID   string
}

// SubmitRequest validates and queues a PENDING request. Context the approver
// needs is snapshotted onto the request.
func (e Engine) SubmitRequest(ctx context.Context, opts SubmitOptions) (domain.AssignmentRequest, error) {
	today, err := e.today(opts.Today)
	if err != nil {
		return domain.AssignmentRequest{}, err
	}
	reqType := strings.ToUpper(strings.TrimSpace(opts.Type))
	req := domain.AssignmentRequest{
		ID:          newID(),
		Type:        reqType,
		Status:      domain.RequestPending,
		RequesterID: opts.ActorID,
		Reason:      opts.Reason,
		CreatedAt:   e.stamp(),
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		requester, err := e.resolveActor(ctx, tx, opts.ActorID)
		if err != nil {
			return err
		}
		var desc string
		switch reqType {
		case domain.RequestAssign:
			desc, err = e.prepareAssignRequestTx(ctx, tx, &req, opts, today)
		case domain.RequestExtend, domain.RequestRelease:
			desc, err = e.prepareAssignmentRequestTx(ctx, tx, &req, opts, today)
		case domain.RequestProject:
			desc, err = e.prepareProjectRequestTx(ctx, tx, &req, opts, today)
		default:
			return invalid(ErrInvalidInput, "unknown request type %q", opts.Type)
		}
		if err != nil {
			return err
		}
		if err := e.Repo.InsertRequestTx(ctx, tx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityRequest,
			EntityID:     req.ID,
			ActivityType: domain.ActivityRequest,
			ProjectID:    deref(req.ProjectID),
			ResourceID:   deref(req.ResourceID),
			Role:         req.Role,
			ActorID:      requester.ID,
			Description:  fmt.Sprintf("%s requested %s", requester.Name, desc),
			Payload:      events.EventPayload{"request_type": req.Type, "requester_id": requester.ID},
		})
	})
	if err != nil {
		return domain.AssignmentRequest{}, err
	}
	return req, nil
}

func (e Engine) prepareAssignRequestTx(ctx context.Context, tx *sql.Tx, req *domain.AssignmentRequest, opts SubmitOptions, today string) (string, error) {
	in := assignInput{
		ResourceID: opts.ResourceID,
		ProjectID:  opts.ProjectID,
		Role:       strings.TrimSpace(opts.Role),
		StartDate:  opts.StartDate,
		EndDate:    opts.EndDate,
	}
	if err := in.validate(); err != nil {
		return "", err
	}
	if in.StartDate < today {
		return "", invalid(ErrInvalidDateRange, "start date %s is in the past", in.StartDate)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return "", notFound("project", in.ProjectID, err)
	}
	if p.Status == domain.ProjectClosed {
		return "", invalid(ErrProjectClosed, "project %s is closed", p.Name)
	}
	res, err := e.Repo.GetResourceTx(ctx, tx, in.ResourceID)
	if err != nil {
		return "", notFound("resource", in.ResourceID, err)
	}
	dup, err := e.Repo.ActiveTripleExistsTx(ctx, tx, in.ResourceID, in.ProjectID, in.Role, "")
	if err != nil {
		return "", err
	}
	if dup {
		return "", invalid(ErrDuplicateActiveAssignment, "%s already holds role %s on %s", res.Name, in.Role, p.Name)
	}
	pending, err := e.Repo.PendingAssignExistsTx(ctx, tx, in.ResourceID, in.ProjectID, in.Role, req.ID)
	if err != nil {
		return "", err
	}
	if pending {
		return "", invalid(ErrDuplicatePendingRequest, "an assign request for %s as %s on %s is already pending", res.Name, in.Role, p.Name)
	}
	req.ProjectID = ptr(in.ProjectID)
	req.ResourceID = ptr(in.ResourceID)
	req.Role = in.Role
	req.StartDate = in.StartDate
	req.NewEndDate = in.EndDate
	return fmt.Sprintf("assigning %s to %s as %s", res.Name, p.Name, in.Role), nil
}

func (e Engine) prepareAssignmentRequestTx(ctx context.Context, tx *sql.Tx, req *domain.AssignmentRequest, opts SubmitOptions, today string) (string, error) {
	if err := required("assignment_id", opts.AssignmentID); err != nil {
		return "", err
	}
	a, err := e.Repo.GetAssignmentTx(ctx, tx, opts.AssignmentID)
	if err != nil {
		return "", notFound("assignment", opts.AssignmentID, err)
	}
	if a.Status != domain.AssignmentActive {
		return "", invalid(ErrAssignmentNotActive, "assignment %s is %s", a.ID, a.Status)
	}
	newEnd := opts.NewEndDate
	if newEnd == "" && req.Type == domain.RequestRelease {
		newEnd = defaultReleaseDate(today, a.StartDate)
	}
	field := "new_end_date"
	if req.Type == domain.RequestRelease {
		field = "release_date"
	}
	if _, err := parseDate(field, newEnd); err != nil {
		return "", err
	}
	switch req.Type {
	case domain.RequestExtend:
		if newEnd <= a.StartDate {
			return "", invalid(ErrInvalidDateRange, "new end date %s must be after start date %s", newEnd, a.StartDate)
		}
	case domain.RequestRelease:
		if newEnd < a.StartDate {
			return "", invalid(ErrInvalidDateRange, "release date %s is before start date %s", newEnd, a.StartDate)
		}
	}
	pending, err := e.Repo.PendingForAssignmentTx(ctx, tx, a.ID, req.ID, domain.RequestExtend, domain.RequestRelease)
	if err != nil {
		return "", err
	}
	if pending {
		return "", invalid(ErrDuplicatePendingRequest, "assignment %s already has a pending extend or release request", a.ID)
	}
	req.AssignmentID = ptr(a.ID)
	req.ProjectID = ptr(a.ProjectID)
	req.ResourceID = ptr(a.ResourceID)
	req.Role = a.Role
	req.StartDate = a.StartDate
	req.CurrentEndDate = a.EndDate
	req.NewEndDate = newEnd
	if req.Type == domain.RequestExtend {
		return fmt.Sprintf("extending assignment %s from %s to %s", a.ID, a.EndDate, newEnd), nil
	}
	return fmt.Sprintf("releasing assignment %s on %s", a.ID, newEnd), nil
}

func (e Engine) prepareProjectRequestTx(ctx context.Context, tx *sql.Tx, req *domain.AssignmentRequest, opts SubmitOptions, today string) (string, error) {
	name := strings.TrimSpace(opts.ProjectName)
	if err := required("project_name", name); err != nil {
		return "", err
	}
	client := strings.TrimSpace(opts.ClientName)
	if err := required("client_name", client); err != nil {
		return "", err
	}
	seen := map[string]bool{}
	plan := make([]domain.PlanItem, 0, len(opts.Plan))
	for i, item := range opts.Plan {
		item.Role = strings.TrimSpace(item.Role)
		in := assignInput{ResourceID: item.ResourceID, ProjectID: "pending", Role: item.Role, StartDate: item.StartDate, EndDate: item.EndDate}
		if err := in.validate(); err != nil {
			return "", fmt.Errorf("plan item %d: %w", i+1, err)
		}
		if item.StartDate < today {
			return "", invalid(ErrInvalidDateRange, "plan item %d: start date %s is in the past", i+1, item.StartDate)
		}
		if _, err := e.Repo.GetResourceTx(ctx, tx, item.ResourceID); err != nil {
			return "", notFound("resource", item.ResourceID, err)
		}
		key := item.ResourceID + "\x00" + item.Role
		if seen[key] {
			return "", invalid(ErrDuplicateActiveAssignment, "plan item %d repeats resource %s as %s", i+1, item.ResourceID, item.Role)
		}
		seen[key] = true
		item.Position = i
		plan = append(plan, item)
	}
	req.ProjectName = name
	req.ClientName = client
	req.Description = strings.TrimSpace(opts.Description)
	req.Plan = plan
	return fmt.Sprintf("new project %s for %s with %d staffing lines", name, client, len(plan)), nil
}

// ApproveRequest executes a PENDING request and marks it APPROVED in the same
// transaction.
func (e Engine) ApproveRequest(ctx context.Context, opts ApproveOptions) (domain.AssignmentRequest, error) {
	today, err := e.today(opts.Today)
	if err != nil {
		return domain.AssignmentRequest{}, err
	}
	if err := required("request_id", opts.RequestID); err != nil {
		return domain.AssignmentRequest{}, err
	}
	var out domain.AssignmentRequest
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		approver, err := e.resolveActor(ctx, tx, opts.ActorID)
		if err != nil {
			return err
		}
		req, err := e.Repo.GetRequestTx(ctx, tx, opts.RequestID)
		if err != nil {
			return notFound("request", opts.RequestID, err)
		}
		if req.Status != domain.RequestPending {
			return invalid(ErrRequestNotPending, "request %s is %s", req.ID, req.Status)
		}
		if err := e.executeRequestTx(ctx, tx, &req, approver.ID, today); err != nil {
			return err
		}
		now := e.stamp()
		ok, err := e.Repo.DecideRequestTx(ctx, tx, req.ID, domain.RequestApproved, "", approver.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return invalid(ErrRequestNotPending, "request %s was decided concurrently", req.ID)
		}
		if err := e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityRequest,
			EntityID:     req.ID,
			ActivityType: domain.ActivityApprove,
			ProjectID:    deref(req.ProjectID),
			ResourceID:   deref(req.ResourceID),
			Role:         req.Role,
			ActorID:      approver.ID,
			Description:  fmt.Sprintf("%s approved %s request %s", approver.Name, strings.ToLower(req.Type), req.ID),
			Payload:      events.EventPayload{"request_type": req.Type, "requester_id": req.RequesterID},
		}); err != nil {
			return err
		}
		out, err = e.Repo.GetRequestTx(ctx, tx, req.ID)
		return err
	})
	return out, err
}

func (e Engine) executeRequestTx(ctx context.Context, tx *sql.Tx, req *domain.AssignmentRequest, approverID, today string) error {
	switch req.Type {
	case domain.RequestExtend:
		if req.AssignmentID == nil {
			return invalid(ErrInvalidState, "request %s no longer references an assignment", req.ID)
		}
		_, _, err := e.extendTx(ctx, tx, *req.AssignmentID, req.NewEndDate, req.Reason, approverID)
		return err
	case domain.RequestRelease:
		if req.AssignmentID == nil {
			return invalid(ErrInvalidState, "request %s no longer references an assignment", req.ID)
		}
		_, _, err := e.releaseTx(ctx, tx, *req.AssignmentID, req.NewEndDate, req.Reason, approverID)
		return err
	case domain.RequestAssign:
		if req.ProjectID == nil || req.ResourceID == nil {
			return invalid(ErrInvalidState, "request %s no longer references its project or resource", req.ID)
		}
		in := assignInput{ResourceID: *req.ResourceID, ProjectID: *req.ProjectID, Role: req.Role, StartDate: req.StartDate, EndDate: req.NewEndDate}
		if in.EndDate < today {
			return invalid(ErrInvalidDateRange, "requested end date %s has already passed", in.EndDate)
		}
		a, err := e.assignTx(ctx, tx, in, approverID)
		if err != nil {
			return err
		}
		req.AssignmentID = ptr(a.ID)
		return e.Repo.SetRequestAssignmentTx(ctx, tx, req.ID, a.ID)
	case domain.RequestProject:
		return e.approveProjectTx(ctx, tx, req, approverID, today)
	}
	return invalid(ErrInvalidInput, "unknown request type %q", req.Type)
}

func (e Engine) approveProjectTx(ctx context.Context, tx *sql.Tx, req *domain.AssignmentRequest, approverID, today string) error {
	for _, item := range req.Plan {
		if item.EndDate < today {
			return invalid(ErrInvalidDateRange, "plan item %d: end date %s has already passed", item.Position+1, item.EndDate)
		}
	}
	now := e.stamp()
	p := domain.Project{
		ID:          newID(),
		Name:        req.ProjectName,
		ClientName:  req.ClientName,
		Description: req.Description,
		OwnerID:     req.RequesterID,
		Status:      domain.ProjectOngoing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.SetRequestProjectTx(ctx, tx, req.ID, p.ID); err != nil {
		return err
	}
	req.ProjectID = ptr(p.ID)
	if err := e.emit(ctx, tx, events.Record{
		EntityType:   domain.EntityProject,
		EntityID:     p.ID,
		ActivityType: domain.ActivityCreate,
		ProjectID:    p.ID,
		ActorID:      approverID,
		Description:  fmt.Sprintf("Project %s for %s created from request %s", p.Name, p.ClientName, req.ID),
		Payload:      events.EventPayload{"owner_id": p.OwnerID, "plan_items": len(req.Plan)},
	}); err != nil {
		return err
	}
	for _, item := range req.Plan {
		in := assignInput{ResourceID: item.ResourceID, ProjectID: p.ID, Role: item.Role, StartDate: item.StartDate, EndDate: item.EndDate}
		if _, err := e.assignTx(ctx, tx, in, approverID); err != nil {
			return fmt.Errorf("plan item %d: %w", item.Position+1, err)
		}
	}
	return nil
}

// RejectRequest marks a PENDING request REJECTED. Nothing else changes.
func (e Engine) RejectRequest(ctx context.Context, opts RejectOptions) (domain.AssignmentRequest, error) {
	if err := required("request_id", opts.RequestID); err != nil {
		return domain.AssignmentRequest{}, err
	}
	var out domain.AssignmentRequest
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		approver, err := e.resolveActor(ctx, tx, opts.ActorID)
		if err != nil {
			return err
		}
		req, err := e.Repo.GetRequestTx(ctx, tx, opts.RequestID)
		if err != nil {
			return notFound("request", opts.RequestID, err)
		}
		ok, err := e.Repo.DecideRequestTx(ctx, tx, req.ID, domain.RequestRejected, strings.TrimSpace(opts.Reason), approver.ID, e.stamp())
		if err != nil {
			return err
		}
		if !ok {
			return invalid(ErrRequestNotPending, "request %s is %s", req.ID, req.Status)
		}
		desc := fmt.Sprintf("%s rejected %s request %s", approver.Name, strings.ToLower(req.Type), req.ID)
		if opts.Reason != "" {
			desc += ": " + strings.TrimSpace(opts.Reason)
		}
		if err := e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityRequest,
			EntityID:     req.ID,
			ActivityType: domain.ActivityReject,
			ProjectID:    deref(req.ProjectID),
			ResourceID:   deref(req.ResourceID),
			Role:         req.Role,
			ActorID:      approver.ID,
			Description:  desc,
			Payload:      events.EventPayload{"request_type": req.Type, "requester_id": req.RequesterID},
		}); err != nil {
			return err
		}
		out, err = e.Repo.GetRequestTx(ctx, tx, req.ID)
		return err
	})
	return out, err
}
