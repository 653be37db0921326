package server

import (
	"staffline/internal/domain"
	"staffline/internal/engine"
)

// Request payloads

type CreateUserRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email" format:"email"`
	Type  string `json:"type,omitempty" enum:"ADMIN,DEV_MANAGER"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateResourceRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" format:"email"`
}

type UpdateResourceRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	ClientName  string `json:"client_name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	ClientName  *string `json:"client_name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"ONGOING,HOLD,CLOSED"`
}

type AssignRequest struct {
	ResourceID string `json:"resource_id"`
	ProjectID  string `json:"project_id"`
	Role       string `json:"role"`
	StartDate  string `json:"start_date" format:"date"`
	EndDate    string `json:"end_date" format:"date"`
	Reason     string `json:"reason,omitempty"`
}

type ExtendRequest struct {
	NewEndDate string `json:"new_end_date" format:"date"`
	Reason     string `json:"reason,omitempty"`
}

type ReleaseRequest struct {
	ReleaseDate string `json:"release_date,omitempty" format:"date"`
	Reason      string `json:"reason,omitempty"`
}

type PlanItemRequest struct {
	ResourceID string `json:"resource_id"`
	Role       string `json:"role"`
	StartDate  string `json:"start_date" format:"date"`
	EndDate    string `json:"end_date" format:"date"`
}

type SubmitRequestRequest struct {
	Type         string            `json:"type" enum:"ASSIGN,EXTEND,RELEASE,PROJECT"`
	ResourceID   string            `json:"resource_id,omitempty"`
	ProjectID    string            `json:"project_id,omitempty"`
	Role         string            `json:"role,omitempty"`
	StartDate    string            `json:"start_date,omitempty" format:"date"`
	EndDate      string            `json:"end_date,omitempty" format:"date"`
	AssignmentID string            `json:"assignment_id,omitempty"`
	NewEndDate   string            `json:"new_end_date,omitempty" format:"date"`
	Reason       string            `json:"reason,omitempty"`
	ProjectName  string            `json:"project_name,omitempty"`
	ClientName   string            `json:"client_name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Plan         []PlanItemRequest `json:"plan,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ReconcileRequest struct {
	Today string `json:"today,omitempty" format:"date"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	User        domain.User `json:"user"`
	Permissions []string    `json:"permissions"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned when the key is created.
	Key string `json:"key,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type EndingSoonResponse struct {
	Days  int                     `json:"days"`
	Items []engine.EndingSoonItem `json:"items"`
}

func (r SubmitRequestRequest) options(actorID string) engine.SubmitOptions {
	opts := engine.SubmitOptions{
		Type:         r.Type,
		ResourceID:   r.ResourceID,
		ProjectID:    r.ProjectID,
		Role:         r.Role,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		AssignmentID: r.AssignmentID,
		NewEndDate:   r.NewEndDate,
		Reason:       r.Reason,
		ProjectName:  r.ProjectName,
		ClientName:   r.ClientName,
		Description:  r.Description,
		ActorID:      actorID,
	}
	for _, item := range r.Plan {
		opts.Plan = append(opts.Plan, domain.PlanItem{
			ResourceID: item.ResourceID,
			Role:       item.Role,
			StartDate:  item.StartDate,
			EndDate:    item.EndDate,
		})
	}
	return opts
}

func apiKeyResponse(k domain.APIKey, raw string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt, Key: raw}
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
