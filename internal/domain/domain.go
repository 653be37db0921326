package domain

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

const (
	UserTypeAdmin      = "ADMIN"
	UserTypeDevManager = "DEV_MANAGER"
)

const (
	ResourceAvailable = "AVAILABLE"
	ResourceAssigned  = "ASSIGNED"
)

const (
	ProjectOngoing = "ONGOING"
	ProjectHold    = "HOLD"
	ProjectClosed  = "CLOSED"
)

const (
	AssignmentActive   = "ACTIVE"
	AssignmentReleased = "RELEASED"
	AssignmentExpired  = "EXPIRED"
)

const (
	RequestAssign  = "ASSIGN"
	RequestExtend  = "EXTEND"
	RequestRelease = "RELEASE"
	RequestProject = "PROJECT"
)

const (
	RequestPending  = "PENDING"
	RequestApproved = "APPROVED"
	RequestRejected = "REJECTED"
)

// Entity types carried by audit events.
const (
	EntityUser       = "USER"
	EntityResource   = "RESOURCE"
	EntityProject    = "PROJECT"
	EntityAssignment = "ASSIGNMENT"
	EntityRequest    = "REQUEST"
)

// Activity types carried by audit events. AUTO_* activities come from reconciliation.
const (
	ActivityCreate       = "CREATE"
	ActivityUpdate       = "UPDATE"
	ActivityDelete       = "DELETE"
	ActivityAssign       = "ASSIGN"
	ActivityExtend       = "EXTEND"
	ActivityRelease      = "RELEASE"
	ActivityClose        = "CLOSE"
	ActivityRequest      = "REQUEST"
	ActivityApprove      = "APPROVE"
	ActivityReject       = "REJECT"
	ActivityAutoActivate = "AUTO_ACTIVATE"
	ActivityAutoExpire   = "AUTO_EXPIRE"
	ActivityAutoRelease  = "AUTO_RELEASE"
	ActivityAutoClose    = "AUTO_CLOSE"
	ActivityAutoSync     = "AUTO_SYNC"
)

// SystemActor is the actor recorded for automatic corrections.
const SystemActor = "system"

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Type      string `json:"type" enum:"ADMIN,DEV_MANAGER"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Resource struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Status     string `json:"status" enum:"AVAILABLE,ASSIGNED"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClientName  string `json:"client_name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	Status      string `json:"status" enum:"ONGOING,HOLD,CLOSED"`
	EverStaffed bool   `json:"ever_staffed"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
	ClosedAt    string `json:"closed_at,omitempty" format:"date-time"`
}

type Assignment struct {
	ID         string `json:"id"`
	ResourceID string `json:"resource_id"`
	ProjectID  string `json:"project_id"`
	Role       string `json:"role"`
	StartDate  string `json:"start_date" format:"date"`
	EndDate    string `json:"end_date" format:"date"`
	Status     string `json:"status" enum:"ACTIVE,RELEASED,EXPIRED"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// AssignmentRequest is both the approval ticket and the decision log entry.
type AssignmentRequest struct {
	ID              string     `json:"id"`
	Type            string     `json:"type" enum:"ASSIGN,EXTEND,RELEASE,PROJECT"`
	Status          string     `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	RequesterID     string     `json:"requester_id"`
	ProjectID       *string    `json:"project_id,omitempty"`
	ResourceID      *string    `json:"resource_id,omitempty"`
	Role            string     `json:"role,omitempty"`
	AssignmentID    *string    `json:"assignment_id,omitempty"`
	StartDate       string     `json:"start_date,omitempty" format:"date"`
	CurrentEndDate  string     `json:"current_end_date,omitempty" format:"date"`
	NewEndDate      string     `json:"new_end_date,omitempty" format:"date"`
	Reason          string     `json:"reason,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ProjectName     string     `json:"project_name,omitempty"`
	ClientName      string     `json:"client_name,omitempty"`
	Description     string     `json:"description,omitempty"`
	Plan            []PlanItem `json:"plan,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	DecidedAt       string     `json:"decided_at,omitempty" format:"date-time"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
}

// PlanItem is one staffing line of a PROJECT request.
type PlanItem struct {
	Position   int    `json:"position"`
	ResourceID string `json:"resource_id"`
	Role       string `json:"role"`
	StartDate  string `json:"start_date" format:"date"`
	EndDate    string `json:"end_date" format:"date"`
}

// Event is one audit record handed off to the history collaborators.
type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id,omitempty"`
	ActivityType string `json:"activity_type"`
	ProjectID    string `json:"project_id,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Role         string `json:"role,omitempty"`
	ActorID      string `json:"actor_id"`
	Description  string `json:"description"`
	Automatic    bool   `json:"automatic"`
	Payload      string `json:"payload_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
