package auth

import (
	"context"
	"errors"
	"fmt"

	"staffline/internal/domain"
	"staffline/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Permissions checked by the API and CLI layers.
const (
	PermDirectExecute  = "assignment.direct"
	PermDecideRequests = "request.decide"
	PermManageUsers    = "user.manage"
	PermManageCatalog  = "catalog.manage"
	PermReconcile      = "reconcile.run"
	PermSubmitRequests = "request.submit"
	PermViewAllRecords = "records.view_all"
)

var permissions = map[string][]string{
	domain.UserTypeAdmin: {
		PermDirectExecute, PermDecideRequests, PermManageUsers, PermManageCatalog,
		PermReconcile, PermSubmitRequests, PermViewAllRecords,
	},
	domain.UserTypeDevManager: {PermSubmitRequests},
}

// Service resolves acting users and checks their permissions.
type Service struct {
	Repo repo.Repo
}

// Resolve returns the user behind actorID.
func (s Service) Resolve(ctx context.Context, actorID string) (domain.User, error) {
	if actorID == "" {
		return domain.User{}, errors.New("actor_id required")
	}
	return s.Repo.GetUser(ctx, actorID)
}

// Has reports whether the user type grants perm.
func Has(u domain.User, perm string) bool {
	for _, p := range permissions[u.Type] {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless the user holds perm.
func Require(u domain.User, perm string) error {
	if Has(u, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// Permissions lists what the user type grants.
func Permissions(u domain.User) []string {
	return append([]string(nil), permissions[u.Type]...)
}

// CanSeeRequest reports whether the user may read req.
func CanSeeRequest(u domain.User, req domain.AssignmentRequest) bool {
	return Has(u, PermViewAllRecords) || req.RequesterID == u.ID
}
