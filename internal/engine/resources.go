package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"

	"staffline/internal/domain"
	"staffline/internal/events"
)

type ResourceCreateOptions struct {
	Name    string
	Email   string
	ActorID string
}

type ResourceUpdateOptions struct {
	ID      string
	Name    *string
	Email   *string
	ActorID string
}

func normalizeEmail(v string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(v))
	if err := required("email", email); err != nil {
		return "", err
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid(ErrInvalidInput, "email %q is not a valid address", v)
	}
	return email, nil
}

// CreateResource registers an AVAILABLE resource with the next free EMPnnn
// employee id.
func (e Engine) CreateResource(ctx context.Context, opts ResourceCreateOptions) (domain.Resource, error) {
	name := strings.TrimSpace(opts.Name)
	if err := required("name", name); err != nil {
		return domain.Resource{}, err
	}
	email, err := normalizeEmail(opts.Email)
	if err != nil {
		return domain.Resource{}, err
	}
	var out domain.Resource
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		taken, err := e.Repo.ResourceEmailTakenTx(ctx, tx, email, "")
		if err != nil {
			return err
		}
		if taken {
			return invalid(ErrDuplicateEmail, "a resource with email %s already exists", email)
		}
		employeeID, err := e.nextEmployeeIDTx(ctx, tx)
		if err != nil {
			return err
		}
		now := e.stamp()
		out = domain.Resource{
			ID:         newID(),
			EmployeeID: employeeID,
			Name:       name,
			Email:      email,
			Status:     domain.ResourceAvailable,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.Repo.InsertResourceTx(ctx, tx, out); err != nil {
			if isUniqueViolation(err) {
				return invalid(ErrDuplicateEmail, "a resource with email %s already exists", email)
			}
			return fmt.Errorf("insert resource: %w", err)
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityResource,
			EntityID:     out.ID,
			ActivityType: domain.ActivityCreate,
			ResourceID:   out.ID,
			ActorID:      opts.ActorID,
			Description:  fmt.Sprintf("Resource %s (%s) created", out.Name, out.EmployeeID),
			Payload:      events.EventPayload{"employee_id": out.EmployeeID, "email": out.Email},
		})
	})
	return out, err
}

func (e Engine) nextEmployeeIDTx(ctx context.Context, tx *sql.Tx) (string, error) {
	n, err := e.Repo.CountResourcesTx(ctx, tx)
	if err != nil {
		return "", err
	}
	for i := n + 1; ; i++ {
		id := fmt.Sprintf("EMP%03d", i)
		exists, err := e.Repo.EmployeeIDExistsTx(ctx, tx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

// UpdateResource edits name and email. Status is derived and cannot be set.
func (e Engine) UpdateResource(ctx context.Context, opts ResourceUpdateOptions) (domain.Resource, error) {
	var out domain.Resource
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		res, err := e.Repo.GetResourceTx(ctx, tx, opts.ID)
		if err != nil {
			return notFound("resource", opts.ID, err)
		}
		var name, email *string
		changes := events.EventPayload{}
		if opts.Name != nil {
			v := strings.TrimSpace(*opts.Name)
			if err := required("name", v); err != nil {
				return err
			}
			name = &v
			changes["name"] = v
		}
		if opts.Email != nil {
			v, err := normalizeEmail(*opts.Email)
			if err != nil {
				return err
			}
			taken, err := e.Repo.ResourceEmailTakenTx(ctx, tx, v, res.ID)
			if err != nil {
				return err
			}
			if taken {
				return invalid(ErrDuplicateEmail, "a resource with email %s already exists", v)
			}
			email = &v
			changes["email"] = v
		}
		if len(changes) == 0 {
			out = res
			return nil
		}
		if err := e.Repo.UpdateResourceTx(ctx, tx, res.ID, name, email, e.stamp()); err != nil {
			return err
		}
		if err := e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityResource,
			EntityID:     res.ID,
			ActivityType: domain.ActivityUpdate,
			ResourceID:   res.ID,
			ActorID:      opts.ActorID,
			Description:  fmt.Sprintf("Resource %s updated", res.EmployeeID),
			Payload:      changes,
		}); err != nil {
			return err
		}
		out, err = e.Repo.GetResourceTx(ctx, tx, res.ID)
		return err
	})
	return out, err
}

// DeleteResource removes a resource with no ACTIVE assignments, together with
// its past assignments and plan items. Requests keep their history with the
// resource reference cleared.
func (e Engine) DeleteResource(ctx context.Context, id, actorID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, actorID); err != nil {
			return err
		}
		res, err := e.Repo.GetResourceTx(ctx, tx, id)
		if err != nil {
			return notFound("resource", id, err)
		}
		active, err := e.Repo.CountActiveByResourceTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return invalid(ErrHasActiveAssignments, "resource %s has %d active assignments", res.EmployeeID, active)
		}
		removed, err := e.Repo.DeleteAssignmentsByResourceTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteResourceTx(ctx, tx, id); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityResource,
			EntityID:     id,
			ActivityType: domain.ActivityDelete,
			ResourceID:   id,
			ActorID:      actorID,
			Description:  fmt.Sprintf("Resource %s (%s) deleted", res.Name, res.EmployeeID),
			Payload:      events.EventPayload{"employee_id": res.EmployeeID, "assignments_removed": removed},
		})
	})
}
