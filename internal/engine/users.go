package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"staffline/internal/config"
	"staffline/internal/domain"
	"staffline/internal/events"
	"staffline/internal/repo"
)

type UserCreateOptions struct {
	ID      string
	Name    string
	Email   string
	Type    string
	ActorID string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	name := strings.TrimSpace(opts.Name)
	if err := required("name", name); err != nil {
		return domain.User{}, err
	}
	email, err := normalizeEmail(opts.Email)
	if err != nil {
		return domain.User{}, err
	}
	userType := strings.ToUpper(strings.TrimSpace(opts.Type))
	if userType == "" {
		userType = domain.UserTypeDevManager
	}
	if userType != domain.UserTypeAdmin && userType != domain.UserTypeDevManager {
		return domain.User{}, invalid(ErrInvalidInput, "unknown user type %q", opts.Type)
	}
	u := domain.User{ID: strings.TrimSpace(opts.ID), Name: name, Email: email, Type: userType, CreatedAt: e.stamp()}
	if u.ID == "" {
		u.ID = newID()
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, opts.ActorID); err != nil {
			return err
		}
		if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
			if isUniqueViolation(err) {
				return invalid(ErrDuplicateEmail, "user %s or email %s already exists", u.ID, u.Email)
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityUser,
			EntityID:     u.ID,
			ActivityType: domain.ActivityCreate,
			ActorID:      opts.ActorID,
			Description:  fmt.Sprintf("User %s (%s) created", u.Name, u.Type),
			Payload:      events.EventPayload{"email": u.Email, "type": u.Type},
		})
	})
	return u, err
}

// DeleteUser removes a user who owns no projects. Users cannot delete
// themselves. Requests they filed keep their requester id.
func (e Engine) DeleteUser(ctx context.Context, id, actorID string) error {
	if err := required("user_id", id); err != nil {
		return err
	}
	if id == actorID {
		return invalid(ErrInvalidInput, "user %s cannot delete itself", id)
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.resolveActor(ctx, tx, actorID); err != nil {
			return err
		}
		u, err := e.Repo.GetUserTx(ctx, tx, id)
		if err != nil {
			return notFound("user", id, err)
		}
		owned, err := e.Repo.CountProjectsOwnedTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if owned > 0 {
			return invalid(ErrUserOwnsProjects, "user %s owns %d projects", u.ID, owned)
		}
		if err := e.Repo.DeleteUserTx(ctx, tx, id); err != nil {
			return err
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityUser,
			EntityID:     u.ID,
			ActivityType: domain.ActivityDelete,
			ActorID:      actorID,
			Description:  fmt.Sprintf("User %s (%s) deleted", u.Name, u.Type),
			Payload:      events.EventPayload{"email": u.Email, "type": u.Type},
		})
	})
}

// EnsureAdmin seeds the bootstrap administrator. It is a no-op when a user
// with the same id already exists.
func (e Engine) EnsureAdmin(ctx context.Context, admin config.BootstrapUser) (domain.User, bool, error) {
	if admin.ID == "" || admin.Email == "" {
		return domain.User{}, false, invalid(ErrInvalidInput, "bootstrap admin requires id and email")
	}
	name := admin.Name
	if name == "" {
		name = admin.ID
	}
	u := domain.User{ID: admin.ID, Name: name, Email: admin.Email, Type: domain.UserTypeAdmin, CreatedAt: e.stamp()}
	var created bool
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = e.Repo.EnsureUserTx(ctx, tx, u)
		if err != nil || !created {
			return err
		}
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityUser,
			EntityID:     u.ID,
			ActivityType: domain.ActivityCreate,
			ActorID:      domain.SystemActor,
			Description:  fmt.Sprintf("Bootstrap administrator %s created", u.Name),
		})
	})
	if err != nil {
		return domain.User{}, false, err
	}
	stored, err := e.Repo.GetUser(ctx, admin.ID)
	return stored, created, err
}

// CreateAPIKey issues a new key for userID. The raw key is returned once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", notFound("user", userID, err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "sl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", classify(err)
	}
	return key, raw, nil
}
