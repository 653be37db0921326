package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"staffline/internal/config"
	"staffline/internal/domain"
	"staffline/internal/events"
	"staffline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Log    *logrus.Entry
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Log:    logrus.WithField("component", "engine"),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.WithField("component", "engine")
}

// today resolves the calendar date an operation runs against. An explicit
// override wins over the injected clock.
func (e Engine) today(override string) (string, error) {
	if override == "" {
		return e.now().UTC().Format(domain.DateLayout), nil
	}
	if _, err := parseDate("today", override); err != nil {
		return "", err
	}
	return override, nil
}

func parseDate(field, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, invalid(ErrInvalidInput, "%s is required", field)
	}
	t, err := time.Parse(domain.DateLayout, v)
	if err != nil {
		return time.Time{}, invalid(ErrInvalidInput, "%s must be YYYY-MM-DD, got %q", field, v)
	}
	return t, nil
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := parseDate("date", date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(domain.DateLayout), nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalid(ErrInvalidInput, "%s is required", field)
	}
	return nil
}

// withTx runs fn in one transaction and commits it. Lock errors from the store
// surface as ConflictError.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

// emit appends an audit event inside tx, stamped with the engine clock.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, rec events.Record) error {
	w := e.Events
	w.Now = e.now
	return w.Append(ctx, tx, rec)
}

func newID() string {
	return uuid.NewString()
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// resolveActor returns the user behind actorID. The system actor is accepted
// without a lookup.
func (e Engine) resolveActor(ctx context.Context, tx *sql.Tx, actorID string) (domain.User, error) {
	if actorID == "" {
		return domain.User{}, invalid(ErrInvalidInput, "actor is required")
	}
	if actorID == domain.SystemActor {
		return domain.User{ID: domain.SystemActor, Name: "System", Type: domain.UserTypeAdmin}, nil
	}
	u, err := e.Repo.GetUserTx(ctx, tx, actorID)
	if err != nil {
		return u, notFound("user", actorID, err)
	}
	return u, nil
}

// syncResourceTx sets the resource status from its ACTIVE assignment count and
// reports whether the row changed.
func (e Engine) syncResourceTx(ctx context.Context, tx *sql.Tx, resourceID string) (bool, string, error) {
	res, err := e.Repo.GetResourceTx(ctx, tx, resourceID)
	if err != nil {
		return false, "", notFound("resource", resourceID, err)
	}
	n, err := e.Repo.CountActiveByResourceTx(ctx, tx, resourceID)
	if err != nil {
		return false, "", err
	}
	want := domain.ResourceAvailable
	if n > 0 {
		want = domain.ResourceAssigned
	}
	if res.Status == want {
		return false, want, nil
	}
	if err := e.Repo.SetResourceStatusTx(ctx, tx, resourceID, want, e.stamp()); err != nil {
		return false, "", fmt.Errorf("set resource status: %w", err)
	}
	return true, want, nil
}
