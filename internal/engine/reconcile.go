package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"staffline/internal/domain"
	"staffline/internal/events"
	"staffline/internal/repo"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Today       string `json:"today"`
	Activated   int    `json:"activated"`
	Expired     int    `json:"expired"`
	Released    int    `json:"released"`
	Synced      int    `json:"synced"`
	Closed      int    `json:"closed"`
	Deferred    int    `json:"deferred"`
	Skipped     int    `json:"skipped"`
	Corrections int    `json:"corrections"`
	DurationMS  int64  `json:"duration_ms"`
}

func (r *ReconcileReport) total() {
	r.Corrections = r.Activated + r.Expired + r.Released + r.Synced + r.Closed
}

// RunReconciliation re-derives assignment, resource and project statuses from
// dates and counts. Every item is fixed in its own transaction, so the pass
// can be interrupted and rerun at any point. A failing item is logged and
// skipped.
func (e Engine) RunReconciliation(ctx context.Context, today string) (ReconcileReport, error) {
	started := e.now()
	today, err := e.today(today)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{Today: today}
	log := e.log().WithFields(logrus.Fields{"component": "reconcile", "today": today})

	assignmentIDs, err := e.Repo.AssignmentIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list assignments: %w", err)
	}
	for _, id := range assignmentIDs {
		if err := ctx.Err(); err != nil {
			report.total()
			return report, err
		}
		if err := e.reconcileAssignment(ctx, id, today, &report); err != nil {
			report.Skipped++
			log.WithError(err).WithField("assignment_id", id).Warn("assignment skipped")
		}
	}

	resourceIDs, err := e.Repo.ResourceIDs(ctx)
	if err != nil {
		report.total()
		return report, fmt.Errorf("list resources: %w", err)
	}
	for _, id := range resourceIDs {
		if err := ctx.Err(); err != nil {
			report.total()
			return report, err
		}
		if err := e.reconcileResource(ctx, id, &report); err != nil {
			report.Skipped++
			log.WithError(err).WithField("resource_id", id).Warn("resource skipped")
		}
	}

	projectIDs, err := e.Repo.OpenStaffedProjectIDs(ctx)
	if err != nil {
		report.total()
		return report, fmt.Errorf("list projects: %w", err)
	}
	for _, id := range projectIDs {
		if err := ctx.Err(); err != nil {
			report.total()
			return report, err
		}
		var closed bool
		err := e.withTx(ctx, func(tx *sql.Tx) error {
			var err error
			closed, err = e.maybeCloseProjectTx(ctx, tx, id, domain.SystemActor)
			return err
		})
		if err != nil {
			report.Skipped++
			log.WithError(err).WithField("project_id", id).Warn("project skipped")
			continue
		}
		if closed {
			report.Closed++
		}
	}

	report.total()
	report.DurationMS = e.now().Sub(started).Milliseconds()
	log.WithFields(logrus.Fields{
		"corrections": report.Corrections,
		"deferred":    report.Deferred,
		"skipped":     report.Skipped,
	}).Info("reconciliation finished")
	return report, nil
}

// reconcileAssignment applies the first matching rule to one assignment:
// reactivate a non-released row whose end date has not passed, expire an
// ACTIVE row whose end date has passed unless an EXTEND request is pending,
// release an ACTIVE row on a CLOSED project. A pending EXTEND wins over the
// CLOSED project rule.
func (e Engine) reconcileAssignment(ctx context.Context, id, today string, report *ReconcileReport) error {
	var outcome string
	var closed bool
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		outcome, closed = "", false
		a, err := e.Repo.GetAssignmentTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := time.Parse(domain.DateLayout, a.EndDate); err != nil {
			return fmt.Errorf("malformed end date %q", a.EndDate)
		}
		p, err := e.Repo.GetProjectTx(ctx, tx, a.ProjectID)
		if err != nil {
			return notFound("project", a.ProjectID, err)
		}

		if a.Status != domain.AssignmentReleased && a.Status != domain.AssignmentActive && a.EndDate >= today {
			if p.Status == domain.ProjectClosed {
				return nil
			}
			dup, err := e.Repo.ActiveTripleExistsTx(ctx, tx, a.ResourceID, a.ProjectID, a.Role, a.ID)
			if err != nil || dup {
				return err
			}
			if err := e.setAssignmentStatusTx(ctx, tx, a, domain.AssignmentActive, domain.ActivityAutoActivate,
				fmt.Sprintf("Assignment reactivated: end date %s has not passed", a.EndDate)); err != nil {
				return err
			}
			outcome = domain.ActivityAutoActivate
			return nil
		}

		if a.Status == domain.AssignmentActive && a.EndDate < today {
			pending, err := e.Repo.PendingForAssignmentTx(ctx, tx, a.ID, "", domain.RequestExtend)
			if err != nil {
				return err
			}
			if !pending {
				if err := e.setAssignmentStatusTx(ctx, tx, a, domain.AssignmentExpired, domain.ActivityAutoExpire,
					fmt.Sprintf("Assignment expired: end date %s passed", a.EndDate)); err != nil {
					return err
				}
				outcome = domain.ActivityAutoExpire
				closed, err = e.maybeCloseProjectTx(ctx, tx, a.ProjectID, domain.SystemActor)
				return err
			}
			outcome = "DEFERRED"
			return nil
		}

		if a.Status == domain.AssignmentActive && p.Status == domain.ProjectClosed {
			if err := e.setAssignmentStatusTx(ctx, tx, a, domain.AssignmentReleased, domain.ActivityAutoRelease,
				fmt.Sprintf("Assignment released: project %s is closed", p.Name)); err != nil {
				return err
			}
			outcome = domain.ActivityAutoRelease
		}
		return nil
	})
	if err != nil {
		return err
	}
	switch outcome {
	case domain.ActivityAutoActivate:
		report.Activated++
	case domain.ActivityAutoExpire:
		report.Expired++
	case domain.ActivityAutoRelease:
		report.Released++
	case "DEFERRED":
		report.Deferred++
	}
	if closed {
		report.Closed++
	}
	return nil
}

func (e Engine) setAssignmentStatusTx(ctx context.Context, tx *sql.Tx, a domain.Assignment, status, activity, desc string) error {
	if err := e.Repo.UpdateAssignmentTx(ctx, tx, a.ID, nil, &status, e.stamp()); err != nil {
		return err
	}
	return e.emit(ctx, tx, events.Record{
		EntityType:   domain.EntityAssignment,
		EntityID:     a.ID,
		ActivityType: activity,
		ProjectID:    a.ProjectID,
		ResourceID:   a.ResourceID,
		Role:         a.Role,
		ActorID:      domain.SystemActor,
		Description:  desc,
		Payload:      events.EventPayload{"from": a.Status, "to": status, "end_date": a.EndDate},
	})
}

func (e Engine) reconcileResource(ctx context.Context, id string, report *ReconcileReport) error {
	var synced bool
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		res, err := e.Repo.GetResourceTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		changed, status, err := e.syncResourceTx(ctx, tx, id)
		if err != nil || !changed {
			return err
		}
		synced = true
		return e.emit(ctx, tx, events.Record{
			EntityType:   domain.EntityResource,
			EntityID:     id,
			ActivityType: domain.ActivityAutoSync,
			ResourceID:   id,
			ActorID:      domain.SystemActor,
			Description:  fmt.Sprintf("Resource %s status corrected from %s to %s", res.Name, res.Status, status),
			Payload:      events.EventPayload{"from": res.Status, "to": status},
		})
	})
	if err == nil && synced {
		report.Synced++
	}
	return err
}
