package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"staffline/internal/config"
	"staffline/internal/db"
	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/migrate"
	"staffline/internal/repo"
)

const today = "2025-03-10"

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Admin   domain.User
	Manager domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	admin, created, err := eng.EnsureAdmin(ctx, config.BootstrapUser{ID: "admin", Name: "Admin", Email: "admin@example.com"})
	require.NoError(t, err)
	require.True(t, created)
	manager, err := eng.CreateUser(ctx, engine.UserCreateOptions{
		ID: "dm", Name: "Dana Manager", Email: "dana@example.com", Type: domain.UserTypeDevManager, ActorID: admin.ID,
	})
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx, Admin: admin, Manager: manager}
}

func day(t *testing.T, offset int) string {
	t.Helper()
	d, err := engine.AddDays(today, offset)
	require.NoError(t, err)
	return d
}

func (env testEnv) resource(t *testing.T, name string) domain.Resource {
	t.Helper()
	res, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{Name: name, Email: name + "@example.com", ActorID: env.Admin.ID})
	require.NoError(t, err)
	return res
}

func (env testEnv) project(t *testing.T, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: name, ClientName: "Acme", OwnerID: env.Manager.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	return p
}

func (env testEnv) assign(t *testing.T, res domain.Resource, p domain.Project, role, start, end string) domain.Assignment {
	t.Helper()
	a, err := env.Engine.AssignResource(env.Ctx, engine.AssignOptions{
		ResourceID: res.ID, ProjectID: p.ID, Role: role, StartDate: start, EndDate: end, ActorID: env.Admin.ID, Today: start,
	})
	require.NoError(t, err)
	return a
}

func (env testEnv) resourceStatus(t *testing.T, id string) string {
	t.Helper()
	res, err := env.Engine.Repo.GetResource(env.Ctx, id)
	require.NoError(t, err)
	return res.Status
}

func (env testEnv) projectStatus(t *testing.T, id string) string {
	t.Helper()
	p, err := env.Engine.Repo.GetProject(env.Ctx, id)
	require.NoError(t, err)
	return p.Status
}

func (env testEnv) assignmentStatus(t *testing.T, id string) string {
	t.Helper()
	a, err := env.Engine.Repo.GetAssignment(env.Ctx, id)
	require.NoError(t, err)
	return a.Status
}

// requireConsistent checks the cross-entity status rules over the whole store.
func (env testEnv) requireConsistent(t *testing.T) {
	t.Helper()
	active, err := env.Engine.Repo.ListAssignments(env.Ctx, repo.AssignmentFilters{Status: domain.AssignmentActive})
	require.NoError(t, err)
	byResource := map[string]int{}
	byProject := map[string]int{}
	triples := map[string]bool{}
	for _, a := range active {
		byResource[a.ResourceID]++
		byProject[a.ProjectID]++
		key := a.ResourceID + "|" + a.ProjectID + "|" + a.Role
		require.False(t, triples[key], "two active assignments for %s", key)
		triples[key] = true
	}
	resources, err := env.Engine.Repo.ListResources(env.Ctx, repo.ResourceFilters{})
	require.NoError(t, err)
	for _, res := range resources {
		require.Equal(t, byResource[res.ID] > 0, res.Status == domain.ResourceAssigned, "resource %s status %s", res.EmployeeID, res.Status)
	}
	projects, err := env.Engine.Repo.ListProjects(env.Ctx, repo.ProjectFilters{})
	require.NoError(t, err)
	for _, p := range projects {
		all, err := env.Engine.Repo.ListAssignments(env.Ctx, repo.AssignmentFilters{ProjectID: p.ID})
		require.NoError(t, err)
		if len(all) == 0 && !p.EverStaffed {
			require.NotEqual(t, domain.ProjectClosed, p.Status, "unstaffed project %s closed", p.Name)
			continue
		}
		require.Equal(t, byProject[p.ID] == 0, p.Status == domain.ProjectClosed, "project %s status %s", p.Name, p.Status)
	}
}

func TestAssignResourceRecordsApprovedRequest(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")

	a := env.assign(t, r, p, "QA", today, day(t, 30))
	require.Equal(t, domain.AssignmentActive, a.Status)
	require.Equal(t, domain.ResourceAssigned, env.resourceStatus(t, r.ID))
	require.Equal(t, domain.ProjectOngoing, env.projectStatus(t, p.ID))

	reqs, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilters{Type: domain.RequestAssign})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, domain.RequestApproved, reqs[0].Status)
	require.Equal(t, env.Admin.ID, reqs[0].RequesterID)
	require.Equal(t, "QA", reqs[0].Role)
	require.Equal(t, a.ID, *reqs[0].AssignmentID)
	env.requireConsistent(t)
}

func TestAssignResourcePreconditions(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	other := env.resource(t, "olga")
	p := env.project(t, "Portal")
	env.assign(t, r, p, "QA", today, day(t, 30))

	opts := engine.AssignOptions{ResourceID: r.ID, ProjectID: p.ID, Role: "QA", StartDate: day(t, 1), EndDate: day(t, 10), ActorID: env.Admin.ID}
	_, err := env.Engine.AssignResource(env.Ctx, opts)
	require.ErrorIs(t, err, engine.ErrDuplicateActiveAssignment)
	require.ErrorIs(t, err, engine.ErrInvalidState)

	past := opts
	past.Role = "Dev"
	past.StartDate = day(t, -1)
	_, err = env.Engine.AssignResource(env.Ctx, past)
	require.ErrorIs(t, err, engine.ErrInvalidDateRange)

	inverted := opts
	inverted.Role = "Dev"
	inverted.EndDate = opts.StartDate
	_, err = env.Engine.AssignResource(env.Ctx, inverted)
	require.ErrorIs(t, err, engine.ErrInvalidDateRange)

	missing := opts
	missing.ResourceID = "nope"
	missing.Role = "Dev"
	_, err = env.Engine.AssignResource(env.Ctx, missing)
	require.ErrorIs(t, err, engine.ErrNotFound)

	_, err = env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestAssign, ResourceID: other.ID, ProjectID: p.ID, Role: "Dev",
		StartDate: day(t, 1), EndDate: day(t, 20), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	pending := opts
	pending.ResourceID = other.ID
	pending.Role = "Dev"
	_, err = env.Engine.AssignResource(env.Ctx, pending)
	require.ErrorIs(t, err, engine.ErrDuplicatePendingRequest)
	env.requireConsistent(t)
}

func TestAssignToClosedProjectFails(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", today, day(t, 30))
	_, err := env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: a.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ProjectClosed, env.projectStatus(t, p.ID))

	_, err = env.Engine.AssignResource(env.Ctx, engine.AssignOptions{
		ResourceID: r.ID, ProjectID: p.ID, Role: "QA", StartDate: today, EndDate: day(t, 5), ActorID: env.Admin.ID,
	})
	require.ErrorIs(t, err, engine.ErrProjectClosed)
}

func TestReleaseOnlyAssignmentClosesProject(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", today, day(t, 30))

	released, err := env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{
		AssignmentID: a.ID, ReleaseDate: today, Reason: "client paused", ActorID: env.Admin.ID,
	})
	require.NoError(t, err)
	require.Equal(t, domain.AssignmentReleased, released.Status)
	require.Equal(t, today, released.EndDate)
	require.Equal(t, domain.ResourceAvailable, env.resourceStatus(t, r.ID))
	require.Equal(t, domain.ProjectClosed, env.projectStatus(t, p.ID))

	closes, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, repo.EventFilters{ProjectID: p.ID, ActivityType: domain.ActivityClose})
	require.NoError(t, err)
	require.Len(t, closes, 1)
	require.Equal(t, env.Admin.ID, closes[0].ActorID)
	require.False(t, closes[0].Automatic)

	_, err = env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: a.ID, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrAssignmentNotActive)
	env.requireConsistent(t)
}

func TestReleaseKeepsResourceAssignedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p1 := env.project(t, "Portal")
	p2 := env.project(t, "Billing")
	a1 := env.assign(t, r, p1, "QA", today, day(t, 30))
	env.assign(t, r, p2, "Dev", today, day(t, 60))

	_, err := env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: a1.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ResourceAssigned, env.resourceStatus(t, r.ID))
	require.Equal(t, domain.ProjectClosed, env.projectStatus(t, p1.ID))
	require.Equal(t, domain.ProjectOngoing, env.projectStatus(t, p2.ID))
	env.requireConsistent(t)
}

func TestExtendAssignment(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", today, day(t, 30))

	extended, err := env.Engine.ExtendAssignment(env.Ctx, engine.ExtendOptions{
		AssignmentID: a.ID, NewEndDate: day(t, 90), Reason: "phase two", ActorID: env.Admin.ID,
	})
	require.NoError(t, err)
	require.Equal(t, day(t, 90), extended.EndDate)
	require.Equal(t, domain.AssignmentActive, extended.Status)

	reqs, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilters{Type: domain.RequestExtend})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, day(t, 30), reqs[0].CurrentEndDate)
	require.Equal(t, day(t, 90), reqs[0].NewEndDate)
	require.Equal(t, domain.RequestApproved, reqs[0].Status)

	_, err = env.Engine.ExtendAssignment(env.Ctx, engine.ExtendOptions{AssignmentID: a.ID, NewEndDate: a.StartDate, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrInvalidDateRange)

	_, err = env.Engine.ExtendAssignment(env.Ctx, engine.ExtendOptions{AssignmentID: "missing", NewEndDate: day(t, 5), ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestReconciliationExpiresPastAssignments(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", "2025-01-02", day(t, -1))

	report, err := env.Engine.RunReconciliation(env.Ctx, "")
	require.NoError(t, err)
	require.Equal(t, today, report.Today)
	require.Equal(t, 1, report.Expired)
	require.Equal(t, 1, report.Synced)
	require.Equal(t, 1, report.Closed)
	require.Equal(t, 3, report.Corrections)

	require.Equal(t, domain.AssignmentExpired, env.assignmentStatus(t, a.ID))
	require.Equal(t, domain.ResourceAvailable, env.resourceStatus(t, r.ID))
	require.Equal(t, domain.ProjectClosed, env.projectStatus(t, p.ID))
	env.requireConsistent(t)

	auto := true
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, repo.EventFilters{Automatic: &auto})
	require.NoError(t, err)
	require.Len(t, evs, 3)
	for _, ev := range evs {
		require.Equal(t, domain.SystemActor, ev.ActorID)
	}

	again, err := env.Engine.RunReconciliation(env.Ctx, "")
	require.NoError(t, err)
	require.Zero(t, again.Corrections)
}

func TestReconciliationDefersPendingExtend(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", "2025-01-02", day(t, -3))

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestExtend, AssignmentID: a.ID, NewEndDate: day(t, 40), Reason: "more testing", ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, req.Status)
	require.Equal(t, day(t, -3), req.CurrentEndDate)

	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Zero(t, report.Corrections)
	require.Equal(t, domain.AssignmentActive, env.assignmentStatus(t, a.ID))

	_, err = env.Engine.RejectRequest(env.Ctx, engine.RejectOptions{RequestID: req.ID, Reason: "budget", ActorID: env.Admin.ID})
	require.NoError(t, err)

	report, err = env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Expired)
	require.Equal(t, domain.AssignmentExpired, env.assignmentStatus(t, a.ID))
	env.requireConsistent(t)
}

func TestApprovedExtendKeepsAssignmentActive(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", "2025-01-02", day(t, -3))

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestExtend, AssignmentID: a.ID, NewEndDate: day(t, 40), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	_, err = env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)

	approved, err := env.Engine.ApproveRequest(env.Ctx, engine.ApproveOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, approved.Status)
	require.Equal(t, env.Admin.ID, approved.DecidedBy)

	got, err := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, day(t, 40), got.EndDate)
	require.Equal(t, domain.AssignmentActive, got.Status)

	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Zero(t, report.Corrections)
	env.requireConsistent(t)
}

func TestReconciliationRepairsDrift(t *testing.T) {
	env := newTestEnv(t)
	r1, r2, r3 := env.resource(t, "ravi"), env.resource(t, "olga"), env.resource(t, "ines")
	p1, p2, p3 := env.project(t, "Portal"), env.project(t, "Billing"), env.project(t, "Search")
	env.assign(t, r1, p1, "QA", today, day(t, 30))
	a2 := env.assign(t, r2, p2, "Dev", today, day(t, 30))
	a3 := env.assign(t, r3, p3, "Ops", today, day(t, 30))

	exec := func(query string, args ...any) {
		_, err := env.Engine.DB.ExecContext(env.Ctx, query, args...)
		require.NoError(t, err)
	}
	exec(`UPDATE resources SET status='AVAILABLE' WHERE id=?`, r1.ID)
	exec(`UPDATE assignments SET status='EXPIRED' WHERE id=?`, a2.ID)
	exec(`UPDATE projects SET status='CLOSED' WHERE id=?`, p3.ID)

	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Activated)
	require.Equal(t, 1, report.Released)
	require.Equal(t, 2, report.Synced)
	require.Equal(t, 4, report.Corrections)

	require.Equal(t, domain.ResourceAssigned, env.resourceStatus(t, r1.ID))
	require.Equal(t, domain.AssignmentActive, env.assignmentStatus(t, a2.ID))
	require.Equal(t, domain.AssignmentReleased, env.assignmentStatus(t, a3.ID))
	require.Equal(t, domain.ResourceAvailable, env.resourceStatus(t, r3.ID))
	env.requireConsistent(t)

	again, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Zero(t, again.Corrections)
}

func TestReconciliationClosesProjectsLeftOpen(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", today, day(t, 30))
	_, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE assignments SET status='RELEASED' WHERE id=?`, a.ID)
	require.NoError(t, err)

	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Closed)
	require.Equal(t, domain.ProjectClosed, env.projectStatus(t, p.ID))

	closes, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, repo.EventFilters{ActivityType: domain.ActivityAutoClose})
	require.NoError(t, err)
	require.Len(t, closes, 1)
	env.requireConsistent(t)
}

func TestUnstaffedProjectIsNeverClosed(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "Portal")
	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Zero(t, report.Corrections)
	closed, err := env.Engine.MaybeCloseProject(env.Ctx, p.ID, "")
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, domain.ProjectOngoing, env.projectStatus(t, p.ID))
}

func TestApproveRequestOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestAssign, ResourceID: r.ID, ProjectID: p.ID, Role: "QA",
		StartDate: today, EndDate: day(t, 30), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)

	_, err = env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestAssign, ResourceID: r.ID, ProjectID: p.ID, Role: "QA",
		StartDate: today, EndDate: day(t, 20), ActorID: env.Manager.ID,
	})
	require.ErrorIs(t, err, engine.ErrDuplicatePendingRequest)

	approved, err := env.Engine.ApproveRequest(env.Ctx, engine.ApproveOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, approved.Status)
	require.NotNil(t, approved.AssignmentID)
	require.Equal(t, domain.ResourceAssigned, env.resourceStatus(t, r.ID))

	_, err = env.Engine.ApproveRequest(env.Ctx, engine.ApproveOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrRequestNotPending)
	require.ErrorIs(t, err, engine.ErrInvalidState)
	_, err = env.Engine.RejectRequest(env.Ctx, engine.RejectOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrRequestNotPending)

	assigns, err := env.Engine.Repo.ListAssignments(env.Ctx, repo.AssignmentFilters{ProjectID: p.ID})
	require.NoError(t, err)
	require.Len(t, assigns, 1)
	env.requireConsistent(t)
}

func TestApproveAssignRechecksClosedProject(t *testing.T) {
	env := newTestEnv(t)
	r1, r2 := env.resource(t, "ravi"), env.resource(t, "olga")
	p := env.project(t, "Portal")
	a := env.assign(t, r1, p, "QA", today, day(t, 30))
	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestAssign, ResourceID: r2.ID, ProjectID: p.ID, Role: "Dev",
		StartDate: day(t, 1), EndDate: day(t, 30), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	_, err = env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: a.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)

	_, err = env.Engine.ApproveRequest(env.Ctx, engine.ApproveOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrProjectClosed)

	stored, err := env.Engine.Repo.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, stored.Status)
	require.Equal(t, domain.ResourceAvailable, env.resourceStatus(t, r2.ID))
	env.requireConsistent(t)
}

func TestApproveProjectRequest(t *testing.T) {
	env := newTestEnv(t)
	r1, r2 := env.resource(t, "ravi"), env.resource(t, "olga")

	_, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestProject, ProjectName: "Atlas", ClientName: "Globex", ActorID: env.Manager.ID,
		Plan: []domain.PlanItem{
			{ResourceID: r1.ID, Role: "Dev", StartDate: today, EndDate: day(t, 60)},
			{ResourceID: r1.ID, Role: "Dev", StartDate: day(t, 1), EndDate: day(t, 30)},
		},
	})
	require.ErrorIs(t, err, engine.ErrDuplicateActiveAssignment)

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestProject, ProjectName: "Atlas", ClientName: "Globex", Description: "mobile app",
		ActorID: env.Manager.ID,
		Plan: []domain.PlanItem{
			{ResourceID: r1.ID, Role: "Dev", StartDate: today, EndDate: day(t, 60)},
			{ResourceID: r2.ID, Role: "QA", StartDate: day(t, 1), EndDate: day(t, 30)},
		},
	})
	require.NoError(t, err)
	require.Len(t, req.Plan, 2)

	approved, err := env.Engine.ApproveRequest(env.Ctx, engine.ApproveOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.NotNil(t, approved.ProjectID)

	p, err := env.Engine.Repo.GetProject(env.Ctx, *approved.ProjectID)
	require.NoError(t, err)
	require.Equal(t, "Atlas", p.Name)
	require.Equal(t, env.Manager.ID, p.OwnerID)
	require.Equal(t, domain.ProjectOngoing, p.Status)
	require.True(t, p.EverStaffed)

	assigns, err := env.Engine.Repo.ListAssignments(env.Ctx, repo.AssignmentFilters{ProjectID: p.ID, Status: domain.AssignmentActive})
	require.NoError(t, err)
	require.Len(t, assigns, 2)
	require.Equal(t, domain.ResourceAssigned, env.resourceStatus(t, r1.ID))
	require.Equal(t, domain.ResourceAssigned, env.resourceStatus(t, r2.ID))
	env.requireConsistent(t)
}

func TestApproveReleaseRequest(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", today, day(t, 30))

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestRelease, AssignmentID: a.ID, NewEndDate: day(t, 5), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	_, err = env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestExtend, AssignmentID: a.ID, NewEndDate: day(t, 50), ActorID: env.Manager.ID,
	})
	require.ErrorIs(t, err, engine.ErrDuplicatePendingRequest)

	_, err = env.Engine.ApproveRequest(env.Ctx, engine.ApproveOptions{RequestID: req.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	got, err := env.Engine.Repo.GetAssignment(env.Ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AssignmentReleased, got.Status)
	require.Equal(t, day(t, 5), got.EndDate)
	require.Equal(t, domain.ProjectClosed, env.projectStatus(t, p.ID))
	env.requireConsistent(t)
}

func TestRejectTouchesOnlyTheRequest(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestAssign, ResourceID: r.ID, ProjectID: p.ID, Role: "QA",
		StartDate: today, EndDate: day(t, 30), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	rejected, err := env.Engine.RejectRequest(env.Ctx, engine.RejectOptions{RequestID: req.ID, Reason: "no budget", ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.RequestRejected, rejected.Status)
	require.Equal(t, "no budget", rejected.RejectionReason)
	require.Equal(t, domain.ResourceAvailable, env.resourceStatus(t, r.ID))

	assigns, err := env.Engine.Repo.ListAssignments(env.Ctx, repo.AssignmentFilters{ProjectID: p.ID})
	require.NoError(t, err)
	require.Empty(t, assigns)
}

func TestProjectStatusEdits(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	hold := domain.ProjectHold
	updated, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &hold, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ProjectHold, updated.Status)

	closed := domain.ProjectClosed
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &closed, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrProjectTerminal)

	a := env.assign(t, r, p, "QA", today, day(t, 30))
	_, err = env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: a.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	ongoing := domain.ProjectOngoing
	_, err = env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{ID: p.ID, Status: &ongoing, ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrProjectTerminal)
}

func TestDeleteGuards(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", today, day(t, 30))

	require.ErrorIs(t, env.Engine.DeleteResource(env.Ctx, r.ID, env.Admin.ID), engine.ErrHasActiveAssignments)
	require.ErrorIs(t, env.Engine.DeleteProject(env.Ctx, p.ID, env.Admin.ID), engine.ErrHasActiveAssignments)

	_, err := env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: a.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteResource(env.Ctx, r.ID, env.Admin.ID))

	_, err = env.Engine.Repo.GetResource(env.Ctx, r.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	reqs, err := env.Engine.Repo.ListRequests(env.Ctx, repo.RequestFilters{ProjectID: p.ID})
	require.NoError(t, err)
	require.NotEmpty(t, reqs)
	for _, req := range reqs {
		require.Nil(t, req.ResourceID)
		require.Nil(t, req.AssignmentID)
	}
	require.NoError(t, env.Engine.DeleteProject(env.Ctx, p.ID, env.Admin.ID))
}

func TestCreateResourceEmployeeIDs(t *testing.T) {
	env := newTestEnv(t)
	r1 := env.resource(t, "ravi")
	r2 := env.resource(t, "olga")
	require.Equal(t, "EMP001", r1.EmployeeID)
	require.Equal(t, "EMP002", r2.EmployeeID)
	require.Equal(t, domain.ResourceAvailable, r1.Status)

	_, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{Name: "Ravi Two", Email: "RAVI@example.com", ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrDuplicateEmail)

	require.NoError(t, env.Engine.DeleteResource(env.Ctx, r1.ID, env.Admin.ID))
	r3 := env.resource(t, "ines")
	require.Equal(t, "EMP003", r3.EmployeeID)
}

func TestDashboardAndEndingSoon(t *testing.T) {
	env := newTestEnv(t)
	r1, r2 := env.resource(t, "ravi"), env.resource(t, "olga")
	env.resource(t, "ines")
	p := env.project(t, "Portal")
	soon := env.assign(t, r1, p, "QA", today, day(t, 5))
	env.assign(t, r2, p, "Dev", today, day(t, 30))
	_, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestExtend, AssignmentID: soon.ID, NewEndDate: day(t, 20), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)

	stats, err := env.Engine.Dashboard(env.Ctx, env.Admin)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalResources)
	require.Equal(t, 1, stats.AvailableResources)
	require.Equal(t, 1, stats.OngoingProjects)
	require.Equal(t, 1, stats.PendingRequests)

	other, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: "Omar", Email: "omar@example.com", ActorID: env.Admin.ID})
	require.NoError(t, err)
	stats, err = env.Engine.Dashboard(env.Ctx, other)
	require.NoError(t, err)
	require.Zero(t, stats.OngoingProjects)
	require.Zero(t, stats.PendingRequests)

	items, err := env.Engine.EndingSoon(env.Ctx, env.Manager, 7, today)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, soon.ID, items[0].ID)
	require.Equal(t, 5, items[0].DaysLeft)
	require.Equal(t, "Portal", items[0].ProjectName)
}

func TestReconciliationDefersPendingExtendOnClosedProject(t *testing.T) {
	env := newTestEnv(t)
	r := env.resource(t, "ravi")
	p := env.project(t, "Portal")
	a := env.assign(t, r, p, "QA", "2025-01-02", day(t, -3))

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestExtend, AssignmentID: a.ID, NewEndDate: day(t, 40), ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	_, err = env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET status='CLOSED' WHERE id=?`, p.ID)
	require.NoError(t, err)

	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Zero(t, report.Released)
	require.Zero(t, report.Expired)
	require.Equal(t, domain.AssignmentActive, env.assignmentStatus(t, a.ID))

	_, err = env.Engine.RejectRequest(env.Ctx, engine.RejectOptions{RequestID: req.ID, Reason: "project is over", ActorID: env.Admin.ID})
	require.NoError(t, err)

	report, err = env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Expired)
	require.Zero(t, report.Released)
	require.Equal(t, domain.AssignmentExpired, env.assignmentStatus(t, a.ID))
	require.Equal(t, domain.ResourceAvailable, env.resourceStatus(t, r.ID))
	env.requireConsistent(t)
}

func TestReconciliationSkipsMalformedRow(t *testing.T) {
	env := newTestEnv(t)
	broken := env.assign(t, env.resource(t, "ravi"), env.project(t, "Portal"), "QA", "2025-01-02", day(t, 10))
	good := env.assign(t, env.resource(t, "ines"), env.project(t, "Billing"), "Dev", "2025-01-02", day(t, -1))
	_, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE assignments SET end_date='garbage' WHERE id=?`, broken.ID)
	require.NoError(t, err)

	report, err := env.Engine.RunReconciliation(env.Ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Expired)
	require.Equal(t, domain.AssignmentExpired, env.assignmentStatus(t, good.ID))
	require.Equal(t, domain.AssignmentActive, env.assignmentStatus(t, broken.ID))
}

func TestWriteLockSurfacesAsConflict(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: dir, BusyTimeoutMS: 50})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, config.Default())
	admin, _, err := eng.EnsureAdmin(ctx, config.BootstrapUser{ID: "admin", Email: "admin@example.com"})
	require.NoError(t, err)

	other, err := db.Open(db.Config{Workspace: dir, BusyTimeoutMS: 50})
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	holder, err := other.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = holder.ExecContext(ctx, `UPDATE users SET name=name WHERE id=?`, admin.ID)
	require.NoError(t, err)

	opts := engine.ResourceCreateOptions{Name: "Ravi", Email: "ravi@example.com", ActorID: admin.ID}
	_, err = eng.CreateResource(ctx, opts)
	require.Error(t, err)
	require.True(t, engine.IsConflict(err), "got %v", err)

	require.NoError(t, holder.Rollback())
	res, err := eng.CreateResource(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, "EMP001", res.EmployeeID)
}

func TestReleaseBeforeStartDefaultsToStartDate(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "Portal")
	upcoming := env.assign(t, env.resource(t, "ravi"), p, "QA", day(t, 5), day(t, 30))
	later := env.assign(t, env.resource(t, "ines"), p, "Dev", day(t, 7), day(t, 30))

	got, err := env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: upcoming.ID, ActorID: env.Admin.ID})
	require.NoError(t, err)
	require.Equal(t, domain.AssignmentReleased, got.Status)
	require.Equal(t, day(t, 5), got.EndDate)

	req, err := env.Engine.SubmitRequest(env.Ctx, engine.SubmitOptions{
		Type: domain.RequestRelease, AssignmentID: later.ID, ActorID: env.Manager.ID,
	})
	require.NoError(t, err)
	require.Equal(t, day(t, 7), req.NewEndDate)

	_, err = env.Engine.ReleaseAssignment(env.Ctx, engine.ReleaseOptions{AssignmentID: later.ID, ReleaseDate: day(t, 6), ActorID: env.Admin.ID})
	require.ErrorIs(t, err, engine.ErrInvalidDateRange)
}

func TestDeleteUserGuards(t *testing.T) {
	env := newTestEnv(t)
	env.project(t, "Portal")

	err := env.Engine.DeleteUser(env.Ctx, env.Manager.ID, env.Admin.ID)
	require.ErrorIs(t, err, engine.ErrUserOwnsProjects)
	err = env.Engine.DeleteUser(env.Ctx, env.Admin.ID, env.Admin.ID)
	require.ErrorIs(t, err, engine.ErrInvalidInput)
	err = env.Engine.DeleteUser(env.Ctx, "nobody", env.Admin.ID)
	require.ErrorIs(t, err, engine.ErrNotFound)

	idle, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{Name: "Omar", Email: "omar@example.com", ActorID: env.Admin.ID})
	require.NoError(t, err)
	_, raw, err := env.Engine.CreateAPIKey(env.Ctx, idle.ID, "ci")
	require.NoError(t, err)

	require.NoError(t, env.Engine.DeleteUser(env.Ctx, idle.ID, env.Admin.ID))
	_, err = env.Engine.Repo.GetUser(env.Ctx, idle.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(raw))
	require.ErrorIs(t, err, repo.ErrNotFound)

	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, 0, repo.EventFilters{EntityType: domain.EntityUser})
	require.NoError(t, err)
	require.Equal(t, domain.ActivityDelete, evs[0].ActivityType)
}
