package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"staffline/internal/app"
	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/engine/auth"
	"staffline/internal/repo"
	"staffline/internal/report"
)

func assignmentCmd() *cobra.Command {
	asg := &cobra.Command{
		Use:     "assignment",
		Aliases: []string{"asg"},
		Short:   "Direct staffing operations (admin)",
	}
	asg.AddCommand(assignCmd())
	asg.AddCommand(extendCmd())
	asg.AddCommand(releaseCmd())
	asg.AddCommand(assignmentListCmd())
	asg.AddCommand(assignmentShowCmd())
	return asg
}

func assignCmd() *cobra.Command {
	var opts engine.AssignOptions
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a resource to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermDirectExecute, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				opts.ActorID = actor.ID
				opts.Today = today()
				a, err := ws.Engine.AssignResource(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ResourceID, "resource", "", "resource id")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role on the project")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded on the request")
	return cmd
}

func extendCmd() *cobra.Command {
	var opts engine.ExtendOptions
	cmd := &cobra.Command{
		Use:   "extend <assignment-id>",
		Short: "Move an assignment's end date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermDirectExecute, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				opts.AssignmentID = args[0]
				opts.ActorID = actor.ID
				opts.Today = today()
				a, err := ws.Engine.ExtendAssignment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.NewEndDate, "end", "", "new end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded on the request")
	return cmd
}

func releaseCmd() *cobra.Command {
	var opts engine.ReleaseOptions
	cmd := &cobra.Command{
		Use:   "release <assignment-id>",
		Short: "End an assignment early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermDirectExecute, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				opts.AssignmentID = args[0]
				opts.ActorID = actor.ID
				opts.Today = today()
				a, err := ws.Engine.ReleaseAssignment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReleaseDate, "date", "", "release date (defaults to today)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded on the request")
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var f repo.AssignmentFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Repo.ListAssignmentDetails(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, table.Row{"ID", "Resource", "Project", "Role", "Start", "End", "Status"}, func(tw table.Writer) {
					for _, a := range items {
						tw.AppendRow(table.Row{a.ID, a.ResourceName, a.ProjectName, a.Role, a.StartDate, a.EndDate, a.Status})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "ACTIVE, RELEASED or EXPIRED")
	cmd.Flags().StringVar(&f.ResourceID, "resource", "", "resource filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func assignmentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				a, err := ws.Engine.Repo.GetAssignment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Submit and decide staffing requests",
	}
	req.AddCommand(requestSubmitCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestApproveCmd())
	req.AddCommand(requestRejectCmd())
	return req
}

// parsePlan reads resource:role:start:end items.
func parsePlan(items []string) ([]domain.PlanItem, error) {
	plan := make([]domain.PlanItem, 0, len(items))
	for _, item := range items {
		parts := strings.Split(item, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("plan item %q: want resource:role:start:end", item)
		}
		plan = append(plan, domain.PlanItem{ResourceID: parts[0], Role: parts[1], StartDate: parts[2], EndDate: parts[3]})
	}
	return plan, nil
}

func requestSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	var plan []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an ASSIGN, EXTEND, RELEASE or PROJECT request",
		Example: `  sl request submit --type ASSIGN --resource r1 --project p1 --role Dev --start 2025-01-01 --end 2025-06-30
  sl request submit --type EXTEND --assignment a1 --new-end 2025-09-30
  sl request submit --type PROJECT --name Apollo --client Acme --plan r1:Dev:2025-01-01:2025-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermSubmitRequests, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				items, err := parsePlan(plan)
				if err != nil {
					return err
				}
				opts.Plan = items
				opts.ActorID = actor.ID
				opts.Today = today()
				req, err := ws.Engine.SubmitRequest(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Type, "type", "", "ASSIGN, EXTEND, RELEASE or PROJECT")
	cmd.Flags().StringVar(&opts.ResourceID, "resource", "", "resource id (ASSIGN)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id (ASSIGN)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role (ASSIGN)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (ASSIGN)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (ASSIGN)")
	cmd.Flags().StringVar(&opts.AssignmentID, "assignment", "", "assignment id (EXTEND, RELEASE)")
	cmd.Flags().StringVar(&opts.NewEndDate, "new-end", "", "new end or release date (EXTEND, RELEASE)")
	cmd.Flags().StringVar(&opts.ProjectName, "name", "", "project name (PROJECT)")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name (PROJECT)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "project description (PROJECT)")
	cmd.Flags().StringArrayVar(&plan, "plan", nil, "staffing plan item resource:role:start:end (PROJECT, repeatable)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "justification")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), "", func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				if !auth.Has(actor, auth.PermViewAllRecords) {
					f.RequesterID = actor.ID
				}
				items, err := ws.Engine.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, table.Row{"ID", "Type", "Status", "Requester", "Project", "Created"}, func(tw table.Writer) {
					for _, r := range items {
						project := deref(r.ProjectID)
						if r.ProjectName != "" {
							project = r.ProjectName
						}
						tw.AppendRow(table.Row{r.ID, r.Type, r.Status, r.RequesterID, project, r.CreatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "PENDING, APPROVED or REJECTED")
	cmd.Flags().StringVar(&f.Type, "type", "", "request type filter")
	cmd.Flags().StringVar(&f.RequesterID, "requester", "", "requester filter (admins)")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request with its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), "", func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				req, err := ws.Engine.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				if !auth.CanSeeRequest(actor, req) {
					return auth.ForbiddenError{Permission: auth.PermViewAllRecords}
				}
				return printJSON(req)
			})
		},
	}
}

func requestApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending request and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermDecideRequests, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				req, err := ws.Engine.ApproveRequest(ctx, engine.ApproveOptions{RequestID: args[0], ActorID: actor.ID, Today: today()})
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
}

func requestRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermDecideRequests, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				req, err := ws.Engine.RejectRequest(ctx, engine.RejectOptions{RequestID: args[0], Reason: reason, ActorID: actor.ID})
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Re-derive every status from assignment dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermReconcile, func(ctx context.Context, ws *app.Workspace, _ domain.User) error {
				rep, err := ws.Engine.RunReconciliation(ctx, today())
				if err != nil {
					return err
				}
				return printJSONOrTable(rep, table.Row{"Today", "Activated", "Expired", "Released", "Synced", "Closed", "Deferred", "Skipped"}, func(tw table.Writer) {
					tw.AppendRow(table.Row{rep.Today, rep.Activated, rep.Expired, rep.Released, rep.Synced, rep.Closed, rep.Deferred, rep.Skipped})
				})
			})
		},
	}
}

func dashboardCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Headline counts and assignments ending soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), "", func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				stats, err := ws.Engine.Dashboard(ctx, actor)
				if err != nil {
					return err
				}
				ending, err := ws.Engine.EndingSoon(ctx, actor, days, today())
				if err != nil {
					return err
				}
				out := map[string]any{"stats": stats, "ending_soon": ending}
				return printJSONOrTable(out, table.Row{"Resource", "Project", "Role", "End", "Days left"}, func(tw table.Writer) {
					tw.SetTitle(fmt.Sprintf("Resources %d (%d available) | Ongoing projects %d | Pending requests %d",
						stats.TotalResources, stats.AvailableResources, stats.OngoingProjects, stats.PendingRequests))
					for _, item := range ending {
						tw.AppendRow(table.Row{item.ResourceName, item.ProjectName, item.Role, item.EndDate, item.DaysLeft})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "ending-soon window in days (defaults to dashboard.ending_soon_days)")
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var cursor int64
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				events, err := ws.Engine.Repo.LatestEvents(ctx, n, cursor, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, table.Row{"#", "Time", "Entity", "Activity", "Actor", "Description"}, func(tw table.Writer) {
					for _, evt := range events {
						tw.AppendRow(table.Row{evt.ID, evt.TS, evt.EntityType, evt.ActivityType, evt.ActorID, evt.Description})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&cursor, "before", 0, "only events older than this id")
	cmd.Flags().StringVar(&f.ActivityType, "type", "", "activity type filter")
	cmd.Flags().StringVar(&f.EntityType, "entity-kind", "", "entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.ResourceID, "resource", "", "resource filter")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Spreadsheet exports"}
	rep.AddCommand(reportExportCmd())
	return rep
}

func reportExportCmd() *cobra.Command {
	var out string
	var events int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export assignments and recent history to an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermViewAllRecords, func(ctx context.Context, ws *app.Workspace, _ domain.User) error {
				assignments, err := ws.Engine.Repo.ListAssignmentDetails(ctx, repo.AssignmentFilters{})
				if err != nil {
					return err
				}
				history, err := ws.Engine.Repo.LatestEvents(ctx, events, 0, repo.EventFilters{})
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.Write(f, report.Workbook{Assignments: assignments, Events: history}); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("Wrote %s (%d assignments, %d events)\n", out, len(assignments), len(history))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "staffline-report.xlsx", "output file")
	cmd.Flags().IntVar(&events, "events", 500, "number of recent events to include")
	return cmd
}
