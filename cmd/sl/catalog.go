package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"staffline/internal/app"
	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/engine/auth"
	"staffline/internal/repo"
)

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(userAPIKeyCmd())
	usr.AddCommand(userDeleteCmd())
	return usr
}

func userDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user who owns no projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageUsers, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				if err := ws.Engine.DeleteUser(ctx, args[0], actor.ID); err != nil {
					return err
				}
				fmt.Printf("User %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageUsers, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				opts.ActorID = actor.ID
				u, err := ws.Engine.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "e-mail address")
	cmd.Flags().StringVar(&opts.Type, "type", domain.UserTypeDevManager, "ADMIN or DEV_MANAGER")
	return cmd
}

func userListCmd() *cobra.Command {
	var userType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				users, err := ws.Engine.Repo.ListUsers(ctx, userType)
				if err != nil {
					return err
				}
				return printJSONOrTable(users, table.Row{"ID", "Name", "Email", "Type"}, func(tw table.Writer) {
					for _, u := range users {
						tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Type})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&userType, "type", "", "type filter")
	return cmd
}

func userAPIKeyCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), "", func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				if userID == "" {
					userID = actor.ID
				}
				if userID != actor.ID {
					if err := auth.Require(actor, auth.PermManageUsers); err != nil {
						return err
					}
				}
				key, raw, err := ws.Engine.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"id": key.ID, "user_id": key.UserID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to the actor)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func resourceCmd() *cobra.Command {
	res := &cobra.Command{Use: "resource", Short: "Manage resources"}
	res.AddCommand(resourceCreateCmd())
	res.AddCommand(resourceListCmd())
	res.AddCommand(resourceShowCmd())
	res.AddCommand(resourceUpdateCmd())
	res.AddCommand(resourceDeleteCmd())
	return res
}

func resourceCreateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageCatalog, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				res, err := ws.Engine.CreateResource(ctx, engine.ResourceCreateOptions{Name: name, Email: email, ActorID: actor.ID})
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "e-mail address")
	return cmd
}

func resourceListCmd() *cobra.Command {
	var f repo.ResourceFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Repo.ListResources(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, table.Row{"ID", "Employee", "Name", "Email", "Status"}, func(tw table.Writer) {
					for _, r := range items {
						tw.AppendRow(table.Row{r.ID, r.EmployeeID, r.Name, r.Email, r.Status})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "AVAILABLE or ASSIGNED")
	cmd.Flags().StringVar(&f.Search, "search", "", "match name, e-mail or employee id")
	return cmd
}

func resourceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a resource and its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				res, err := ws.Engine.Repo.GetResource(ctx, args[0])
				if err != nil {
					return err
				}
				assignments, err := ws.Engine.Repo.ListAssignmentDetails(ctx, repo.AssignmentFilters{ResourceID: res.ID})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"resource": res, "assignments": assignments})
			})
		},
	}
}

func resourceUpdateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a resource's name or e-mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageCatalog, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				res, err := ws.Engine.UpdateResource(ctx, engine.ResourceUpdateOptions{
					ID:      args[0],
					Name:    optionalString(cmd, "name", name),
					Email:   optionalString(cmd, "email", email),
					ActorID: actor.ID,
				})
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&email, "email", "", "new e-mail")
	return cmd
}

func resourceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a resource without active assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageCatalog, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				if err := ws.Engine.DeleteResource(ctx, args[0], actor.ID); err != nil {
					return err
				}
				fmt.Printf("Resource %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an ONGOING project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageCatalog, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				opts.ActorID = actor.ID
				p, err := ws.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owning manager (defaults to the actor)")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, table.Row{"ID", "Name", "Client", "Owner", "Status"}, func(tw table.Writer) {
					for _, p := range items {
						tw.AppendRow(table.Row{p.ID, p.Name, p.ClientName, p.OwnerID, p.Status})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "ONGOING, HOLD or CLOSED")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project and its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				p, err := ws.Engine.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				assignments, err := ws.Engine.Repo.ListAssignmentDetails(ctx, repo.AssignmentFilters{ProjectID: p.ID})
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"project": p, "assignments": assignments})
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, client, description, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a project or toggle ONGOING/HOLD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageCatalog, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				p, err := ws.Engine.UpdateProject(ctx, engine.ProjectUpdateOptions{
					ID:          args[0],
					Name:        optionalString(cmd, "name", name),
					ClientName:  optionalString(cmd, "client", client),
					Description: optionalString(cmd, "description", description),
					Status:      optionalString(cmd, "status", status),
					ActorID:     actor.ID,
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&client, "client", "", "new client name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "ONGOING or HOLD")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project without active assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), auth.PermManageCatalog, func(ctx context.Context, ws *app.Workspace, actor domain.User) error {
				if err := ws.Engine.DeleteProject(ctx, args[0], actor.ID); err != nil {
					return err
				}
				fmt.Printf("Project %s deleted\n", args[0])
				return nil
			})
		},
	}
}
