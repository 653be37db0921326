package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"staffline/internal/app"
	"staffline/internal/config"
	"staffline/internal/db"
	"staffline/internal/domain"
	"staffline/internal/engine/auth"
	"staffline/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Staffline CLI",
	Long: `Staffline keeps resource assignments, resource availability and project
status consistent with each other.
- Resources are people; they are AVAILABLE or ASSIGNED, derived from their assignments.
- Projects are ONGOING, HOLD or CLOSED; a staffed project closes when its last assignment ends.
- Assignments link a resource to a project in a role between two dates.
- Requests are how managers ask for ASSIGN, EXTEND, RELEASE or PROJECT changes; admins approve or reject.
- Reconciliation re-derives every status from the assignment dates and records what it fixed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		cfg, err := config.LoadOrDefault(workspace)
		if err != nil {
			return err
		}
		logging.Init(cfg.Log, os.Stderr)
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAFFLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "acting user id")
	rootCmd.PersistentFlags().String("today", "", "override today's date (YYYY-MM-DD)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("today", rootCmd.PersistentFlags().Lookup("today"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var adminEmail string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create staffline.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(adminEmail)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else if err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			ws, err := app.OpenWithConfig(cmd.Context(), workspace, cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			fmt.Printf("Workspace ready at %s (admin: %s)\n", db.Path(workspace), cfg.Bootstrap.Admin.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminEmail, "admin-email", "admin@staffline.local", "bootstrap administrator e-mail")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every change to resources, projects, assignments and requests, including automatic corrections.",
	}
	log.AddCommand(logTailCmd())
	return log
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

// withActor resolves --actor-id and checks perm before running fn. An empty
// perm only requires the user to exist.
func withActor(ctx context.Context, perm string, fn func(context.Context, *app.Workspace, domain.User) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		actor, err := auth.Service{Repo: ws.Engine.Repo}.Resolve(ctx, viper.GetString("actor-id"))
		if err != nil {
			return fmt.Errorf("actor %q: %w", viper.GetString("actor-id"), err)
		}
		if perm != "" {
			if err := auth.Require(actor, perm); err != nil {
				return err
			}
		}
		return fn(ctx, ws, actor)
	})
}

func today() string {
	return viper.GetString("today")
}

func printJSONOrTable(v any, header table.Row, rows func(tw table.Writer)) error {
	if viper.GetBool("json") || rows == nil {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	rows(tw)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
