package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"staffline/internal/app"
	"staffline/internal/history"
	"staffline/internal/logging"
	"staffline/internal/scheduler"
	"staffline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeaders, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with background reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ws, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer ws.Close()

			authCfg := server.AuthConfig{
				JWTSecret:             viper.GetString("jwt-secret"),
				AllowLegacyUserHeader: legacyHeaders,
				DevLogin:              devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("STAFFLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			startBackground(ctx, ws, &wg)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Staffline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			err = srv.ListenAndServe()
			stop()
			wg.Wait()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (or STAFFLINE_JWT_SECRET)")
	cmd.Flags().BoolVar(&legacyHeaders, "legacy-headers", false, "accept X-User-Id without credentials")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// startBackground launches the reconciliation worker and, when sinks are
// configured, the history dispatcher. Both stop with ctx.
func startBackground(ctx context.Context, ws *app.Workspace, wg *sync.WaitGroup) {
	logger := logging.Component("serve")
	cfg := ws.Config
	interval := cfg.ReconcileInterval()
	firstDelay := cfg.ReconcileFirstRunDelay()
	reconcile := func(ctx context.Context) {
		rep, err := ws.Engine.RunReconciliation(ctx, "")
		if err != nil {
			logger.WithError(err).Error("reconciliation failed")
			return
		}
		logger.WithField("corrections", rep.Corrections).Debug("reconciliation finished")
	}
	if cfg.Reconcile.OnStartup {
		reconcile(ctx)
		firstDelay = interval
	}
	reconciler := scheduler.NewInstance("reconcile", firstDelay, interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx, reconcile)
	}()

	dispatcher := history.NewDispatcher(ws.Engine.Repo, history.Sinks(cfg, ws.Engine.Repo)...)
	if dispatcher.Len() == 0 {
		return
	}
	poll := cfg.HistoryPollInterval()
	worker := scheduler.NewInstance("history", poll, poll)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx, func(ctx context.Context) {
			dispatcher.DispatchOnce(ctx)
		})
	}()
	logger.WithField("sinks", dispatcher.Len()).Info("history dispatcher started")
}
