package app

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"

	"staffline/internal/config"
	"staffline/internal/db"
	"staffline/internal/engine"
	"staffline/internal/migrate"
)

// Workspace is an opened, migrated workspace with its engine.
type Workspace struct {
	Path   string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open opens the workspace database, applies migrations and loads
// staffline.yml, falling back to defaults when the file is missing. The
// bootstrap admin is seeded on every open so a fresh database is usable.
func Open(ctx context.Context, workspace string) (*Workspace, error) {
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	admin, created, err := e.EnsureAdmin(ctx, cfg.Bootstrap.Admin)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.WithField("component", "app").WithField("user_id", admin.ID).Info("bootstrap administrator created")
	}
	return &Workspace{Path: workspace, DB: conn, Config: cfg, Engine: e}, nil
}
