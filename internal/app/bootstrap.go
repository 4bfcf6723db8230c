// Package app wires the store, config, engine and seed data into one
// handle shared by the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grievline/internal/config"
	"grievline/internal/db"
	"grievline/internal/directory"
	"grievline/internal/domain"
	"grievline/internal/engine"
	"grievline/internal/migrate"
	"grievline/internal/repo"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
}

// BootstrapAdmin provisions password login for one admin at startup.
// All fields empty means no admin is seeded.
type BootstrapAdmin struct {
	UserID   string
	Email    string
	Password string
}

// Load opens the workspace store, runs migrations, loads config (built
// in defaults when no file exists yet) and seeds departments and the
// bootstrap admin. It is idempotent and safe to run on every start.
func Load(ctx context.Context, workspace string, admin BootstrapAdmin) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	eng := engine.New(conn, cfg, directory.NewSQL(conn))
	if err := SeedDepartments(ctx, eng.Repo, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	if err := SeedAdmin(ctx, eng.Repo, admin); err != nil {
		conn.Close()
		return nil, err
	}
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// SeedDepartments inserts configured departments that are missing.
// Existing rows keep their names so local edits survive restarts.
func SeedDepartments(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, seed := range cfg.Departments {
		d := domain.Department{ID: seed.ID, Name: seed.Name, CreatedAt: now}
		if err := r.EnsureDepartment(ctx, d); err != nil {
			return fmt.Errorf("seed department %s: %w", seed.ID, err)
		}
	}
	return nil
}

// SeedAdmin upserts the bootstrap admin user and its password hash.
// Partial credentials are rejected rather than silently ignored.
func SeedAdmin(ctx context.Context, r repo.Repo, admin BootstrapAdmin) error {
	if admin.Email == "" && admin.Password == "" {
		return nil
	}
	if admin.Email == "" || admin.Password == "" {
		return fmt.Errorf("bootstrap admin needs both email and password")
	}
	if admin.UserID == "" {
		admin.UserID = "admin"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.UpsertUser(ctx, domain.User{
		ID:        admin.UserID,
		Name:      admin.Email,
		Role:      domain.RoleAdmin,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return r.UpsertAdminCredential(ctx, domain.AdminCredential{
		UserID:       admin.UserID,
		Email:        admin.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
	})
}
