package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grievline/internal/config"
	"grievline/internal/db"
	"grievline/internal/directory"
	"grievline/internal/domain"
	"grievline/internal/engine"
	"grievline/internal/migrate"
	"grievline/internal/server"
	grievlinesdk "grievline/sdk/go"
)

func main() {
	workspace := "/tmp/grievline-check"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, directory.NewSQL(conn))

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpsertUser(ctx, domain.User{ID: "admin", Name: "Admin", Role: domain.RoleAdmin, CreatedAt: now}); err != nil {
		panic(err)
	}
	for _, d := range cfg.Departments {
		if err := e.Repo.EnsureDepartment(ctx, domain.Department{ID: d.ID, Name: d.Name, CreatedAt: now}); err != nil {
			panic(err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("check-password"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	if err := e.Repo.UpsertAdminCredential(ctx, domain.AdminCredential{
		UserID:       "admin",
		Email:        "admin@example.org",
		PasswordHash: string(hash),
		CreatedAt:    now,
	}); err != nil {
		panic(err)
	}

	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: "check-secret"}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	c := grievlinesdk.New(ts.URL)
	if _, err := c.Login(ctx, "admin@example.org", "check-password"); err != nil {
		panic(err)
	}
	g, err := c.Submit(ctx, grievlinesdk.SubmitInput{
		Title:       "Smoke check",
		Description: "Verifies routing and lifecycle end to end",
		Category:    "water",
	})
	if err != nil {
		panic(err)
	}
	if _, err := c.SetStatus(ctx, g.ID, "under_review", ""); err != nil {
		panic(err)
	}
	assigned, err := c.Assign(ctx, g.ID, "", "", "")
	if err != nil {
		panic(err)
	}
	fmt.Printf("grievance=%s status=%s department=%s\n", assigned.ID, assigned.Status, assigned.AssignedDepartmentID)
}
