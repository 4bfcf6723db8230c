package grievlinesdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grievline/internal/config"
	"grievline/internal/db"
	"grievline/internal/directory"
	"grievline/internal/domain"
	"grievline/internal/engine"
	"grievline/internal/migrate"
	"grievline/internal/server"
)

const testAdminPassword = "hunter2-hunter2"

func startServer(t *testing.T) (string, engine.Engine, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg, directory.NewSQL(conn))

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	users := []domain.User{
		{ID: "staff-1", Name: "Meera", Role: domain.RoleStaff, CreatedAt: now},
		{ID: "adm-1", Name: "Root", Role: domain.RoleAdmin, CreatedAt: now},
	}
	for _, u := range users {
		if err := e.Repo.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	for _, d := range cfg.Departments {
		if err := e.Repo.EnsureDepartment(ctx, domain.Department{ID: d.ID, Name: d.Name, CreatedAt: now}); err != nil {
			t.Fatalf("seed department %s: %v", d.ID, err)
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := e.Repo.UpsertAdminCredential(ctx, domain.AdminCredential{
		UserID:       "adm-1",
		Email:        "root@example.org",
		PasswordHash: string(hash),
		CreatedAt:    now,
	}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: server.AuthConfig{
			JWTSecret: "sdk-test-secret",
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	closeFn := func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	}
	return "http://" + ln.Addr().String(), e, closeFn
}

func TestClientLifecycle(t *testing.T) {
	url, _, done := startServer(t)
	defer done()
	ctx := context.Background()

	c := New(url)
	if _, err := c.Me(ctx); err == nil {
		t.Fatal("expected auth error without credentials")
	}
	token, err := c.Login(ctx, "root@example.org", testAdminPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || c.BearerToken != token {
		t.Fatalf("login did not store token: %q", token)
	}
	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.UserID != "adm-1" || me.Role != "admin" || me.Source != "jwt" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	g, err := c.Submit(ctx, SubmitInput{
		Title:       "Burst pipe on Elm Street",
		Description: "Water flooding the sidewalk since morning",
		Category:    "water",
		Priority:    "high",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if g.Status != "submitted" || g.SubmitterID != "adm-1" {
		t.Fatalf("unexpected grievance: %+v", g)
	}

	if _, err := c.SetStatus(ctx, g.ID, "under_review", "triaged"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	assigned, err := c.Assign(ctx, g.ID, "", "staff-1", "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assigned.Status != "assigned" {
		t.Fatalf("expected auto-advance to assigned, got %s", assigned.Status)
	}
	if assigned.AssignedDepartmentID != "dept-water" {
		t.Fatalf("expected category route dept-water, got %q", assigned.AssignedDepartmentID)
	}

	history, err := c.History(ctx, g.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[1].To != "assigned" {
		t.Fatalf("unexpected history: %+v", history)
	}

	if _, err := c.AddComment(ctx, g.ID, "Crew dispatched", false); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	comments, err := c.Comments(ctx, g.ID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Body != "Crew dispatched" {
		t.Fatalf("unexpected comments: %+v", comments)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCount != 1 || stats.CountByStatus["assigned"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClientPaginationAndWithdraw(t *testing.T) {
	url, _, done := startServer(t)
	defer done()
	ctx := context.Background()

	c := New(url)
	if _, err := c.Login(ctx, "root@example.org", testAdminPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	first, err := c.Submit(ctx, SubmitInput{Title: "Streetlight out", Description: "Dark corner at 5th", Category: "streetlight"})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second, err := c.Submit(ctx, SubmitInput{Title: "Pothole", Description: "Axle-deep on Main", Category: "roads"})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	page, err := c.GrievancesPage(ctx, 1, "")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("expected one item and a cursor, got %+v", page)
	}
	page2, err := c.GrievancesPage(ctx, 1, page.NextCursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2.Items) != 1 || page2.Items[0].ID == page.Items[0].ID {
		t.Fatalf("expected a different item on page 2, got %+v", page2)
	}
	seen := map[string]bool{page.Items[0].ID: true, page2.Items[0].ID: true}
	if !seen[first.ID] || !seen[second.ID] {
		t.Fatalf("pagination missed a grievance: %v", seen)
	}

	withdrawn, err := c.Withdraw(ctx, second.ID, "duplicate report")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Status != "withdrawn" {
		t.Fatalf("expected withdrawn, got %s", withdrawn.Status)
	}
}

func TestClientAPIKeyAndErrors(t *testing.T) {
	url, e, done := startServer(t)
	defer done()
	ctx := context.Background()

	_, plaintext, err := server.MintAPIKey(ctx, e.Repo, "staff-1", "sdk test")
	if err != nil {
		t.Fatalf("mint key: %v", err)
	}
	c := New(url)
	c.APIKey = plaintext
	me, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("me via api key: %v", err)
	}
	if me.UserID != "staff-1" || me.Source != "api_key" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	_, err = c.Grievance(ctx, "no-such-id")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", apiErr.StatusCode)
	}
}

func TestClientNotifications(t *testing.T) {
	url, e, done := startServer(t)
	defer done()
	ctx := context.Background()

	userID := "adm-1"
	if err := e.Repo.InsertNotification(ctx, domain.Notification{
		ID:        "note-1",
		UserID:    &userID,
		Title:     "Grievance assigned",
		Kind:      "status_change",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	c := New(url)
	if _, err := c.Login(ctx, "root@example.org", testAdminPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	feed, err := c.NotificationsPage(ctx, true, 10, "")
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(feed.Items) != 1 || feed.Items[0].ID != "note-1" {
		t.Fatalf("unexpected feed: %+v", feed.Items)
	}
	if feed.UnreadCount != 1 {
		t.Fatalf("unread count = %d, want 1", feed.UnreadCount)
	}
	if err := c.MarkNotificationRead(ctx, "note-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	feed, err = c.NotificationsPage(ctx, true, 10, "")
	if err != nil {
		t.Fatalf("notifications after read: %v", err)
	}
	if len(feed.Items) != 0 || feed.UnreadCount != 0 {
		t.Fatalf("expected empty unread feed, got %+v (unread %d)", feed.Items, feed.UnreadCount)
	}
}
