package server

import (
	"bytes"
	"context"
	"encoding/json"
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
)

const testAdminPassword = "hunter2-hunter2"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
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
	seed := func(id, name string, role domain.Role) {
		if err := e.Repo.UpsertUser(ctx, domain.User{ID: id, Name: name, Role: role, CreatedAt: now}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	seed("cit-1", "Asha", domain.RoleCitizen)
	seed("cit-2", "Ravi", domain.RoleCitizen)
	seed("staff-1", "Meera", domain.RoleStaff)
	seed("adm-1", "Root", domain.RoleAdmin)
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

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:        "test-secret",
			AllowActorHeader: true,
			Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
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
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func asCitizen(id string) map[string]string { return map[string]string{"X-Actor-Id": id} }

func TestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/grievances", map[string]any{
		"title":       "Overflowing drain",
		"description": "Drain on 5th street overflows every evening",
		"category":    "sanitation",
	}, asCitizen("cit-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var created GrievanceResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal grievance: %v", err)
	}
	if created.Status != "submitted" || created.SubmitterID != "cit-1" {
		t.Fatalf("unexpected grievance: %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/grievances/"+created.ID+"/status", map[string]any{
		"status": "under_review",
	}, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("under_review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/grievances/"+created.ID+"/assign", map[string]any{
		"department_id": "dept-sanitation",
	}, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}
	var assigned GrievanceResponse
	_ = json.Unmarshal(data, &assigned)
	if assigned.Status != "assigned" {
		t.Fatalf("expected assigned after routing, got %s", assigned.Status)
	}
	if assigned.AssignedDepartmentID == nil || *assigned.AssignedDepartmentID != "dept-sanitation" {
		t.Fatalf("department not recorded: %+v", assigned)
	}

	for _, next := range []string{"in_progress", "resolved"} {
		res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/grievances/"+created.ID+"/status", map[string]any{
			"status": next,
		}, asCitizen("staff-1"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("to %s: %d %s", next, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances/"+created.ID+"/history", nil, asCitizen("cit-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []TransitionResponse
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 transitions, got %d: %s", len(history), string(data))
	}
	if history[len(history)-1].To != "resolved" {
		t.Fatalf("history tail should be resolved, got %s", history[len(history)-1].To)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances/"+created.ID, nil, asCitizen("cit-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var final GrievanceResponse
	_ = json.Unmarshal(data, &final)
	if final.ResolvedAt == nil {
		t.Fatalf("resolved_at not set: %s", string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if env.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/notifications/public", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("public notifications should be open, got %d: %s", res.StatusCode, string(data))
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "root@example.org",
		"password": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"email":    "root@example.org",
		"password": testAdminPassword,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("empty token: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != "adm-1" || who.Role != "admin" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}
}

func TestErrorEnvelopeCodes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/grievances", map[string]any{
		"title":       "Pothole",
		"description": "Deep pothole near school",
		"category":    "teleportation",
	}, asCitizen("cit-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d: %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/grievances", map[string]any{
		"title":       "Pothole",
		"description": "Deep pothole near school",
		"category":    "roads",
	}, asCitizen("cit-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var g GrievanceResponse
	_ = json.Unmarshal(data, &g)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/grievances/"+g.ID+"/status", map[string]any{
		"status": "resolved",
	}, asCitizen("staff-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for illegal edge, got %d: %s", res.StatusCode, string(data))
	}
	env = errorEnvelope{}
	_ = json.Unmarshal(data, &env)
	if env.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %q: %s", env.Error.Code, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances/"+g.ID, nil, asCitizen("cit-2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other citizen, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances/missing", nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/apikeys", map[string]any{
		"name": "reporting",
	}, asCitizen("staff-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var created APIKeyCreatedResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("plaintext key missing: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != "staff-1" || who.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", who)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/apikeys/"+created.ID, nil, asCitizen("cit-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 revoking another user's key, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/apikeys/"+created.ID, nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should fail, got %d: %s", res.StatusCode, string(data))
	}
}

func TestStatusAndScopedListings(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	submit := func(actor, title, category string) GrievanceResponse {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/grievances", map[string]any{
			"title":       title,
			"description": "reported via portal",
			"category":    category,
		}, asCitizen(actor))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("submit %s: %d %s", title, res.StatusCode, string(data))
		}
		var g GrievanceResponse
		_ = json.Unmarshal(data, &g)
		return g
	}
	submit("cit-1", "Pothole row", "roads")
	submit("cit-1", "Brown tap water", "water")
	other := submit("cit-2", "Dark lane", "streetlight")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/status", nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint: %d %s", res.StatusCode, string(data))
	}
	var st struct {
		GrievanceCount int64            `json:"grievance_count"`
		StatusCounts   map[string]int64 `json:"status_counts"`
		LastEventID    int64            `json:"last_event_id"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.GrievanceCount != 3 || st.StatusCounts["submitted"] != 3 {
		t.Fatalf("unexpected counts: %s", string(data))
	}
	if st.LastEventID != 3 {
		t.Fatalf("expected three events after three submits, got %d", st.LastEventID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances/ongoing", nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ongoing: %d %s", res.StatusCode, string(data))
	}
	var page paginatedGrievances
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 ongoing grievances, got %d", len(page.Items))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/grievances/"+other.ID, nil, asCitizen("cit-2"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("withdraw: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/grievances/ongoing", nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ongoing after withdraw: %d %s", res.StatusCode, string(data))
	}
	page = paginatedGrievances{}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 {
		t.Fatalf("withdrawn grievance still listed as ongoing: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/cit-1/grievances", nil, asCitizen("cit-2"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 reading another citizen's file, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/users/cit-1/grievances", nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("staff user listing: %d %s", res.StatusCode, string(data))
	}
	page = paginatedGrievances{}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 {
		t.Fatalf("expected cit-1's two grievances, got %d", len(page.Items))
	}
	for _, g := range page.Items {
		if g.SubmitterID != "cit-1" {
			t.Fatalf("foreign grievance in user listing: %+v", g)
		}
	}
}

func TestStatsRequiresStaff(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/stats", nil, asCitizen("cit-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for citizen, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/stats", nil, asCitizen("staff-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", res.StatusCode, string(data))
	}
	var stats StatsResponse
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.CountByStatus["submitted"] != 0 {
		t.Fatalf("expected zeroed counts on empty store: %+v", stats)
	}
	if stats.AverageResolutionSeconds != nil {
		t.Fatalf("average should be nil with no resolved grievances")
	}
}
