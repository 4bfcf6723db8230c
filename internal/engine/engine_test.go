package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grievline/internal/config"
	"grievline/internal/db"
	"grievline/internal/directory"
	"grievline/internal/domain"
	"grievline/internal/engine"
	"grievline/internal/migrate"
	"grievline/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	current time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	env := &testEnv{Ctx: context.Background(), current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, cfg, directory.NewSQL(conn))
	eng.Now = func() time.Time { return env.current }
	env.Engine = eng

	seed := func(id, name string, role domain.Role) {
		if err := eng.Repo.UpsertUser(env.Ctx, domain.User{ID: id, Name: name, Role: role, CreatedAt: env.current.Format(time.RFC3339)}); err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
	seed("cit-1", "Asha", domain.RoleCitizen)
	seed("cit-2", "Ravi", domain.RoleCitizen)
	seed("staff-1", "Meera", domain.RoleStaff)
	seed("adm-1", "Root", domain.RoleAdmin)
	for _, d := range cfg.Departments {
		if err := eng.Repo.EnsureDepartment(env.Ctx, domain.Department{ID: d.ID, Name: d.Name, CreatedAt: env.current.Format(time.RFC3339)}); err != nil {
			t.Fatalf("seed department %s: %v", d.ID, err)
		}
	}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.current = env.current.Add(d)
}

func (env *testEnv) submit(t *testing.T, submitter, title string) domain.Grievance {
	t.Helper()
	g, err := env.Engine.Submit(env.Ctx, engine.SubmitOptions{
		SubmitterID: submitter,
		Title:       title,
		Description: "pipe burst near the market",
		Category:    "water",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return g
}

func TestSubmitStartsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "No water supply")
	if g.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", g.Status)
	}
	if g.Version != 0 {
		t.Fatalf("expected version 0, got %d", g.Version)
	}
	got, err := env.Engine.Get(env.Ctx, g.ID, "cit-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 0 {
		t.Fatalf("expected empty history on fresh grievance, got %d entries", len(got.History))
	}

	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{SubmitterID: "cit-1", Title: "x", Description: "y", Category: "nonsense"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "category" {
		t.Fatalf("expected category validation error, got %v", err)
	}
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitOptions{SubmitterID: "ghost", Title: "x", Description: "y", Category: "water"})
	var ue *domain.UnknownUserError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unknown user error, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Streetlight out on 4th")

	g, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusUnderReview, ActorID: "staff-1"})
	if err != nil || g.Status != domain.StatusUnderReview {
		t.Fatalf("to under_review: %v (status %s)", err, g.Status)
	}
	g, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, DepartmentID: "dept-power", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if g.Status != domain.StatusAssigned {
		t.Fatalf("expected auto-advance to assigned, got %s", g.Status)
	}
	if g.AssignedDepartmentID == nil || *g.AssignedDepartmentID != "dept-power" {
		t.Fatalf("department not set")
	}

	// Review has started; the submitter can no longer delete.
	_, err = env.Engine.Delete(env.Ctx, engine.DeleteOptions{ID: g.ID, ActorID: "cit-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden deleting after assignment, got %v", err)
	}

	g, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusInProgress, ActorID: "staff-1"})
	if err != nil || g.Status != domain.StatusInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	g, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusResolved, Note: "Replaced bulb", ActorID: "staff-1"})
	if err != nil || g.Status != domain.StatusResolved {
		t.Fatalf("to resolved: %v", err)
	}
	if g.ResolvedAt == nil {
		t.Fatalf("resolved_at not set")
	}
	if len(g.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(g.History))
	}
	last := g.History[len(g.History)-1]
	if last.To != g.Status {
		t.Fatalf("history tail %s does not match status %s", last.To, g.Status)
	}
	for i, tr := range g.History {
		if tr.Seq != int64(i+1) {
			t.Fatalf("history out of order at %d: seq %d", i, tr.Seq)
		}
	}

	_, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusInProgress, ActorID: "adm-1"})
	var te *domain.TerminalStateError
	if !errors.As(err, &te) {
		t.Fatalf("expected terminal state error, got %v", err)
	}
}

func TestIllegalEdgeRejected(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Skip ahead")
	_, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusResolved, ActorID: "staff-1"})
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
	if ite.From != domain.StatusSubmitted || ite.To != domain.StatusResolved {
		t.Fatalf("unexpected edge in error: %s -> %s", ite.From, ite.To)
	}
	g2, err := env.Engine.Get(env.Ctx, g.ID, "cit-1")
	if err != nil {
		t.Fatalf("get after failed transition: %v", err)
	}
	if g2.Status != domain.StatusSubmitted || len(g2.History) != 0 || g2.Version != g.Version {
		t.Fatalf("record changed by rejected transition: status=%s history=%d version=%d", g2.Status, len(g2.History), g2.Version)
	}
}

func TestWithdrawOnlySubmitter(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Changed my mind")
	_, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusWithdrawn, ActorID: "staff-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-submitter withdraw, got %v", err)
	}
	g2, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusWithdrawn, ActorID: "cit-1"})
	if err != nil || g2.Status != domain.StatusWithdrawn {
		t.Fatalf("submitter withdraw: %v", err)
	}

	h := env.submit(t, "cit-1", "Too late to pull back")
	_, _ = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: h.ID, To: domain.StatusUnderReview, ActorID: "staff-1"})
	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: h.ID, DepartmentID: "dept-water", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: h.ID, To: domain.StatusWithdrawn, ActorID: "cit-1"})
	var ite *domain.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition withdrawing after assignment, got %v", err)
	}
}

func TestRejectRequiresAdminAndNote(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Duplicate filing")
	_, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusRejected, Note: "dup", ActorID: "staff-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for staff reject, got %v", err)
	}
	_, err = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusRejected, ActorID: "adm-1"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "note" {
		t.Fatalf("expected note validation error, got %v", err)
	}
	g2, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusRejected, Note: "duplicate of an earlier filing", ActorID: "adm-1"})
	if err != nil || g2.Status != domain.StatusRejected {
		t.Fatalf("admin reject: %v", err)
	}
}

func TestAssignRules(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Pothole on main road")

	_, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, DepartmentID: "dept-roads", ActorID: "staff-1"})
	var ise *domain.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state assigning while submitted, got %v", err)
	}
	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, DepartmentID: "dept-roads", ActorID: "cit-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for citizen assign, got %v", err)
	}

	_, _ = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusUnderReview, ActorID: "staff-1"})
	_, err = env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, DepartmentID: "dept-nope", ActorID: "staff-1"})
	var ude *domain.UnknownDepartmentError
	if !errors.As(err, &ude) {
		t.Fatalf("expected unknown department error, got %v", err)
	}

	// empty department falls back to the category route
	g2, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("routed assign: %v", err)
	}
	if g2.AssignedDepartmentID == nil || *g2.AssignedDepartmentID != "dept-water" {
		t.Fatalf("expected category route to dept-water, got %v", g2.AssignedDepartmentID)
	}
	if note := g2.History[len(g2.History)-1].Note; note != "Assigned to dept-water" {
		t.Fatalf("unexpected assignment note %q", note)
	}

	g3, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, DepartmentID: "dept-roads", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	last := g3.History[len(g3.History)-1]
	if last.From != last.To {
		t.Fatalf("reassignment entry must keep from == to, got %s -> %s", last.From, last.To)
	}
	if last.Note != "Reassigned" {
		t.Fatalf("expected Reassigned note, got %q", last.Note)
	}
	if g3.Status != domain.StatusAssigned {
		t.Fatalf("reassignment must not move status, got %s", g3.Status)
	}
}

func TestCitizenVisibility(t *testing.T) {
	env := newTestEnv(t)
	mine := env.submit(t, "cit-1", "Mine")
	env.advance(time.Second)
	other := env.submit(t, "cit-2", "Theirs")

	_, err := env.Engine.Get(env.Ctx, other.ID, "cit-1")
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden reading another citizen's grievance, got %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, other.ID, "staff-1"); err != nil {
		t.Fatalf("staff read: %v", err)
	}

	list, err := env.Engine.List(env.Ctx, engine.ListOptions{ActorID: "cit-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("citizen list leaked records: %d", len(list))
	}
	all, err := env.Engine.List(env.Ctx, engine.ListOptions{ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 for staff, got %d", len(all))
	}
}

func TestStaleVersionLosesWrite(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Contended record")

	stale, err := env.Engine.Repo.GetGrievance(env.Ctx, g.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusUnderReview, ActorID: "staff-1"}); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	stale.Status = domain.StatusUnderReview
	err = env.Engine.Repo.UpdateGrievanceTx(env.Ctx, tx, stale)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
}

func TestConcurrentTransitionSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Now = time.Now
	g := env.submit(t, "cit-1", "Race target")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusUnderReview, ActorID: "staff-1"})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (errs %v)", wins, errs)
	}
	final, err := env.Engine.Get(env.Ctx, g.ID, "staff-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != domain.StatusUnderReview {
		t.Fatalf("unexpected final status %s", final.Status)
	}
	if len(final.History) != 1 {
		t.Fatalf("loser must not append history, got %d entries", len(final.History))
	}
}

func TestStatsAveragesResolvedOnly(t *testing.T) {
	env := newTestEnv(t)
	resolveAfter := func(g domain.Grievance, d time.Duration) {
		t.Helper()
		if _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusUnderReview, ActorID: "staff-1"}); err != nil {
			t.Fatalf("review: %v", err)
		}
		if _, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, ActorID: "staff-1"}); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusInProgress, ActorID: "staff-1"}); err != nil {
			t.Fatalf("progress: %v", err)
		}
		env.advance(d)
		if _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusResolved, Note: "done", ActorID: "staff-1"}); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}

	// Submit each grievance right before its own resolution window so
	// the durations are exactly 2h and 4h on the injected clock.
	g1 := env.submit(t, "cit-1", "Fast fix")
	resolveAfter(g1, 2*time.Hour)
	g2 := env.submit(t, "cit-1", "Slow fix")
	resolveAfter(g2, 4*time.Hour)
	env.submit(t, "cit-2", "Never fixed")

	stats, err := env.Engine.Stats(env.Ctx, engine.StatsOptions{ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", stats.TotalCount)
	}
	if stats.CountByStatus[domain.StatusResolved] != 2 || stats.CountByStatus[domain.StatusSubmitted] != 1 {
		t.Fatalf("unexpected status counts: %v", stats.CountByStatus)
	}
	if stats.AverageResolutionSeconds == nil {
		t.Fatalf("expected an average with resolved grievances")
	}
	avg := *stats.AverageResolutionSeconds
	if avg < 3*3600-1 || avg > 3*3600+1 {
		t.Fatalf("expected mean of 10800s, got %f", avg)
	}

	empty, err := env.Engine.Stats(env.Ctx, engine.StatsOptions{ActorID: "staff-1", Category: "sanitation"})
	if err != nil {
		t.Fatalf("filtered stats: %v", err)
	}
	if empty.AverageResolutionSeconds != nil {
		t.Fatalf("expected nil average with no resolved matches")
	}

	_, err = env.Engine.Stats(env.Ctx, engine.StatsOptions{ActorID: "cit-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for citizen stats, got %v", err)
	}
}

func TestCommentsInternalVisibility(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Commented")

	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{GrievanceID: g.ID, AuthorID: "cit-1", Body: "any update?"}); err != nil {
		t.Fatalf("citizen comment: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{GrievanceID: g.ID, AuthorID: "staff-1", Body: "checked on site", Internal: true}); err != nil {
		t.Fatalf("internal note: %v", err)
	}
	_, err := env.Engine.AddComment(env.Ctx, engine.CommentOptions{GrievanceID: g.ID, AuthorID: "cit-2", Body: "me too"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for stranger comment, got %v", err)
	}
	_, err = env.Engine.AddComment(env.Ctx, engine.CommentOptions{GrievanceID: g.ID, AuthorID: "cit-1", Body: "secret", Internal: true})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for citizen internal note, got %v", err)
	}

	visible, err := env.Engine.ListComments(env.Ctx, g.ID, "cit-1")
	if err != nil {
		t.Fatalf("citizen list: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("citizen must not see internal notes, got %d", len(visible))
	}
	all, err := env.Engine.ListComments(env.Ctx, g.ID, "staff-1")
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("staff should see both comments, got %d", len(all))
	}
}

func TestHardDeleteAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "To be purged")

	_, err := env.Engine.Delete(env.Ctx, engine.DeleteOptions{ID: g.ID, ActorID: "staff-1", Hard: true})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for staff hard delete, got %v", err)
	}
	if _, err := env.Engine.Delete(env.Ctx, engine.DeleteOptions{ID: g.ID, ActorID: "adm-1", Hard: true}); err != nil {
		t.Fatalf("admin hard delete: %v", err)
	}
	_, err = env.Engine.Repo.GetGrievance(env.Ctx, g.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}
	var count int
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='grievance.deleted' AND entity_id=?`, g.ID)
	if err := row.Scan(&count); err != nil || count != 1 {
		t.Fatalf("expected one audit event, got %d (%v)", count, err)
	}
}

func TestSoftDeleteIsWithdraw(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Soft delete me")
	g2, err := env.Engine.Delete(env.Ctx, engine.DeleteOptions{ID: g.ID, ActorID: "cit-1"})
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if g2.Status != domain.StatusWithdrawn {
		t.Fatalf("expected withdrawn, got %s", g2.Status)
	}
	if _, err := env.Engine.Repo.GetGrievance(env.Ctx, g.ID); err != nil {
		t.Fatalf("record must survive soft delete: %v", err)
	}

	// Under review the delete window is closed, but the withdraw
	// transition is still open to the submitter.
	h := env.submit(t, "cit-1", "Reviewed already")
	if _, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: h.ID, To: domain.StatusUnderReview, ActorID: "staff-1"}); err != nil {
		t.Fatalf("to under_review: %v", err)
	}
	_, err = env.Engine.Delete(env.Ctx, engine.DeleteOptions{ID: h.ID, ActorID: "cit-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden deleting under review, got %v", err)
	}
	h2, err := env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: h.ID, To: domain.StatusWithdrawn, ActorID: "cit-1"})
	if err != nil || h2.Status != domain.StatusWithdrawn {
		t.Fatalf("withdraw under review: %v", err)
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	g := env.submit(t, "cit-1", "Evented")
	_, _ = env.Engine.UpdateStatus(env.Ctx, engine.StatusChangeOptions{ID: g.ID, To: domain.StatusUnderReview, ActorID: "staff-1"})
	_, _ = env.Engine.Assign(env.Ctx, engine.AssignOptions{ID: g.ID, DepartmentID: "dept-water", ActorID: "staff-1"})
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, g.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected multiple events, got %d", count)
	}
}

func TestDepartmentAdminOps(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateDepartment(env.Ctx, engine.DepartmentOptions{ID: "dept-parks", Name: "Parks", ActorID: "staff-1"})
	var fe *domain.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for staff create, got %v", err)
	}
	d, err := env.Engine.CreateDepartment(env.Ctx, engine.DepartmentOptions{ID: "dept-parks", Name: "Parks", ActorID: "adm-1"})
	if err != nil || d.ID != "dept-parks" {
		t.Fatalf("admin create: %v", err)
	}
	_, err = env.Engine.CreateDepartment(env.Ctx, engine.DepartmentOptions{ID: "dept-parks", Name: "Parks", ActorID: "adm-1"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for duplicate, got %v", err)
	}

	u, err := env.Engine.UpsertUser(env.Ctx, engine.UserOptions{ID: "staff-2", Name: "New Hire", Role: domain.RoleStaff, ActorID: "adm-1"})
	if err != nil || u.Role != domain.RoleStaff {
		t.Fatalf("upsert user: %v", err)
	}
	role, err := env.Engine.Directory.UserRole(env.Ctx, "staff-2")
	if err != nil || role != domain.RoleStaff {
		t.Fatalf("directory role: %v %s", err, role)
	}
}

func TestNotificationReadFlow(t *testing.T) {
	env := newTestEnv(t)
	uid := "cit-1"
	if err := env.Engine.Repo.InsertNotification(env.Ctx, domain.Notification{
		ID: "n-1", UserID: &uid, Title: "Status updated", Kind: "status", CreatedAt: env.current.Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := env.Engine.Repo.InsertNotification(env.Ctx, domain.Notification{
		ID: "n-2", Title: "Water outage Sunday", Kind: "broadcast", CreatedAt: env.current.Add(time.Second).Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("insert broadcast: %v", err)
	}

	feed, err := env.Engine.Notifications(env.Ctx, engine.NotificationQuery{ActorID: "cit-1"})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("expected personal plus broadcast, got %d", len(feed))
	}
	if err := env.Engine.MarkNotificationRead(env.Ctx, "n-1", "cit-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := env.Engine.Notifications(env.Ctx, engine.NotificationQuery{ActorID: "cit-1", UnreadOnly: true})
	if err != nil {
		t.Fatalf("unread feed: %v", err)
	}
	for _, n := range unread {
		if n.ID == "n-1" {
			t.Fatalf("read notification still in unread feed")
		}
	}
	if err := env.Engine.MarkNotificationRead(env.Ctx, "n-2", "cit-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found marking a broadcast read, got %v", err)
	}
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.WhoAmI(env.Ctx, "staff-1")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if u.Name != "Meera" || u.Role != domain.RoleStaff {
		t.Fatalf("unexpected user: %+v", u)
	}
	_, err = env.Engine.WhoAmI(env.Ctx, "ghost")
	var ue *domain.UnknownUserError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unknown user error, got %v", err)
	}
}
