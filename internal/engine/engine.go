package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"grievline/internal/config"
	"grievline/internal/domain"
	"grievline/internal/engine/status"
	"grievline/internal/events"
	"grievline/internal/repo"
)

// Directory answers identity questions. The engine never stores users
// or departments itself; it only checks them through this interface.
type Directory interface {
	UserExists(ctx context.Context, id string) (bool, error)
	DepartmentExists(ctx context.Context, id string) (bool, error)
	// UserRole returns the role for a known user and a
	// domain.UnknownUserError for a miss.
	UserRole(ctx context.Context, id string) (domain.Role, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Directory Directory
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, dir Directory) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Directory: dir,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) roleOf(ctx context.Context, actorID string) (domain.Role, error) {
	if actorID == "" {
		return "", &domain.ValidationError{Field: "actor_id", Reason: "required"}
	}
	return e.Directory.UserRole(ctx, actorID)
}

func isStaff(role domain.Role) bool {
	return role == domain.RoleStaff || role == domain.RoleAdmin
}

func canView(g domain.Grievance, actorID string, role domain.Role) bool {
	return isStaff(role) || g.SubmitterID == actorID
}

// SubmitOptions are parameters for filing a grievance.
type SubmitOptions struct {
	ID           string
	SubmitterID  string
	ActorID      string
	Title        string
	Description  string
	Category     string
	Priority     domain.Priority
	Address      string
	Constituency string
	Attachments  []string
}

// Submit files a new grievance in status submitted with empty history.
// The first history entry appears on the first status change.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Grievance, error) {
	if e.Config == nil {
		return domain.Grievance{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Grievance{}, &domain.ValidationError{Field: "title", Reason: "required"}
	}
	if len(opts.Title) > 200 {
		return domain.Grievance{}, &domain.ValidationError{Field: "title", Reason: "exceeds 200 characters"}
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.Grievance{}, &domain.ValidationError{Field: "description", Reason: "required"}
	}
	if opts.Category == "" {
		return domain.Grievance{}, &domain.ValidationError{Field: "category", Reason: "required"}
	}
	if !e.Config.HasCategory(opts.Category) {
		return domain.Grievance{}, &domain.ValidationError{Field: "category", Reason: "unknown category " + opts.Category}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if _, ok := domain.ParsePriority(string(opts.Priority)); !ok {
		return domain.Grievance{}, &domain.ValidationError{Field: "priority", Reason: "unknown priority " + string(opts.Priority)}
	}
	if opts.SubmitterID == "" {
		opts.SubmitterID = opts.ActorID
	}
	if opts.SubmitterID == "" {
		return domain.Grievance{}, &domain.ValidationError{Field: "submitter_id", Reason: "required"}
	}
	ok, err := e.Directory.UserExists(ctx, opts.SubmitterID)
	if err != nil {
		return domain.Grievance{}, err
	}
	if !ok {
		return domain.Grievance{}, &domain.UnknownUserError{ID: opts.SubmitterID}
	}
	if opts.ActorID != "" && opts.ActorID != opts.SubmitterID {
		role, err := e.roleOf(ctx, opts.ActorID)
		if err != nil {
			return domain.Grievance{}, err
		}
		if !isStaff(role) {
			return domain.Grievance{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "submit on behalf of " + opts.SubmitterID}
		}
	}
	actorID := opts.ActorID
	if actorID == "" {
		actorID = opts.SubmitterID
	}
	attachments, err := marshalStringSlice(opts.Attachments)
	if err != nil {
		return domain.Grievance{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	g := domain.Grievance{
		ID:              id,
		SubmitterID:     opts.SubmitterID,
		Title:           opts.Title,
		Description:     opts.Description,
		Address:         optionalString(opts.Address),
		Constituency:    optionalString(opts.Constituency),
		Category:        opts.Category,
		Priority:        opts.Priority,
		Status:          domain.StatusSubmitted,
		AttachmentsJSON: attachments,
		Version:         0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Grievance{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertGrievanceTx(ctx, tx, g); err != nil {
		return domain.Grievance{}, err
	}
	if err := e.Events.Append(ctx, tx, "grievance.submitted", "grievance", g.ID, actorID, events.EventPayload{
		"title":        g.Title,
		"category":     g.Category,
		"priority":     string(g.Priority),
		"submitter_id": g.SubmitterID,
	}); err != nil {
		return domain.Grievance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Grievance{}, err
	}
	return g, nil
}

// Get returns a grievance with its full history. Citizens may only read
// their own records.
func (e Engine) Get(ctx context.Context, id, actorID string) (domain.Grievance, error) {
	role, err := e.roleOf(ctx, actorID)
	if err != nil {
		return domain.Grievance{}, err
	}
	g, err := e.Repo.GetGrievance(ctx, id)
	if err != nil {
		return domain.Grievance{}, err
	}
	if !canView(g, actorID, role) {
		return domain.Grievance{}, &domain.ForbiddenError{ActorID: actorID, Action: "view grievance " + id}
	}
	history, err := e.Repo.ListTransitions(ctx, id)
	if err != nil {
		return domain.Grievance{}, err
	}
	g.History = history
	return g, nil
}

// ListOptions narrow a listing. Ongoing selects every non-terminal
// status and wins over Status when both are set.
type ListOptions struct {
	ActorID         string
	SubmitterID     string
	Status          domain.Status
	Ongoing         bool
	Category        string
	DepartmentID    string
	Constituency    string
	Priority        domain.Priority
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (e Engine) List(ctx context.Context, opts ListOptions) ([]domain.Grievance, error) {
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return nil, err
	}
	if !isStaff(role) {
		if opts.SubmitterID != "" && opts.SubmitterID != opts.ActorID {
			return nil, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "list grievances of " + opts.SubmitterID}
		}
		opts.SubmitterID = opts.ActorID
	}
	f := repo.GrievanceFilters{
		SubmitterID:     opts.SubmitterID,
		Status:          opts.Status,
		Category:        opts.Category,
		DepartmentID:    opts.DepartmentID,
		Constituency:    opts.Constituency,
		Priority:        opts.Priority,
		Limit:           opts.Limit,
		CursorCreatedAt: opts.CursorCreatedAt,
		CursorID:        opts.CursorID,
	}
	if opts.Ongoing {
		f.Status = ""
		f.Statuses = []domain.Status{
			domain.StatusSubmitted,
			domain.StatusUnderReview,
			domain.StatusAssigned,
			domain.StatusInProgress,
		}
	}
	return e.Repo.ListGrievances(ctx, f)
}

// StatusChangeOptions request one lifecycle transition.
type StatusChangeOptions struct {
	ID      string
	To      domain.Status
	Note    string
	ActorID string
}

// UpdateStatus moves a grievance along the lifecycle. The row is
// re-read inside the transaction and written with a version check, so
// a concurrent writer loses with repo.ErrConflict instead of clobbering.
func (e Engine) UpdateStatus(ctx context.Context, opts StatusChangeOptions) (domain.Grievance, error) {
	if e.Config == nil {
		return domain.Grievance{}, errors.New("config not loaded")
	}
	if _, ok := domain.ParseStatus(string(opts.To)); !ok {
		return domain.Grievance{}, &domain.ValidationError{Field: "status", Reason: "unknown status " + string(opts.To)}
	}
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return domain.Grievance{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Grievance{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGrievanceTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Grievance{}, err
	}
	if err := status.Validate(g.Status, opts.To, role); err != nil {
		var fe *domain.ForbiddenError
		if errors.As(err, &fe) {
			fe.ActorID = opts.ActorID
		}
		return g, err
	}
	if opts.To == domain.StatusWithdrawn && g.SubmitterID != opts.ActorID {
		return g, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "withdraw grievance " + g.ID}
	}
	if opts.To == domain.StatusRejected && strings.TrimSpace(opts.Note) == "" {
		return g, &domain.ValidationError{Field: "note", Reason: "required when rejecting"}
	}
	if opts.To == domain.StatusAssigned && g.AssignedDepartmentID == nil {
		return g, &domain.InvalidStateError{Status: g.Status, Op: "transition to assigned without a department"}
	}
	from := g.Status
	now := e.now().UTC().Format(time.RFC3339)
	g.Status = opts.To
	g.UpdatedAt = now
	if opts.To == domain.StatusResolved {
		g.ResolvedAt = &now
	}
	if err := e.Repo.UpdateGrievanceTx(ctx, tx, g); err != nil {
		return g, err
	}
	if _, err := e.Repo.AppendTransitionTx(ctx, tx, domain.Transition{
		GrievanceID: g.ID,
		From:        from,
		To:          opts.To,
		ActorID:     opts.ActorID,
		Note:        opts.Note,
		TS:          now,
	}); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "grievance.status_changed", "grievance", g.ID, opts.ActorID, events.EventPayload{
		"from":         string(from),
		"to":           string(opts.To),
		"note":         opts.Note,
		"submitter_id": g.SubmitterID,
		"title":        g.Title,
	}); err != nil {
		return g, err
	}
	updated, err := e.Repo.GetGrievanceTx(ctx, tx, g.ID)
	if err != nil {
		return g, err
	}
	updated.History, err = e.Repo.ListTransitionsTx(ctx, tx, g.ID)
	if err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return updated, nil
}

// AssignOptions route a grievance. An empty DepartmentID falls back to
// the configured category route. An empty AssigneeID clears any
// previous individual assignee.
type AssignOptions struct {
	ID           string
	DepartmentID string
	AssigneeID   string
	Note         string
	ActorID      string
}

// Assign sets the responsible department once review has started. A
// grievance still under review auto-advances to assigned; repeating the
// call reroutes it and appends a history entry that keeps from == to.
func (e Engine) Assign(ctx context.Context, opts AssignOptions) (domain.Grievance, error) {
	if e.Config == nil {
		return domain.Grievance{}, errors.New("config not loaded")
	}
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return domain.Grievance{}, err
	}
	if !isStaff(role) {
		return domain.Grievance{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "assign grievance " + opts.ID}
	}
	g, err := e.Repo.GetGrievance(ctx, opts.ID)
	if err != nil {
		return domain.Grievance{}, err
	}
	deptID := opts.DepartmentID
	if deptID == "" {
		routed, ok := e.Config.RouteDepartment(g.Category)
		if !ok {
			return g, &domain.ValidationError{Field: "department_id", Reason: "required; no route for category " + g.Category}
		}
		deptID = routed
	}
	ok, err := e.Directory.DepartmentExists(ctx, deptID)
	if err != nil {
		return g, err
	}
	if !ok {
		return g, &domain.UnknownDepartmentError{ID: deptID}
	}
	if opts.AssigneeID != "" {
		assigneeRole, err := e.Directory.UserRole(ctx, opts.AssigneeID)
		if err != nil {
			return g, err
		}
		if !isStaff(assigneeRole) {
			return g, &domain.ValidationError{Field: "assignee_id", Reason: "must be staff or admin"}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()

	g, err = e.Repo.GetGrievanceTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Grievance{}, err
	}
	if !status.Assignable(g.Status) {
		if status.IsTerminal(g.Status) {
			return g, &domain.TerminalStateError{Status: g.Status}
		}
		return g, &domain.InvalidStateError{Status: g.Status, Op: "assignment"}
	}
	reassigned := g.AssignedDepartmentID != nil
	from := g.Status
	to := g.Status
	if g.Status == domain.StatusUnderReview {
		to = domain.StatusAssigned
	}
	note := opts.Note
	if note == "" {
		if reassigned {
			note = "Reassigned"
		} else {
			note = "Assigned to " + deptID
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	g.AssignedDepartmentID = &deptID
	g.AssignedUserID = optionalString(opts.AssigneeID)
	g.Status = to
	g.UpdatedAt = now
	if err := e.Repo.UpdateGrievanceTx(ctx, tx, g); err != nil {
		return g, err
	}
	if _, err := e.Repo.AppendTransitionTx(ctx, tx, domain.Transition{
		GrievanceID: g.ID,
		From:        from,
		To:          to,
		ActorID:     opts.ActorID,
		Note:        note,
		TS:          now,
	}); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "grievance.assigned", "grievance", g.ID, opts.ActorID, events.EventPayload{
		"department_id": deptID,
		"assignee_id":   opts.AssigneeID,
		"reassigned":    reassigned,
		"submitter_id":  g.SubmitterID,
		"title":         g.Title,
	}); err != nil {
		return g, err
	}
	updated, err := e.Repo.GetGrievanceTx(ctx, tx, g.ID)
	if err != nil {
		return g, err
	}
	updated.History, err = e.Repo.ListTransitionsTx(ctx, tx, g.ID)
	if err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return updated, nil
}

type DeleteOptions struct {
	ID      string
	ActorID string
	Note    string
	Hard    bool
}

// Delete is narrower than withdrawing. The submitter may delete only
// while the grievance is still submitted; once review starts they can
// at most withdraw through UpdateStatus. Hard deletion purges the
// record and is an admin-only operation; the audit event survives.
func (e Engine) Delete(ctx context.Context, opts DeleteOptions) (domain.Grievance, error) {
	if e.Config == nil {
		return domain.Grievance{}, errors.New("config not loaded")
	}
	if !opts.Hard {
		g, err := e.Repo.GetGrievance(ctx, opts.ID)
		if err != nil {
			return domain.Grievance{}, err
		}
		if g.SubmitterID != opts.ActorID || g.Status != domain.StatusSubmitted {
			return domain.Grievance{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "delete grievance " + opts.ID}
		}
		return e.UpdateStatus(ctx, StatusChangeOptions{
			ID:      opts.ID,
			To:      domain.StatusWithdrawn,
			Note:    opts.Note,
			ActorID: opts.ActorID,
		})
	}
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return domain.Grievance{}, err
	}
	if role != domain.RoleAdmin {
		return domain.Grievance{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "hard delete grievance " + opts.ID}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Grievance{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGrievanceTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Grievance{}, err
	}
	if err := e.Repo.HardDeleteGrievanceTx(ctx, tx, opts.ID); err != nil {
		return g, err
	}
	if err := e.Events.Append(ctx, tx, "grievance.deleted", "grievance", g.ID, opts.ActorID, events.EventPayload{
		"status_at_delete": string(g.Status),
		"title":            g.Title,
	}); err != nil {
		return g, err
	}
	if err := tx.Commit(); err != nil {
		return g, err
	}
	return g, nil
}

// StatsOptions narrow the aggregate report.
type StatsOptions struct {
	ActorID      string
	DepartmentID string
	Category     string
	Constituency string
	Since        string
	Until        string
}

const resolvedPageSize = 500

// Stats aggregates counts and the mean resolution time. Resolution
// times are averaged over resolved grievances only and the average is
// nil when none match. The resolved set is walked page by page.
func (e Engine) Stats(ctx context.Context, opts StatsOptions) (domain.Stats, error) {
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return domain.Stats{}, err
	}
	if !isStaff(role) {
		return domain.Stats{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "view stats"}
	}
	f := repo.StatsFilter{
		DepartmentID: opts.DepartmentID,
		Category:     opts.Category,
		Constituency: opts.Constituency,
		Since:        opts.Since,
		Until:        opts.Until,
	}
	total, err := e.Repo.CountGrievances(ctx, f)
	if err != nil {
		return domain.Stats{}, err
	}
	byStatus, err := e.Repo.CountGrievancesByStatus(ctx, f)
	if err != nil {
		return domain.Stats{}, err
	}
	for _, s := range domain.Statuses() {
		if _, ok := byStatus[s]; !ok {
			byStatus[s] = 0
		}
	}
	byDept, err := e.Repo.CountGrievancesByDepartment(ctx, f)
	if err != nil {
		return domain.Stats{}, err
	}
	byPriority, err := e.Repo.CountGrievancesByPriority(ctx, f)
	if err != nil {
		return domain.Stats{}, err
	}
	stats := domain.Stats{
		TotalCount:        total,
		CountByStatus:     byStatus,
		CountByDepartment: byDept,
		CountByPriority:   byPriority,
	}
	var sum float64
	var count int64
	cursorCreatedAt, cursorID := "", ""
	for {
		page, err := e.Repo.ResolvedPage(ctx, f, cursorCreatedAt, cursorID, resolvedPageSize)
		if err != nil {
			return domain.Stats{}, err
		}
		for _, g := range page {
			if g.ResolvedAt == nil {
				continue
			}
			created, err := time.Parse(time.RFC3339, g.CreatedAt)
			if err != nil {
				continue
			}
			resolved, err := time.Parse(time.RFC3339, *g.ResolvedAt)
			if err != nil {
				continue
			}
			sum += resolved.Sub(created).Seconds()
			count++
		}
		if len(page) < resolvedPageSize {
			break
		}
		last := page[len(page)-1]
		cursorCreatedAt, cursorID = last.CreatedAt, last.ID
	}
	if count > 0 {
		avg := sum / float64(count)
		stats.AverageResolutionSeconds = &avg
	}
	return stats, nil
}

// CommentOptions add a thread entry. Internal marks a staff note the
// submitter never sees.
type CommentOptions struct {
	GrievanceID string
	AuthorID    string
	Body        string
	Internal    bool
}

func (e Engine) AddComment(ctx context.Context, opts CommentOptions) (domain.Comment, error) {
	if strings.TrimSpace(opts.Body) == "" {
		return domain.Comment{}, &domain.ValidationError{Field: "body", Reason: "required"}
	}
	role, err := e.roleOf(ctx, opts.AuthorID)
	if err != nil {
		return domain.Comment{}, err
	}
	g, err := e.Repo.GetGrievance(ctx, opts.GrievanceID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !canView(g, opts.AuthorID, role) {
		return domain.Comment{}, &domain.ForbiddenError{ActorID: opts.AuthorID, Action: "comment on grievance " + opts.GrievanceID}
	}
	if opts.Internal && !isStaff(role) {
		return domain.Comment{}, &domain.ForbiddenError{ActorID: opts.AuthorID, Action: "add internal note"}
	}
	c := domain.Comment{
		ID:          uuid.New().String(),
		GrievanceID: opts.GrievanceID,
		AuthorID:    opts.AuthorID,
		Body:        opts.Body,
		Internal:    opts.Internal,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "grievance.commented", "grievance", g.ID, opts.AuthorID, events.EventPayload{
		"comment_id":   c.ID,
		"internal":     c.Internal,
		"submitter_id": g.SubmitterID,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func (e Engine) ListComments(ctx context.Context, grievanceID, actorID string) ([]domain.Comment, error) {
	role, err := e.roleOf(ctx, actorID)
	if err != nil {
		return nil, err
	}
	g, err := e.Repo.GetGrievance(ctx, grievanceID)
	if err != nil {
		return nil, err
	}
	if !canView(g, actorID, role) {
		return nil, &domain.ForbiddenError{ActorID: actorID, Action: "view grievance " + grievanceID}
	}
	return e.Repo.ListComments(ctx, grievanceID, isStaff(role))
}

// NotificationQuery pages a user's feed.
type NotificationQuery struct {
	ActorID         string
	UnreadOnly      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// Notifications returns the actor's personal feed plus public
// broadcasts, newest first.
func (e Engine) Notifications(ctx context.Context, q NotificationQuery) ([]domain.Notification, error) {
	if _, err := e.roleOf(ctx, q.ActorID); err != nil {
		return nil, err
	}
	return e.Repo.ListNotifications(ctx, repo.NotificationFilters{
		UserID:          q.ActorID,
		UnreadOnly:      q.UnreadOnly,
		Limit:           q.Limit,
		CursorCreatedAt: q.CursorCreatedAt,
		CursorID:        q.CursorID,
	})
}

// PublicNotifications returns broadcasts only. No identity required.
func (e Engine) PublicNotifications(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, repo.NotificationFilters{
		PublicOnly:      true,
		Limit:           limit,
		CursorCreatedAt: cursorCreatedAt,
		CursorID:        cursorID,
	})
}

func (e Engine) MarkNotificationRead(ctx context.Context, id, actorID string) error {
	if _, err := e.roleOf(ctx, actorID); err != nil {
		return err
	}
	return e.Repo.MarkNotificationRead(ctx, id, actorID)
}

// DepartmentOptions create a routing target.
type DepartmentOptions struct {
	ID          string
	Name        string
	Description string
	ActorID     string
}

func (e Engine) CreateDepartment(ctx context.Context, opts DepartmentOptions) (domain.Department, error) {
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return domain.Department{}, err
	}
	if role != domain.RoleAdmin {
		return domain.Department{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "create department"}
	}
	if strings.TrimSpace(opts.ID) == "" {
		return domain.Department{}, &domain.ValidationError{Field: "department_id", Reason: "required"}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Department{}, &domain.ValidationError{Field: "name", Reason: "required"}
	}
	exists, err := e.Directory.DepartmentExists(ctx, opts.ID)
	if err != nil {
		return domain.Department{}, err
	}
	if exists {
		return domain.Department{}, &domain.ValidationError{Field: "department_id", Reason: "already exists"}
	}
	d := domain.Department{
		ID:          opts.ID,
		Name:        opts.Name,
		Description: opts.Description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDepartmentTx(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "department.created", "department", d.ID, opts.ActorID, events.EventPayload{"name": d.Name}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

func (e Engine) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	return e.Repo.GetDepartment(ctx, id)
}

func (e Engine) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	return e.Repo.ListDepartments(ctx)
}

// UserOptions provision or update a directory user.
type UserOptions struct {
	ID      string
	Name    string
	Role    domain.Role
	ActorID string
}

func (e Engine) UpsertUser(ctx context.Context, opts UserOptions) (domain.User, error) {
	role, err := e.roleOf(ctx, opts.ActorID)
	if err != nil {
		return domain.User{}, err
	}
	if role != domain.RoleAdmin {
		return domain.User{}, &domain.ForbiddenError{ActorID: opts.ActorID, Action: "manage users"}
	}
	if strings.TrimSpace(opts.ID) == "" {
		return domain.User{}, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if opts.Role == "" {
		opts.Role = domain.RoleCitizen
	}
	if _, ok := domain.ParseRole(string(opts.Role)); !ok {
		return domain.User{}, &domain.ValidationError{Field: "role", Reason: "unknown role " + string(opts.Role)}
	}
	u := domain.User{
		ID:        opts.ID,
		Name:      opts.Name,
		Role:      opts.Role,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertUserTx(ctx, tx, u); err != nil {
		return u, err
	}
	if err := e.Events.Append(ctx, tx, "user.upserted", "user", u.ID, opts.ActorID, events.EventPayload{"role": string(u.Role)}); err != nil {
		return u, err
	}
	if err := tx.Commit(); err != nil {
		return u, err
	}
	return u, nil
}

// WhoAmI resolves the acting user with their role.
func (e Engine) WhoAmI(ctx context.Context, actorID string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return u, &domain.UnknownUserError{ID: actorID}
	}
	return u, err
}

// --- helpers ---

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
