package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"grievline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a version-checked write that lost a race.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable wraps driver failures so callers can tell a store
	// outage from a domain outcome.
	ErrUnavailable = errors.New("store unavailable")
)

func dbErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

const grievanceCols = `id,submitter_id,title,description,address,constituency,category,priority,status,assigned_department_id,assigned_user_id,attachments_json,version,created_at,updated_at,resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrievance(row rowScanner) (domain.Grievance, error) {
	var g domain.Grievance
	var address, constituency, deptID, userID, attachments, resolvedAt sql.NullString
	var priority, status string
	err := row.Scan(&g.ID, &g.SubmitterID, &g.Title, &g.Description, &address, &constituency, &g.Category,
		&priority, &status, &deptID, &userID, &attachments, &g.Version, &g.CreatedAt, &g.UpdatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, dbErr(err)
	}
	g.Priority = domain.Priority(priority)
	g.Status = domain.Status(status)
	if address.Valid {
		g.Address = &address.String
	}
	if constituency.Valid {
		g.Constituency = &constituency.String
	}
	if deptID.Valid {
		g.AssignedDepartmentID = &deptID.String
	}
	if userID.Valid {
		g.AssignedUserID = &userID.String
	}
	if attachments.Valid {
		g.AttachmentsJSON = &attachments.String
	}
	if resolvedAt.Valid {
		g.ResolvedAt = &resolvedAt.String
	}
	return g, nil
}

func (r Repo) InsertGrievanceTx(ctx context.Context, tx *sql.Tx, g domain.Grievance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO grievances(`+grievanceCols+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.SubmitterID, g.Title, g.Description, nullableStringPtr(g.Address), nullableStringPtr(g.Constituency),
		g.Category, string(g.Priority), string(g.Status), nullableStringPtr(g.AssignedDepartmentID),
		nullableStringPtr(g.AssignedUserID), nullableStringPtr(g.AttachmentsJSON), g.Version,
		g.CreatedAt, g.UpdatedAt, nullableStringPtr(g.ResolvedAt))
	return dbErr(err)
}

func (r Repo) GetGrievance(ctx context.Context, id string) (domain.Grievance, error) {
	return scanGrievance(r.DB.QueryRowContext(ctx, `SELECT `+grievanceCols+` FROM grievances WHERE id=?`, id))
}

func (r Repo) GetGrievanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Grievance, error) {
	return scanGrievance(tx.QueryRowContext(ctx, `SELECT `+grievanceCols+` FROM grievances WHERE id=?`, id))
}

// UpdateGrievanceTx writes every mutable field, guarded by the version
// the caller read. A raced version yields ErrConflict; a missing row
// yields ErrNotFound. The row's version is incremented in place.
func (r Repo) UpdateGrievanceTx(ctx context.Context, tx *sql.Tx, g domain.Grievance) error {
	res, err := tx.ExecContext(ctx, `UPDATE grievances SET title=?, description=?, address=?, constituency=?, category=?, priority=?, status=?, assigned_department_id=?, assigned_user_id=?, attachments_json=?, version=version+1, updated_at=?, resolved_at=? WHERE id=? AND version=?`,
		g.Title, g.Description, nullableStringPtr(g.Address), nullableStringPtr(g.Constituency), g.Category,
		string(g.Priority), string(g.Status), nullableStringPtr(g.AssignedDepartmentID), nullableStringPtr(g.AssignedUserID),
		nullableStringPtr(g.AttachmentsJSON), g.UpdatedAt, nullableStringPtr(g.ResolvedAt), g.ID, g.Version)
	if err != nil {
		return dbErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM grievances WHERE id=?`, g.ID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return dbErr(err)
		}
		return ErrConflict
	}
	return nil
}

// HardDeleteGrievanceTx removes the record with its transitions and
// comments. The events table keeps its audit trail.
func (r Repo) HardDeleteGrievanceTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM grievance_comments WHERE grievance_id=?`, id); err != nil {
		return dbErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM grievance_transitions WHERE grievance_id=?`, id); err != nil {
		return dbErr(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM grievances WHERE id=?`, id)
	if err != nil {
		return dbErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTransitionTx assigns the next sequence number and inserts one
// history entry. History rows are never updated or deleted while the
// grievance lives.
func (r Repo) AppendTransitionTx(ctx context.Context, tx *sql.Tx, t domain.Transition) (domain.Transition, error) {
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM grievance_transitions WHERE grievance_id=?`, t.GrievanceID).Scan(&t.Seq)
	if err != nil {
		return t, dbErr(err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO grievance_transitions(grievance_id,seq,from_status,to_status,actor_id,note,ts) VALUES (?,?,?,?,?,?,?)`,
		t.GrievanceID, t.Seq, string(t.From), string(t.To), t.ActorID, nullable(t.Note), t.TS)
	if err != nil {
		return t, dbErr(err)
	}
	return t, nil
}

func scanTransitions(rows *sql.Rows) ([]domain.Transition, error) {
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		var t domain.Transition
		var from, to string
		var note sql.NullString
		if err := rows.Scan(&t.GrievanceID, &t.Seq, &from, &to, &t.ActorID, &note, &t.TS); err != nil {
			return nil, dbErr(err)
		}
		t.From = domain.Status(from)
		t.To = domain.Status(to)
		if note.Valid {
			t.Note = note.String
		}
		res = append(res, t)
	}
	return res, dbErr(rows.Err())
}

func (r Repo) ListTransitions(ctx context.Context, grievanceID string) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT grievance_id,seq,from_status,to_status,actor_id,note,ts FROM grievance_transitions WHERE grievance_id=? ORDER BY seq ASC`, grievanceID)
	if err != nil {
		return nil, dbErr(err)
	}
	return scanTransitions(rows)
}

func (r Repo) ListTransitionsTx(ctx context.Context, tx *sql.Tx, grievanceID string) ([]domain.Transition, error) {
	rows, err := tx.QueryContext(ctx, `SELECT grievance_id,seq,from_status,to_status,actor_id,note,ts FROM grievance_transitions WHERE grievance_id=? ORDER BY seq ASC`, grievanceID)
	if err != nil {
		return nil, dbErr(err)
	}
	return scanTransitions(rows)
}

type GrievanceFilters struct {
	SubmitterID     string
	Status          domain.Status
	Statuses        []domain.Status
	Category        string
	DepartmentID    string
	Constituency    string
	Priority        domain.Priority
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListGrievances(ctx context.Context, f GrievanceFilters) ([]domain.Grievance, error) {
	var clauses []string
	var args []any
	if f.SubmitterID != "" {
		clauses = append(clauses, "submitter_id=?")
		args = append(args, f.SubmitterID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if len(f.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		clauses = append(clauses, "status IN ("+placeholders+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.DepartmentID != "" {
		clauses = append(clauses, "assigned_department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.Constituency != "" {
		clauses = append(clauses, "constituency=?")
		args = append(args, f.Constituency)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, string(f.Priority))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + grievanceCols + ` FROM grievances ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var res []domain.Grievance
	for rows.Next() {
		g, err := scanGrievance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, dbErr(rows.Err())
}

// StatsFilter narrows aggregation queries. Since/Until bound created_at
// inclusively and are RFC3339 strings like every other timestamp.
type StatsFilter struct {
	DepartmentID string
	Category     string
	Constituency string
	Since        string
	Until        string
}

func statsWhere(f StatsFilter) ([]string, []any) {
	var clauses []string
	var args []any
	if f.DepartmentID != "" {
		clauses = append(clauses, "assigned_department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Constituency != "" {
		clauses = append(clauses, "constituency=?")
		args = append(args, f.Constituency)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.Until)
	}
	return clauses, args
}

func (r Repo) CountGrievances(ctx context.Context, f StatsFilter) (int64, error) {
	clauses, args := statsWhere(f)
	query := `SELECT count(*) FROM grievances`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	var n int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}

func (r Repo) CountGrievancesByStatus(ctx context.Context, f StatsFilter) (map[domain.Status]int64, error) {
	clauses, args := statsWhere(f)
	query := `SELECT status, count(*) FROM grievances`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	res := map[domain.Status]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, dbErr(err)
		}
		res[domain.Status(status)] = count
	}
	return res, dbErr(rows.Err())
}

func (r Repo) CountGrievancesByDepartment(ctx context.Context, f StatsFilter) (map[string]int64, error) {
	clauses, args := statsWhere(f)
	clauses = append(clauses, "assigned_department_id IS NOT NULL")
	query := `SELECT assigned_department_id, count(*) FROM grievances WHERE ` + strings.Join(clauses, " AND ") + ` GROUP BY assigned_department_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	res := map[string]int64{}
	for rows.Next() {
		var dept string
		var count int64
		if err := rows.Scan(&dept, &count); err != nil {
			return nil, dbErr(err)
		}
		res[dept] = count
	}
	return res, dbErr(rows.Err())
}

func (r Repo) CountGrievancesByPriority(ctx context.Context, f StatsFilter) (map[domain.Priority]int64, error) {
	clauses, args := statsWhere(f)
	query := `SELECT priority, count(*) FROM grievances`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` GROUP BY priority`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	res := map[domain.Priority]int64{}
	for rows.Next() {
		var priority string
		var count int64
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, dbErr(err)
		}
		res[domain.Priority(priority)] = count
	}
	return res, dbErr(rows.Err())
}

// ResolvedPage returns one keyset page of resolved grievances so the
// aggregator can average resolution times without loading the full set.
func (r Repo) ResolvedPage(ctx context.Context, f StatsFilter, cursorCreatedAt, cursorID string, limit int) ([]domain.Grievance, error) {
	if limit <= 0 {
		limit = 500
	}
	clauses, args := statsWhere(f)
	clauses = append(clauses, "status=?", "resolved_at IS NOT NULL")
	args = append(args, string(domain.StatusResolved))
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + grievanceCols + ` FROM grievances WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var res []domain.Grievance
	for rows.Next() {
		g, err := scanGrievance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, dbErr(rows.Err())
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in
// ascending order. The notify dispatcher tails commits through this.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, dbErr(err)
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		res = append(res, e)
	}
	return res, dbErr(rows.Err())
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, dbErr(err)
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
