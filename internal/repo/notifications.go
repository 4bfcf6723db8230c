package repo

import (
	"context"
	"database/sql"
	"strings"

	"grievline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,title,body,kind,is_read,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, nullableStringPtr(n.UserID), n.Title, nullable(n.Body), n.Kind, boolToInt(n.IsRead), n.CreatedAt)
	return dbErr(err)
}

type NotificationFilters struct {
	// UserID selects personal notifications plus public broadcasts.
	UserID string
	// PublicOnly restricts to broadcasts with no recipient.
	PublicOnly      bool
	UnreadOnly      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "(user_id=? OR user_id IS NULL)")
		args = append(args, f.UserID)
	}
	if f.PublicOnly {
		clauses = append(clauses, "user_id IS NULL")
	}
	if f.UnreadOnly {
		clauses = append(clauses, "is_read=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,user_id,title,body,kind,is_read,created_at FROM notifications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var userID, body sql.NullString
		var isRead int
		if err := rows.Scan(&n.ID, &userID, &n.Title, &body, &n.Kind, &isRead, &n.CreatedAt); err != nil {
			return nil, dbErr(err)
		}
		if userID.Valid {
			n.UserID = &userID.String
		}
		if body.Valid {
			n.Body = body.String
		}
		n.IsRead = isRead != 0
		res = append(res, n)
	}
	return res, dbErr(rows.Err())
}

// MarkNotificationRead flips the read flag for a notification the user
// owns. Public broadcasts cannot be marked read.
func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return dbErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnreadNotifications excludes broadcasts: they carry no read
// state, so they would never leave the count.
func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id=? AND is_read=0`, userID).Scan(&n)
	if err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}
