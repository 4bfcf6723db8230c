package repo

import (
	"context"
	"database/sql"

	"grievline/internal/domain"
)

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO grievance_comments(id,grievance_id,author_id,body,internal,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.GrievanceID, c.AuthorID, c.Body, boolToInt(c.Internal), c.CreatedAt)
	return dbErr(err)
}

// ListComments returns the thread in conversation order. Internal notes
// are filtered out unless includeInternal is set.
func (r Repo) ListComments(ctx context.Context, grievanceID string, includeInternal bool) ([]domain.Comment, error) {
	query := `SELECT id,grievance_id,author_id,body,internal,created_at FROM grievance_comments WHERE grievance_id=?`
	if !includeInternal {
		query += ` AND internal=0`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, grievanceID)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var internal int
		if err := rows.Scan(&c.ID, &c.GrievanceID, &c.AuthorID, &c.Body, &internal, &c.CreatedAt); err != nil {
			return nil, dbErr(err)
		}
		c.Internal = internal != 0
		res = append(res, c)
	}
	return res, dbErr(rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
