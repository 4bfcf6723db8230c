package repo

import (
	"context"
	"database/sql"

	"grievline/internal/domain"
)

// UpsertUser registers a user or refreshes its name and role. IDs come
// from the civic identity provider, so collisions mean the same person.
func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, upsertUserSQL, u.ID, u.Name, string(u.Role), u.CreatedAt)
	return dbErr(err)
}

func (r Repo) UpsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, upsertUserSQL, u.ID, u.Name, string(u.Role), u.CreatedAt)
	return dbErr(err)
}

const upsertUserSQL = `INSERT INTO users(id,name,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, dbErr(err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

func (r Repo) UserExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dbErr(err)
	}
	return true, nil
}

func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT id,name,role,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var roleCol string
		if err := rows.Scan(&u.ID, &u.Name, &roleCol, &u.CreatedAt); err != nil {
			return nil, dbErr(err)
		}
		u.Role = domain.Role(roleCol)
		res = append(res, u)
	}
	return res, dbErr(rows.Err())
}

func (r Repo) InsertDepartmentTx(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO departments(id,name,description,created_at) VALUES (?,?,?,?)`,
		d.ID, d.Name, nullable(d.Description), d.CreatedAt)
	return dbErr(err)
}

// EnsureDepartment seeds a department if absent, leaving existing rows
// untouched so operators can rename them without config fights.
func (r Repo) EnsureDepartment(ctx context.Context, d domain.Department) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO departments(id,name,description,created_at) VALUES (?,?,?,?)`,
		d.ID, d.Name, nullable(d.Description), d.CreatedAt)
	return dbErr(err)
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	var d domain.Department
	var description sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,created_at FROM departments WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &description, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, dbErr(err)
	}
	if description.Valid {
		d.Description = description.String
	}
	return d, nil
}

func (r Repo) DepartmentExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM departments WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dbErr(err)
	}
	return true, nil
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,created_at FROM departments ORDER BY id ASC`)
	if err != nil {
		return nil, dbErr(err)
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		var description sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &description, &d.CreatedAt); err != nil {
			return nil, dbErr(err)
		}
		if description.Valid {
			d.Description = description.String
		}
		res = append(res, d)
	}
	return res, dbErr(rows.Err())
}
