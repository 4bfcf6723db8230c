package repo

import (
	"context"
	"database/sql"

	"grievline/internal/domain"
)

// UpsertAdminCredential stores or replaces a password hash. Bootstrap
// calls this at startup so stale hashes never survive a rotation.
func (r Repo) UpsertAdminCredential(ctx context.Context, cred domain.AdminCredential) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO admin_credentials(user_id,email,password_hash,created_at) VALUES (?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET email=excluded.email, password_hash=excluded.password_hash`,
		cred.UserID, cred.Email, cred.PasswordHash, cred.CreatedAt)
	return dbErr(err)
}

func (r Repo) GetAdminCredentialByEmail(ctx context.Context, email string) (domain.AdminCredential, error) {
	var cred domain.AdminCredential
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,email,password_hash,created_at FROM admin_credentials WHERE email=?`, email).
		Scan(&cred.UserID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt)
	if err == sql.ErrNoRows {
		return cred, ErrNotFound
	}
	if err != nil {
		return cred, dbErr(err)
	}
	return cred, nil
}
