// Package directory resolves users and departments against the store.
// The engine depends on the interface, not on this implementation, so a
// deployment can swap in an external identity provider.
package directory

import (
	"context"
	"database/sql"
	"errors"

	"grievline/internal/domain"
	"grievline/internal/repo"
)

type SQL struct {
	Repo repo.Repo
}

func NewSQL(db *sql.DB) SQL {
	return SQL{Repo: repo.Repo{DB: db}}
}

func (d SQL) UserExists(ctx context.Context, id string) (bool, error) {
	return d.Repo.UserExists(ctx, id)
}

func (d SQL) DepartmentExists(ctx context.Context, id string) (bool, error) {
	return d.Repo.DepartmentExists(ctx, id)
}

func (d SQL) UserRole(ctx context.Context, id string) (domain.Role, error) {
	u, err := d.Repo.GetUser(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return "", &domain.UnknownUserError{ID: id}
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}
