package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/bini59/kiko-vooster/internal/model"
)

// UserRepo reads public profile fields from the 'users' table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// GetByEmail fetches a profile by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.UserProfile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var (
		u    model.UserProfile
		name sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,full_name FROM users WHERE email=? LIMIT 1",
		email).Scan(&u.ID, &u.Email, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.FullName = strPtr(name)
	return u, err
}

// GetByID fetches a profile by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.UserProfile, error) {
	var (
		u    model.UserProfile
		name sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,full_name FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.FullName = strPtr(name)
	return u, err
}

// ProfilesByID loads the profiles of the given ids. Unknown ids are absent
// from the result.
func (r *UserRepo) ProfilesByID(ctx context.Context, ids []string) (map[string]model.UserProfile, error) {
	out := make(map[string]model.UserProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := "SELECT id,email,full_name FROM users WHERE id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			u    model.UserProfile
			name sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Email, &name); err != nil {
			return nil, err
		}
		u.FullName = strPtr(name)
		out[u.ID] = u
	}
	return out, rows.Err()
}
