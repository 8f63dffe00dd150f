package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists user records in Postgres. Merge writes use upserts that
// touch only the written column, mirroring document-style merge semantics.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// CreateUser inserts a new user record. Existing records are left untouched.
func (r *Repository) CreateUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return errors.New("user id required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, roll_no, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Name, u.Email, u.Role, u.RollNo, u.CreatedAt)
	return err
}

// GetUser returns a user by account id, or nil when absent.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, `
		SELECT id, name, email, COALESCE(role, ''), COALESCE(roll_no, ''), created_at
		FROM users WHERE id = $1
	`, id)
}

// GetUserByEmail returns a user by email, or nil when absent.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `
		SELECT id, name, email, COALESCE(role, ''), COALESCE(roll_no, ''), created_at
		FROM users WHERE email = $1
	`, email)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.RollNo, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user record ordered by registration time.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, COALESCE(role, ''), COALESCE(roll_no, ''), created_at
		FROM users
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.RollNo, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// MergeRole writes the role attribute, creating the record if the account
// event arrived before the profile write.
func (r *Repository) MergeRole(ctx context.Context, id string, role Role) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, role)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role
	`, id, string(role))
	return err
}

// MergeRollNo writes the roll number attribute onto an existing record.
func (r *Repository) MergeRollNo(ctx context.Context, id, rollNo string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET roll_no = $2 WHERE id = $1`, id, rollNo)
	return err
}
