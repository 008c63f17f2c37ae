package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// UserRepository handles users.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, full_name, password_hash, role, is_active,
		       department_id, position_id, created_at`

// Create inserts a user. Usernames are unique.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users
		    (username, full_name, password_hash, role, is_active,
		     department_id, position_id)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		u.Username,
		u.FullName,
		u.PasswordHash,
		u.Role,
		u.IsActive,
		u.DepartmentID,
		u.PositionID,
	).Scan(&u.ID, &u.CreatedAt)
	if database.IsUniqueViolation(err, "") {
		return errors.InvalidInput("username", "username already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := r.scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetByUsername retrieves a user by login name.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := r.scanUser(r.db.QueryRow(ctx, query, username))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", username)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// List returns all users ordered by id.
func (r *UserRepository) List(ctx context.Context) ([]*User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY id ASC`)
}

// ListActiveByPosition returns active users holding the position.
func (r *UserRepository) ListActiveByPosition(ctx context.Context, positionID PositionID) ([]*User, error) {
	return r.list(ctx,
		`SELECT `+userColumns+` FROM users WHERE position_id = $1 AND is_active ORDER BY id ASC`,
		positionID,
	)
}

// Update overwrites profile, role, and assignment columns.
func (r *UserRepository) Update(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET full_name     = $2,
		    role          = $3,
		    is_active     = $4,
		    department_id = $5,
		    position_id   = $6
		WHERE id = $1
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query,
		u.ID,
		u.FullName,
		u.Role,
		u.IsActive,
		u.DepartmentID,
		u.PositionID,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return errors.NotFound("user", u.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update user")
	}
	return nil
}

// SetPassword replaces the stored password hash.
func (r *UserRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to set password")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", id)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type userScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.FullName,
		&u.PasswordHash,
		&u.Role,
		&u.IsActive,
		&u.DepartmentID,
		&u.PositionID,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
