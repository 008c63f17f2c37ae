package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// PositionRepository handles positions.
type PositionRepository struct {
	db *database.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *database.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a position. Names are unique.
func (r *PositionRepository) Create(ctx context.Context, p *Position) error {
	query := `
		INSERT INTO positions (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, p.Name, p.Description).Scan(&p.ID, &p.CreatedAt)
	if database.IsUniqueViolation(err, "") {
		return errors.InvalidInput("name", "position name already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create position")
	}
	return nil
}

// GetByID retrieves a position.
func (r *PositionRepository) GetByID(ctx context.Context, id PositionID) (*Position, error) {
	query := `
		SELECT id, name, description, created_at
		FROM positions
		WHERE id = $1
	`

	p := &Position{}
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("position", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get position")
	}
	return p, nil
}

// GetByName retrieves a position by its unique name.
func (r *PositionRepository) GetByName(ctx context.Context, name string) (*Position, error) {
	query := `
		SELECT id, name, description, created_at
		FROM positions
		WHERE name = $1
	`

	p := &Position{}
	err := r.db.QueryRow(ctx, query, name).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("position", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get position")
	}
	return p, nil
}

// List returns all positions ordered by id.
func (r *PositionRepository) List(ctx context.Context) ([]*Position, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, description, created_at FROM positions ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list positions")
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p := &Position{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan position")
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// DepartmentRepository handles departments.
type DepartmentRepository struct {
	db *database.DB
}

// NewDepartmentRepository creates a new DepartmentRepository.
func NewDepartmentRepository(db *database.DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

// Create inserts a department. Names are unique.
func (r *DepartmentRepository) Create(ctx context.Context, d *Department) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO departments (name) VALUES ($1) RETURNING id, created_at`,
		d.Name,
	).Scan(&d.ID, &d.CreatedAt)
	if database.IsUniqueViolation(err, "") {
		return errors.InvalidInput("name", "department name already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create department")
	}
	return nil
}

// GetByID retrieves a department.
func (r *DepartmentRepository) GetByID(ctx context.Context, id int64) (*Department, error) {
	d := &Department{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM departments WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("department", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get department")
	}
	return d, nil
}

// List returns all departments ordered by id.
func (r *DepartmentRepository) List(ctx context.Context) ([]*Department, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM departments ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list departments")
	}
	defer rows.Close()

	var depts []*Department
	for rows.Next() {
		d := &Department{}
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan department")
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}
