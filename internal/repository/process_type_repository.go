package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// ProcessTypeRepository handles CRUD for process_types.
type ProcessTypeRepository struct {
	db *database.DB
}

// NewProcessTypeRepository creates a new ProcessTypeRepository.
func NewProcessTypeRepository(db *database.DB) *ProcessTypeRepository {
	return &ProcessTypeRepository{db: db}
}

// Create inserts a new process type.
func (r *ProcessTypeRepository) Create(ctx context.Context, pt *ProcessType) error {
	fieldsJSON, err := marshalFields(pt.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO process_types
		    (code, name, description, requires_amount, is_active, fields)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		pt.Code,
		pt.Name,
		pt.Description,
		pt.RequiresAmount,
		pt.IsActive,
		fieldsJSON,
	).Scan(&pt.ID, &pt.CreatedAt, &pt.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return errors.InvalidInput("code", "process type code already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create process type")
	}
	return nil
}

// GetByCode retrieves a process type regardless of its active flag.
func (r *ProcessTypeRepository) GetByCode(ctx context.Context, code string) (*ProcessType, error) {
	query := `
		SELECT id, code, name, description, requires_amount, is_active,
		       fields, created_at, updated_at
		FROM process_types
		WHERE code = $1
	`

	pt, err := r.scanProcessType(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("process_type", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get process type")
	}
	return pt, nil
}

// List returns process types ordered by id, optionally only active ones.
func (r *ProcessTypeRepository) List(ctx context.Context, activeOnly bool) ([]*ProcessType, error) {
	query := `
		SELECT id, code, name, description, requires_amount, is_active,
		       fields, created_at, updated_at
		FROM process_types
	`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list process types")
	}
	defer rows.Close()

	var types []*ProcessType
	for rows.Next() {
		pt, err := r.scanProcessType(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan process type")
		}
		types = append(types, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list process types")
	}
	return types, nil
}

// Update overwrites the mutable columns of an existing process type.
func (r *ProcessTypeRepository) Update(ctx context.Context, pt *ProcessType) error {
	fieldsJSON, err := marshalFields(pt.Fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE process_types
		SET name            = $2,
		    description     = $3,
		    requires_amount = $4,
		    is_active       = $5,
		    fields          = $6,
		    updated_at      = NOW()
		WHERE code = $1
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		pt.Code,
		pt.Name,
		pt.Description,
		pt.RequiresAmount,
		pt.IsActive,
		fieldsJSON,
	).Scan(&pt.ID, &pt.CreatedAt, &pt.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.NotFound("process_type", pt.Code)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update process type")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type processTypeScanner interface {
	Scan(dest ...any) error
}

func (r *ProcessTypeRepository) scanProcessType(row processTypeScanner) (*ProcessType, error) {
	pt := &ProcessType{}
	var fieldsJSON []byte

	err := row.Scan(
		&pt.ID,
		&pt.Code,
		&pt.Name,
		&pt.Description,
		&pt.RequiresAmount,
		&pt.IsActive,
		&fieldsJSON,
		&pt.CreatedAt,
		&pt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &pt.Fields); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal process type fields")
		}
	}
	return pt, nil
}

func marshalFields(fields []FieldSchema) ([]byte, error) {
	if fields == nil {
		fields = []FieldSchema{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal process type fields")
	}
	return b, nil
}
