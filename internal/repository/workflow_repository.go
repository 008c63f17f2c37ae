package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

const (
	workflowNameConstraint   = "workflows_name_key"
	workflowActiveConstraint = "workflows_one_active_per_type"
	workflowStepConstraint   = "workflow_nodes_step_key"
)

// WorkflowPatch lists the workflow columns an update may change.
type WorkflowPatch struct {
	Name     *string
	IsActive *bool
}

// WorkflowRepository manages workflow templates and their nodes.
// Activation always runs under a per-process-type advisory lock so the
// deactivate-others and activate-target writes commit together.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a workflow. When wf.IsActive is set every other workflow of
// the same process type is deactivated in the same transaction.
func (r *WorkflowRepository) Create(ctx context.Context, wf *Workflow) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if wf.IsActive {
			if err := r.deactivateOthers(ctx, tx, wf.ProcessTypeCode, 0); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO workflows (name, process_type_code, is_active)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRow(ctx, query, wf.Name, wf.ProcessTypeCode, wf.IsActive).
			Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	})
	if err != nil {
		return mapWorkflowError(err, "failed to create workflow")
	}
	wf.Nodes = []*WorkflowNode{}
	return nil
}

// GetByID retrieves a workflow with its ordered nodes.
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*Workflow, error) {
	query := `
		SELECT id, name, process_type_code, is_active, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("workflow", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get workflow")
	}
	if err := r.attachNodes(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// List returns workflows with nodes, optionally filtered by process type.
func (r *WorkflowRepository) List(ctx context.Context, processTypeCode string) ([]*Workflow, error) {
	query := `
		SELECT id, name, process_type_code, is_active, created_at, updated_at
		FROM workflows
		WHERE ($1 = '' OR process_type_code = $1)
		ORDER BY id ASC
	`

	rows, err := r.db.Query(ctx, query, processTypeCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow")
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflows")
	}
	rows.Close()

	for _, wf := range workflows {
		if err := r.attachNodes(ctx, wf); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

// ActiveFor returns the active workflow for a process type with its nodes.
// Returns nil when the type has no active workflow.
func (r *WorkflowRepository) ActiveFor(ctx context.Context, processTypeCode string) (*Workflow, error) {
	query := `
		SELECT id, name, process_type_code, is_active, created_at, updated_at
		FROM workflows
		WHERE process_type_code = $1 AND is_active
	`

	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, processTypeCode))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get active workflow")
	}
	if err := r.attachNodes(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Update applies a rename and/or activation change in one transaction.
func (r *WorkflowRepository) Update(ctx context.Context, id int64, patch WorkflowPatch) (*Workflow, error) {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var code string
		err := tx.QueryRow(ctx, `SELECT process_type_code FROM workflows WHERE id = $1`, id).Scan(&code)
		if err == pgx.ErrNoRows {
			return errors.NotFound("workflow", id)
		}
		if err != nil {
			return err
		}

		if patch.Name != nil {
			_, err := tx.Exec(ctx,
				`UPDATE workflows SET name = $2, updated_at = NOW() WHERE id = $1`,
				id, *patch.Name,
			)
			if err != nil {
				return err
			}
		}

		if patch.IsActive != nil {
			if *patch.IsActive {
				if err := r.deactivateOthers(ctx, tx, code, id); err != nil {
					return err
				}
			}
			_, err := tx.Exec(ctx,
				`UPDATE workflows SET is_active = $2, updated_at = NOW() WHERE id = $1`,
				id, *patch.IsActive,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapWorkflowError(err, "failed to update workflow")
	}
	return r.GetByID(ctx, id)
}

// AddNode inserts a node template.
func (r *WorkflowRepository) AddNode(ctx context.Context, node *WorkflowNode) error {
	query := `
		INSERT INTO workflow_nodes (workflow_id, step_order, position_id, node_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		node.WorkflowID,
		node.StepOrder,
		node.PositionID,
		node.NodeName,
	).Scan(&node.ID, &node.CreatedAt)
	if database.IsUniqueViolation(err, workflowStepConstraint) {
		return errors.InvalidInput("step_order",
			fmt.Sprintf("step_order %d already exists in this workflow", node.StepOrder))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to add workflow node")
	}
	return nil
}

// RemoveNode deletes a node template. Request node snapshots keep their copy.
func (r *WorkflowRepository) RemoveNode(ctx context.Context, workflowID, nodeID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM workflow_nodes WHERE id = $1 AND workflow_id = $2`,
		nodeID, workflowID,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to remove workflow node")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("workflow_node", nodeID)
	}
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// deactivateOthers takes the process-type advisory lock and clears is_active on
// every workflow of the type except keepID.
func (r *WorkflowRepository) deactivateOthers(ctx context.Context, tx pgx.Tx, code string, keepID int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, code); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE workflows
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE process_type_code = $1
		  AND is_active
		  AND id <> $2
	`, code, keepID)
	return err
}

func (r *WorkflowRepository) attachNodes(ctx context.Context, wf *Workflow) error {
	query := `
		SELECT id, workflow_id, step_order, position_id, node_name, created_at
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.Query(ctx, query, wf.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load workflow nodes")
	}
	defer rows.Close()

	wf.Nodes = []*WorkflowNode{}
	for rows.Next() {
		n := &WorkflowNode{}
		if err := rows.Scan(&n.ID, &n.WorkflowID, &n.StepOrder, &n.PositionID, &n.NodeName, &n.CreatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow node")
		}
		wf.Nodes = append(wf.Nodes, n)
	}
	return rows.Err()
}

type workflowScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanWorkflow(row workflowScanner) (*Workflow, error) {
	wf := &Workflow{}
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.ProcessTypeCode,
		&wf.IsActive,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func mapWorkflowError(err error, msg string) error {
	switch {
	case database.IsUniqueViolation(err, workflowNameConstraint):
		return errors.InvalidInput("name", "workflow name already exists")
	case database.IsUniqueViolation(err, workflowActiveConstraint):
		return errors.Conflict("another workflow was activated concurrently for this process type")
	default:
		return errors.Wrap(err, errors.ErrCodeInternal, msg)
	}
}
