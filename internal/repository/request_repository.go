package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RequestRepository handles requests and their node snapshots.
// A request row and its nodes are always written in one transaction.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, type_code, title, content, amount, form_data, status,
		       creator_id, workflow_id, workflow_name, created_at, updated_at`

// Create inserts a request together with its node snapshot.
func (r *RequestRepository) Create(ctx context.Context, req *Request, nodes []*RequestNode) error {
	formJSON, err := json.Marshal(formDataOrEmpty(req.FormData))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal form data")
	}

	err = r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO requests
			    (type_code, title, content, amount, form_data, status,
			     creator_id, workflow_id, workflow_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6,
			        $7, $8, $9, $10, $10)
			RETURNING id
		`

		err := tx.QueryRow(ctx, query,
			req.TypeCode,
			req.Title,
			req.Content,
			req.Amount,
			formJSON,
			req.Status,
			req.CreatorID,
			req.WorkflowID,
			req.WorkflowName,
			req.CreatedAt,
		).Scan(&req.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
		}

		for _, n := range nodes {
			n.RequestID = req.ID
			if err := insertNode(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
	}
	req.UpdatedAt = req.CreatedAt
	return nil
}

// GetByID retrieves a request.
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request")
	}
	return req, nil
}

// Nodes returns a request's node snapshot ordered by step.
func (r *RequestRepository) Nodes(ctx context.Context, requestID int64) ([]*RequestNode, error) {
	return loadNodes(ctx, r.db, requestID)
}

// ListByCreator returns a user's requests, newest first.
func (r *RequestRepository) ListByCreator(ctx context.Context, creatorID int64) ([]*Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE creator_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.list(ctx, query, creatorID)
}

// ListPending returns pending requests. With a position, only requests whose
// current pending node is bound to that position are returned.
func (r *RequestRepository) ListPending(ctx context.Context, positionID *PositionID) ([]*Request, error) {
	if positionID == nil {
		query := `
			SELECT ` + requestColumns + `
			FROM requests
			WHERE status = 'pending'
			ORDER BY created_at DESC, id DESC
		`
		return r.list(ctx, query)
	}

	query := `
		SELECT ` + requestColumns + `
		FROM requests r
		WHERE r.status = 'pending'
		  AND EXISTS (
		      SELECT 1 FROM request_nodes n
		      WHERE n.request_id = r.id
		        AND n.status = 'pending'
		        AND n.position_id = $1
		  )
		ORDER BY r.created_at DESC, r.id DESC
	`
	return r.list(ctx, query, *positionID)
}

// Decide locks the request row, hands the request and its nodes to fn, and
// persists the nodes, request status, and history entry fn reports, all in
// one transaction. Nothing is written when fn returns an error.
func (r *RequestRepository) Decide(ctx context.Context, requestID int64, fn DecideFunc) (*Request, *DecisionResult, error) {
	var (
		req    *Request
		result *DecisionResult
	)

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`

		var err error
		req, err = r.scanRequest(tx.QueryRow(ctx, query, requestID))
		if err == pgx.ErrNoRows {
			return errors.NotFound("request", requestID)
		}
		if err != nil {
			return err
		}

		nodes, err := loadNodes(ctx, tx, requestID)
		if err != nil {
			return err
		}

		result, err = fn(req, nodes)
		if err != nil {
			return err
		}

		for _, n := range []*RequestNode{result.Decided, result.Activated} {
			if n == nil {
				continue
			}
			if err := updateNode(ctx, tx, n); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE requests SET status = $2, updated_at = $3 WHERE id = $1`,
			req.ID, req.Status, req.UpdatedAt,
		)
		if err != nil {
			return err
		}

		return insertHistory(ctx, tx, result.Entry)
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to apply decision")
	}
	return req, result, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (r *RequestRepository) list(ctx context.Context, query string, args ...any) ([]*Request, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requests")
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *RequestRepository) scanRequest(row requestScanner) (*Request, error) {
	req := &Request{}
	var formJSON []byte

	err := row.Scan(
		&req.ID,
		&req.TypeCode,
		&req.Title,
		&req.Content,
		&req.Amount,
		&formJSON,
		&req.Status,
		&req.CreatorID,
		&req.WorkflowID,
		&req.WorkflowName,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.FormData = map[string]any{}
	if len(formJSON) > 0 {
		if err := json.Unmarshal(formJSON, &req.FormData); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal form data")
		}
	}
	return req, nil
}

func formDataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
