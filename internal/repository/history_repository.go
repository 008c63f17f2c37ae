package repository

import (
	"context"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// HistoryRepository appends and reads immutable approval history entries.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts one entry. The table has an update/delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *HistoryRepository) Append(ctx context.Context, entry *HistoryEntry) error {
	err := insertHistory(ctx, r.db, entry)
	if database.IsForeignKeyViolation(err) {
		return errors.NotFound("request", entry.RequestID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append history entry")
	}
	return nil
}

// ListFor returns a request's history ordered oldest-first.
func (r *HistoryRepository) ListFor(ctx context.Context, requestID int64) ([]*HistoryEntry, error) {
	query := `
		SELECT id, request_id, node_instance_id, approver_user_id,
		       decision, comment, decided_at
		FROM approval_history
		WHERE request_id = $1
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&e.NodeInstanceID,
			&e.ApproverUserID,
			&e.Decision,
			&e.Comment,
			&e.DecidedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertHistory(ctx context.Context, q querier, e *HistoryEntry) error {
	query := `
		INSERT INTO approval_history
		    (request_id, node_instance_id, approver_user_id,
		     decision, comment, decided_at)
		VALUES ($1, $2, $3,
		        $4, $5, $6)
		RETURNING id
	`

	return q.QueryRow(ctx, query,
		e.RequestID,
		e.NodeInstanceID,
		e.ApproverUserID,
		e.Decision,
		e.Comment,
		e.DecidedAt,
	).Scan(&e.ID)
}
