package repository

import (
	"context"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// Node snapshots are never deleted; the only mutation is updateNode from
// within a decision transaction.

func insertNode(ctx context.Context, q querier, n *RequestNode) error {
	query := `
		INSERT INTO request_nodes
		    (request_id, template_node_id, step_order, position_id,
		     node_name, status)
		VALUES ($1, $2, $3, $4,
		        $5, $6)
		RETURNING id
	`

	err := q.QueryRow(ctx, query,
		n.RequestID,
		n.TemplateNodeID,
		n.StepOrder,
		n.PositionID,
		n.NodeName,
		n.Status,
	).Scan(&n.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request node")
	}
	return nil
}

func loadNodes(ctx context.Context, q querier, requestID int64) ([]*RequestNode, error) {
	query := `
		SELECT id, request_id, template_node_id, step_order, position_id,
		       node_name, status, decided_by_user_id, decided_at
		FROM request_nodes
		WHERE request_id = $1
		ORDER BY step_order ASC
	`

	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load request nodes")
	}
	defer rows.Close()

	var nodes []*RequestNode
	for rows.Next() {
		n := &RequestNode{}
		err := rows.Scan(
			&n.ID,
			&n.RequestID,
			&n.TemplateNodeID,
			&n.StepOrder,
			&n.PositionID,
			&n.NodeName,
			&n.Status,
			&n.DecidedByUserID,
			&n.DecidedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request node")
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func updateNode(ctx context.Context, q querier, n *RequestNode) error {
	query := `
		UPDATE request_nodes
		SET status             = $2,
		    decided_by_user_id = $3,
		    decided_at         = $4
		WHERE id = $1
	`

	tag, err := q.Exec(ctx, query, n.ID, n.Status, n.DecidedByUserID, n.DecidedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request node")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("request_node", n.ID)
	}
	return nil
}
