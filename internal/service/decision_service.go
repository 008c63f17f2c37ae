package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/client"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/metrics"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/telemetry"
)

// Decider identifies who is deciding.
type Decider struct {
	UserID     int64
	Role       repository.RoleKind
	PositionID *repository.PositionID
}

// DeciderFrom builds a Decider from an authenticated principal.
func DeciderFrom(p *auth.Principal) Decider {
	return Decider{UserID: p.UserID, Role: p.Role, PositionID: p.PositionID}
}

// DecideInput is one decision on a request.
type DecideInput struct {
	Decision repository.Decision
	Comment  string
	// NodeID, when set, names the node the caller saw as pending. The decision
	// fails with a state error if that node is no longer the pending one.
	NodeID *int64
}

// DecisionProcessor applies approve/reject decisions to the pending node of a
// request. The whole read-check-write runs inside RequestStore.Decide, which
// serializes decisions per request id.
type DecisionProcessor struct {
	requests RequestStore
	users    UserStore
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

// NewDecisionProcessor creates a new DecisionProcessor.
func NewDecisionProcessor(
	requests RequestStore,
	users UserStore,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *DecisionProcessor {
	return &DecisionProcessor{
		requests: requests,
		users:    users,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Decide applies one decision and returns the updated request and the node
// that was decided.
func (p *DecisionProcessor) Decide(ctx context.Context, requestID int64, decider Decider, in DecideInput) (*repository.Request, *repository.RequestNode, error) {
	ctx, span := telemetry.StartSpan(ctx, "DecisionProcessor.Decide",
		attribute.Int64(telemetry.RequestIDKey, requestID),
		attribute.Int64(telemetry.UserIDKey, decider.UserID),
		attribute.String(telemetry.DecisionKey, string(in.Decision)))
	req, node, err := p.decide(ctx, requestID, decider, in)
	telemetry.End(span, err)
	return req, node, err
}

func (p *DecisionProcessor) decide(ctx context.Context, requestID int64, decider Decider, in DecideInput) (*repository.Request, *repository.RequestNode, error) {
	if _, err := repository.ParseDecision(string(in.Decision)); err != nil {
		return nil, nil, errors.InvalidInput("decision", err.Error())
	}

	now := p.now()
	req, result, err := p.requests.Decide(ctx, requestID, func(req *repository.Request, nodes []*repository.RequestNode) (*repository.DecisionResult, error) {
		return applyDecision(req, nodes, decider, in, now)
	})
	if err != nil {
		return nil, nil, err
	}

	p.metrics.RecordDecision(string(in.Decision))

	p.log.Info().
		Int64("request_id", req.ID).
		Int64("node_id", result.Decided.ID).
		Int64("decided_by", decider.UserID).
		Str("decision", string(in.Decision)).
		Str("status", string(req.Status)).
		Msg("Decision applied")

	p.notify(ctx, req, result, decider.UserID)

	return req, result.Decided, nil
}

// applyDecision is the state transition. It mutates req and nodes in place and
// reports the changed rows; on error nothing has been mutated.
func applyDecision(
	req *repository.Request,
	nodes []*repository.RequestNode,
	decider Decider,
	in DecideInput,
	now time.Time,
) (*repository.DecisionResult, error) {
	if req.Status != repository.RequestPending {
		return nil, errors.InvalidState(fmt.Sprintf("request %d is already %s", req.ID, req.Status))
	}

	idx := -1
	for i, n := range nodes {
		if n.Status != repository.NodePending {
			continue
		}
		if idx >= 0 {
			return nil, errors.InvalidState(fmt.Sprintf("request %d has more than one pending node", req.ID))
		}
		idx = i
	}
	if idx < 0 {
		return nil, errors.InvalidState(fmt.Sprintf("request %d has no pending node", req.ID))
	}
	current := nodes[idx]

	if in.NodeID != nil && *in.NodeID != current.ID {
		return nil, errors.InvalidState(fmt.Sprintf("node %d is not pending", *in.NodeID))
	}
	if err := authorize(decider, current); err != nil {
		return nil, err
	}

	var next *repository.RequestNode
	if in.Decision == repository.DecisionApproved && idx+1 < len(nodes) {
		next = nodes[idx+1]
		if next.Status != repository.NodeNotStarted {
			return nil, errors.InvalidState(fmt.Sprintf("request %d node %d is %s, expected %s",
				req.ID, next.ID, next.Status, repository.NodeNotStarted))
		}
	}

	deciderID := decider.UserID
	decidedAt := now
	current.DecidedByUserID = &deciderID
	current.DecidedAt = &decidedAt

	switch in.Decision {
	case repository.DecisionApproved:
		current.Status = repository.NodeApproved
		if next != nil {
			next.Status = repository.NodePending
		}
	case repository.DecisionRejected:
		current.Status = repository.NodeRejected
	}

	req.Status = DeriveStatus(nodes)
	req.UpdatedAt = now

	return &repository.DecisionResult{
		Decided:   current,
		Activated: next,
		Entry: &repository.HistoryEntry{
			RequestID:      req.ID,
			NodeInstanceID: current.ID,
			ApproverUserID: deciderID,
			Decision:       in.Decision,
			Comment:        in.Comment,
			DecidedAt:      now,
		},
	}, nil
}

// authorize allows admins and holders of the node's position.
func authorize(d Decider, node *repository.RequestNode) error {
	switch d.Role {
	case repository.RoleAdmin:
		return nil
	case repository.RoleApprover, repository.RoleEmployee:
		if d.PositionID != nil && *d.PositionID == node.PositionID {
			return nil
		}
		return errors.Forbidden(fmt.Sprintf("node %q requires position %d", node.NodeName, node.PositionID))
	default:
		return errors.Forbidden(fmt.Sprintf("unknown role %q", d.Role))
	}
}

// DeriveStatus computes a request status from its nodes: rejected if any node
// is rejected, approved if all are approved, pending otherwise.
func DeriveStatus(nodes []*repository.RequestNode) repository.RequestStatus {
	approved := 0
	for _, n := range nodes {
		switch n.Status {
		case repository.NodeRejected:
			return repository.RequestRejected
		case repository.NodeApproved:
			approved++
		}
	}
	if len(nodes) > 0 && approved == len(nodes) {
		return repository.RequestApproved
	}
	return repository.RequestPending
}

func (p *DecisionProcessor) notify(ctx context.Context, req *repository.Request, result *repository.DecisionResult, actorID int64) {
	if p.notifier == nil {
		return
	}

	switch req.Status {
	case repository.RequestPending:
		if result.Activated != nil {
			notifyPosition(ctx, p.notifier, p.users, p.log, client.EventRequestApprovalRequired, req, result.Activated, actorID)
		}
	case repository.RequestApproved, repository.RequestRejected:
		eventType := client.EventRequestApproved
		if req.Status == repository.RequestRejected {
			eventType = client.EventRequestRejected
		}
		p.notifier.PublishRequestEvent(ctx, eventType, req.ID, actorID, []int64{req.CreatorID}, map[string]any{
			"title":     req.Title,
			"type":      req.TypeCode,
			"node_name": result.Decided.NodeName,
			"comment":   result.Entry.Comment,
		})
	}
}
