package service

import (
	"context"
	"fmt"
	"strings"
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

// CreateRequestInput is the payload for submitting a request.
type CreateRequestInput struct {
	Type    string
	Title   string
	Content string
	Amount  *float64
	Data    map[string]any
}

// NodeView is a request node with display names resolved.
type NodeView struct {
	*repository.RequestNode
	PositionName  string
	DecidedByName string
}

// HistoryView is a history entry with display names resolved.
type HistoryView struct {
	*repository.HistoryEntry
	ApproverName string
	NodeName     string
}

// RequestDetail is the composite read view of one request.
type RequestDetail struct {
	Request      *repository.Request
	Nodes        []*NodeView
	History      []*HistoryView
	ProcessType  *repository.ProcessType
	WorkflowName string
	CreatorName  string
}

// RequestService creates requests and serves their read views.
type RequestService struct {
	requests  RequestStore
	workflows WorkflowStore
	users     UserStore
	positions PositionStore
	registry  *ProcessTypeRegistry
	history   *HistoryLedger
	notifier  Notifier
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewRequestService creates a new RequestService.
func NewRequestService(
	stores Stores,
	registry *ProcessTypeRegistry,
	history *HistoryLedger,
	notifier Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		requests:  stores.Requests,
		workflows: stores.Workflows,
		users:     stores.Users,
		positions: stores.Positions,
		registry:  registry,
		history:   history,
		notifier:  notifier,
		metrics:   m,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the input, snapshots the active workflow of the type and
// stores the request together with its nodes.
func (s *RequestService) Create(ctx context.Context, creatorID int64, in CreateRequestInput) (*repository.Request, []*repository.RequestNode, error) {
	ctx, span := telemetry.StartSpan(ctx, "RequestService.Create",
		attribute.String(telemetry.ProcessTypeCodeKey, in.Type),
		attribute.Int64(telemetry.UserIDKey, creatorID))
	req, nodes, err := s.create(ctx, creatorID, in)
	telemetry.End(span, err)
	return req, nodes, err
}

func (s *RequestService) create(ctx context.Context, creatorID int64, in CreateRequestInput) (*repository.Request, []*repository.RequestNode, error) {
	pt, err := s.registry.Resolve(ctx, in.Type)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateFormData(pt.Fields, in.Data); err != nil {
		return nil, nil, err
	}
	if err := validateAmount(pt.RequiresAmount, in.Amount); err != nil {
		return nil, nil, err
	}
	title := strings.TrimSpace(in.Title)
	if err := validateName("title", title, 200); err != nil {
		return nil, nil, err
	}

	wf, err := s.workflows.ActiveFor(ctx, pt.Code)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil || len(wf.Nodes) == 0 {
		return nil, nil, errors.New(errors.ErrCodeNotFound,
			fmt.Sprintf("no approval workflow configured for process type %q", pt.Code))
	}

	now := s.now()
	workflowID := wf.ID
	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	req := &repository.Request{
		TypeCode:     pt.Code,
		Title:        title,
		Content:      in.Content,
		Amount:       in.Amount,
		FormData:     data,
		Status:       repository.RequestPending,
		CreatorID:    creatorID,
		WorkflowID:   &workflowID,
		WorkflowName: wf.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	nodes := SnapshotNodes(wf.Nodes)

	if err := s.requests.Create(ctx, req, nodes); err != nil {
		return nil, nil, err
	}
	s.metrics.RecordRequestCreated(req.TypeCode)

	s.log.Info().
		Int64("request_id", req.ID).
		Str("type", req.TypeCode).
		Int64("creator_id", creatorID).
		Int("nodes", len(nodes)).
		Msg("Request submitted")

	s.notifyPosition(ctx, client.EventRequestSubmitted, req, nodes[0], creatorID)

	return req, nodes, nil
}

// SnapshotNodes copies workflow node templates, already ordered by step, into
// request node instances. The first becomes pending.
func SnapshotNodes(templates []*repository.WorkflowNode) []*repository.RequestNode {
	nodes := make([]*repository.RequestNode, len(templates))
	for i, t := range templates {
		templateID := t.ID
		status := repository.NodeNotStarted
		if i == 0 {
			status = repository.NodePending
		}
		nodes[i] = &repository.RequestNode{
			TemplateNodeID: &templateID,
			StepOrder:      t.StepOrder,
			PositionID:     t.PositionID,
			NodeName:       t.NodeName,
			Status:         status,
		}
	}
	return nodes
}

// Get returns a request and its nodes if the viewer may see it.
func (s *RequestService) Get(ctx context.Context, viewer *auth.Principal, id int64) (*repository.Request, []*repository.RequestNode, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := s.requests.Nodes(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !CanView(viewer, req, nodes) {
		return nil, nil, errors.Forbidden("not allowed to view this request")
	}
	return req, nodes, nil
}

// Detail builds the composite view of a request.
func (s *RequestService) Detail(ctx context.Context, id int64) (*RequestDetail, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	nodes, err := s.requests.Nodes(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, req, nodes)
}

// DetailFor is Detail restricted to viewers allowed to see the request.
func (s *RequestService) DetailFor(ctx context.Context, viewer *auth.Principal, id int64) (*RequestDetail, error) {
	req, nodes, err := s.Get(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, req, nodes)
}

func (s *RequestService) detail(ctx context.Context, req *repository.Request, nodes []*repository.RequestNode) (*RequestDetail, error) {
	entries, err := s.history.ListFor(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	pt, err := s.registry.Get(ctx, req.TypeCode)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	positions, err := s.positionNames(ctx)
	if err != nil {
		return nil, err
	}
	names := newUserNames(s.users)

	d := &RequestDetail{
		Request:      req,
		Nodes:        make([]*NodeView, len(nodes)),
		History:      make([]*HistoryView, len(entries)),
		ProcessType:  pt,
		WorkflowName: req.WorkflowName,
	}
	if d.CreatorName, err = names.lookup(ctx, req.CreatorID); err != nil {
		return nil, err
	}

	nodeNames := make(map[int64]string, len(nodes))
	for i, n := range nodes {
		v := &NodeView{RequestNode: n, PositionName: positions[n.PositionID]}
		if n.DecidedByUserID != nil {
			if v.DecidedByName, err = names.lookup(ctx, *n.DecidedByUserID); err != nil {
				return nil, err
			}
		}
		nodeNames[n.ID] = n.NodeName
		d.Nodes[i] = v
	}
	for i, e := range entries {
		v := &HistoryView{HistoryEntry: e, NodeName: nodeNames[e.NodeInstanceID]}
		if v.ApproverName, err = names.lookup(ctx, e.ApproverUserID); err != nil {
			return nil, err
		}
		d.History[i] = v
	}
	return d, nil
}

// ListMine returns the requests created by userID, newest first.
func (s *RequestService) ListMine(ctx context.Context, userID int64) ([]*repository.Request, error) {
	return s.requests.ListByCreator(ctx, userID)
}

// ListPending returns the requests awaiting the viewer: every pending request
// for admins, those whose pending node matches the viewer's position
// otherwise, and nothing for users without a position.
func (s *RequestService) ListPending(ctx context.Context, viewer *auth.Principal) ([]*repository.Request, error) {
	switch viewer.Role {
	case repository.RoleAdmin:
		return s.requests.ListPending(ctx, nil)
	case repository.RoleApprover, repository.RoleEmployee:
		if viewer.PositionID == nil {
			return []*repository.Request{}, nil
		}
		return s.requests.ListPending(ctx, viewer.PositionID)
	default:
		return nil, errors.Forbidden(fmt.Sprintf("unknown role %q", viewer.Role))
	}
}

// PendingNodeIDs maps each request id to the id of its pending node. Requests
// with no pending node are left out.
func (s *RequestService) PendingNodeIDs(ctx context.Context, reqs []*repository.Request) (map[int64]int64, error) {
	out := make(map[int64]int64, len(reqs))
	for _, req := range reqs {
		nodes, err := s.requests.Nodes(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if n.Status == repository.NodePending {
				out[req.ID] = n.ID
				break
			}
		}
	}
	return out, nil
}

// CanView reports whether viewer may read req: admins, the creator, and
// holders of the position of the currently pending node.
func CanView(viewer *auth.Principal, req *repository.Request, nodes []*repository.RequestNode) bool {
	if viewer == nil {
		return false
	}
	if viewer.IsAdmin() || viewer.UserID == req.CreatorID {
		return true
	}
	if viewer.PositionID == nil {
		return false
	}
	for _, n := range nodes {
		if n.Status == repository.NodePending && n.PositionID == *viewer.PositionID {
			return true
		}
	}
	return false
}

func (s *RequestService) positionNames(ctx context.Context) (map[repository.PositionID]string, error) {
	list, err := s.positions.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[repository.PositionID]string, len(list))
	for _, p := range list {
		out[p.ID] = p.Name
	}
	return out, nil
}

// notifyPosition tells the holders of node's position that a request awaits them.
func (s *RequestService) notifyPosition(ctx context.Context, eventType string, req *repository.Request, node *repository.RequestNode, actorID int64) {
	notifyPosition(ctx, s.notifier, s.users, s.log, eventType, req, node, actorID)
}

// ── shared helpers ────────────────────────────────────────────────────────────

func notifyPosition(
	ctx context.Context,
	notifier Notifier,
	users UserStore,
	log *logger.Logger,
	eventType string,
	req *repository.Request,
	node *repository.RequestNode,
	actorID int64,
) {
	if notifier == nil {
		return
	}
	holders, err := users.ListActiveByPosition(ctx, node.PositionID)
	if err != nil {
		log.Warn().Err(err).
			Int64("request_id", req.ID).
			Int64("position_id", int64(node.PositionID)).
			Msg("Could not resolve approvers for notification")
		return
	}
	recipients := make([]int64, 0, len(holders))
	for _, u := range holders {
		recipients = append(recipients, u.ID)
	}
	notifier.PublishRequestEvent(ctx, eventType, req.ID, actorID, recipients, map[string]any{
		"title":     req.Title,
		"type":      req.TypeCode,
		"node_name": node.NodeName,
		"step":      node.StepOrder,
	})
}

// userNames memoizes username lookups for one read view.
type userNames struct {
	users UserStore
	seen  map[int64]string
}

func newUserNames(users UserStore) *userNames {
	return &userNames{users: users, seen: map[int64]string{}}
}

func (n *userNames) lookup(ctx context.Context, id int64) (string, error) {
	if name, ok := n.seen[id]; ok {
		return name, nil
	}
	u, err := n.users.GetByID(ctx, id)
	if err != nil && !errors.IsNotFound(err) {
		return "", err
	}
	name := ""
	if u != nil {
		name = u.Username
	}
	n.seen[id] = name
	return name, nil
}
