package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/metrics"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/telemetry"
)

const (
	minStepOrder = 1
	maxStepOrder = 100
)

// AddNodeInput is the payload for adding a node template.
type AddNodeInput struct {
	StepOrder  int
	PositionID repository.PositionID
	NodeName   string
}

// WorkflowService owns workflow templates and the one-active-workflow-per-type
// rule. Exclusivity itself is enforced by the store: the Postgres store takes
// a per-type advisory lock and the in-memory store a per-type mutex.
type WorkflowService struct {
	workflows WorkflowStore
	positions PositionStore
	registry  *ProcessTypeRegistry
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	workflows WorkflowStore,
	positions PositionStore,
	registry *ProcessTypeRegistry,
	m *metrics.Metrics,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		workflows: workflows,
		positions: positions,
		registry:  registry,
		metrics:   m,
		log:       log,
	}
}

// Create stores a new workflow. An active workflow replaces the type's
// current active workflow atomically.
func (s *WorkflowService) Create(ctx context.Context, name, processTypeCode string, isActive bool) (*repository.Workflow, error) {
	ctx, span := telemetry.StartSpan(ctx, "WorkflowService.Create",
		attribute.String(telemetry.ProcessTypeCodeKey, processTypeCode))
	wf, err := s.create(ctx, name, processTypeCode, isActive)
	telemetry.End(span, err)
	return wf, err
}

func (s *WorkflowService) create(ctx context.Context, name, processTypeCode string, isActive bool) (*repository.Workflow, error) {
	name = strings.TrimSpace(name)
	if err := validateName("name", name, 200); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(ctx, processTypeCode); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.InvalidInput("process_type_code", fmt.Sprintf("unknown process type %q", processTypeCode))
		}
		return nil, err
	}

	wf := &repository.Workflow{
		Name:            name,
		ProcessTypeCode: processTypeCode,
		IsActive:        isActive,
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}
	if isActive {
		s.metrics.RecordActivation()
	}

	s.log.Info().
		Int64("workflow_id", wf.ID).
		Str("process_type_code", wf.ProcessTypeCode).
		Bool("is_active", wf.IsActive).
		Msg("Workflow created")

	return wf, nil
}

// Get returns a workflow with its ordered nodes.
func (s *WorkflowService) Get(ctx context.Context, id int64) (*repository.Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

// List returns workflows, optionally restricted to one process type.
func (s *WorkflowService) List(ctx context.Context, processTypeCode string) ([]*repository.Workflow, error) {
	return s.workflows.List(ctx, processTypeCode)
}

// ActiveFor returns the active workflow for a process type, or nil.
func (s *WorkflowService) ActiveFor(ctx context.Context, processTypeCode string) (*repository.Workflow, error) {
	return s.workflows.ActiveFor(ctx, processTypeCode)
}

// SetActive activates or deactivates a workflow. Deactivating the only active
// workflow of a type is allowed.
func (s *WorkflowService) SetActive(ctx context.Context, id int64, isActive bool) (*repository.Workflow, error) {
	return s.Update(ctx, id, nil, &isActive)
}

// Update renames and/or changes the active flag of a workflow.
func (s *WorkflowService) Update(ctx context.Context, id int64, name *string, isActive *bool) (*repository.Workflow, error) {
	ctx, span := telemetry.StartSpan(ctx, "WorkflowService.Update", attribute.Int64(telemetry.WorkflowIDKey, id))
	wf, err := s.update(ctx, id, name, isActive)
	telemetry.End(span, err)
	return wf, err
}

func (s *WorkflowService) update(ctx context.Context, id int64, name *string, isActive *bool) (*repository.Workflow, error) {
	patch := repository.WorkflowPatch{IsActive: isActive}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if err := validateName("name", trimmed, 200); err != nil {
			return nil, err
		}
		patch.Name = &trimmed
	}
	if patch.Name == nil && patch.IsActive == nil {
		return s.workflows.GetByID(ctx, id)
	}

	wf, err := s.workflows.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if isActive != nil && *isActive {
		s.metrics.RecordActivation()
	}

	s.log.Info().
		Int64("workflow_id", wf.ID).
		Str("process_type_code", wf.ProcessTypeCode).
		Bool("is_active", wf.IsActive).
		Msg("Workflow updated")

	return wf, nil
}

// AddNode appends a node template to a workflow.
func (s *WorkflowService) AddNode(ctx context.Context, workflowID int64, in AddNodeInput) (*repository.WorkflowNode, error) {
	if in.StepOrder < minStepOrder || in.StepOrder > maxStepOrder {
		return nil, errors.InvalidInput("step_order",
			fmt.Sprintf("step_order must be between %d and %d", minStepOrder, maxStepOrder))
	}
	nodeName := strings.TrimSpace(in.NodeName)
	if len([]rune(nodeName)) > 200 {
		return nil, errors.InvalidInput("node_name", "node_name must be at most 200 characters")
	}
	if _, err := s.workflows.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	if _, err := s.positions.GetByID(ctx, in.PositionID); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.InvalidInput("position_id", fmt.Sprintf("position %d does not exist", in.PositionID))
		}
		return nil, err
	}

	node := &repository.WorkflowNode{
		WorkflowID: workflowID,
		StepOrder:  in.StepOrder,
		PositionID: in.PositionID,
		NodeName:   nodeName,
	}
	if err := s.workflows.AddNode(ctx, node); err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("workflow_id", workflowID).
		Int64("node_id", node.ID).
		Int("step_order", node.StepOrder).
		Msg("Workflow node added")

	return node, nil
}

// RemoveNode deletes a node template. Request snapshots taken from it are
// left untouched.
func (s *WorkflowService) RemoveNode(ctx context.Context, workflowID, nodeID int64) error {
	if err := s.workflows.RemoveNode(ctx, workflowID, nodeID); err != nil {
		return err
	}

	s.log.Info().
		Int64("workflow_id", workflowID).
		Int64("node_id", nodeID).
		Msg("Workflow node removed")

	return nil
}
