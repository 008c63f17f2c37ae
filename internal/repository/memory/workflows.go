package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

type WorkflowRepository struct{ s *Store }

func (r *WorkflowRepository) Create(_ context.Context, wf *repository.Workflow) error {
	unlock := r.s.locks.Lock("process_type:" + wf.ProcessTypeCode)
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.workflows {
		if existing.Name == wf.Name {
			return errors.InvalidInput("name", "workflow name already exists")
		}
	}

	now := r.s.now()
	if wf.IsActive {
		r.deactivateOthersLocked(wf.ProcessTypeCode, 0, now)
	}

	wf.ID = r.s.nextID("workflows")
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.Nodes = []*repository.WorkflowNode{}
	stored := *wf
	stored.Nodes = nil
	r.s.workflows[wf.ID] = &stored
	return nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id int64) (*repository.Workflow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wf, ok := r.s.workflows[id]
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}
	return r.withNodesLocked(wf), nil
}

func (r *WorkflowRepository) List(_ context.Context, processTypeCode string) ([]*repository.Workflow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.Workflow
	for _, wf := range r.s.workflows {
		if processTypeCode != "" && wf.ProcessTypeCode != processTypeCode {
			continue
		}
		out = append(out, r.withNodesLocked(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *WorkflowRepository) ActiveFor(_ context.Context, processTypeCode string) (*repository.Workflow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, wf := range r.s.workflows {
		if wf.ProcessTypeCode == processTypeCode && wf.IsActive {
			return r.withNodesLocked(wf), nil
		}
	}
	return nil, nil
}

func (r *WorkflowRepository) Update(ctx context.Context, id int64, patch repository.WorkflowPatch) (*repository.Workflow, error) {
	r.s.mu.RLock()
	wf, ok := r.s.workflows[id]
	var code string
	if ok {
		code = wf.ProcessTypeCode
	}
	r.s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("workflow", id)
	}

	unlock := r.s.locks.Lock("process_type:" + code)
	defer unlock()

	r.s.mu.Lock()
	wf, ok = r.s.workflows[id]
	if !ok {
		r.s.mu.Unlock()
		return nil, errors.NotFound("workflow", id)
	}
	if patch.Name != nil {
		for _, other := range r.s.workflows {
			if other.ID != id && other.Name == *patch.Name {
				r.s.mu.Unlock()
				return nil, errors.InvalidInput("name", "workflow name already exists")
			}
		}
	}

	now := r.s.now()
	updated := *wf
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.IsActive != nil {
		if *patch.IsActive {
			r.deactivateOthersLocked(code, id, now)
		}
		updated.IsActive = *patch.IsActive
	}
	updated.UpdatedAt = now
	r.s.workflows[id] = &updated
	r.s.mu.Unlock()

	return r.GetByID(ctx, id)
}

func (r *WorkflowRepository) AddNode(_ context.Context, node *repository.WorkflowNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.workflows[node.WorkflowID]; !ok {
		return errors.NotFound("workflow", node.WorkflowID)
	}
	if _, ok := r.s.positions[node.PositionID]; !ok {
		return errors.InvalidInput("position_id", fmt.Sprintf("position %d does not exist", node.PositionID))
	}
	for _, n := range r.s.workflowNodes {
		if n.WorkflowID == node.WorkflowID && n.StepOrder == node.StepOrder {
			return errors.InvalidInput("step_order",
				fmt.Sprintf("step_order %d already exists in this workflow", node.StepOrder))
		}
	}

	node.ID = r.s.nextID("workflow_nodes")
	node.CreatedAt = r.s.now()
	c := *node
	r.s.workflowNodes[node.ID] = &c
	return nil
}

func (r *WorkflowRepository) RemoveNode(_ context.Context, workflowID, nodeID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.workflowNodes[nodeID]
	if !ok || n.WorkflowID != workflowID {
		return errors.NotFound("workflow_node", nodeID)
	}
	delete(r.s.workflowNodes, nodeID)

	// Snapshots keep their copy; only the template link is cleared.
	for _, nodes := range r.s.requestNodes {
		for _, rn := range nodes {
			if rn.TemplateNodeID != nil && *rn.TemplateNodeID == nodeID {
				rn.TemplateNodeID = nil
			}
		}
	}
	return nil
}

// deactivateOthersLocked must be called with mu held for writing.
func (r *WorkflowRepository) deactivateOthersLocked(code string, keepID int64, now time.Time) {
	for id, wf := range r.s.workflows {
		if id == keepID || wf.ProcessTypeCode != code || !wf.IsActive {
			continue
		}
		updated := *wf
		updated.IsActive = false
		updated.UpdatedAt = now
		r.s.workflows[id] = &updated
	}
}

// withNodesLocked must be called with mu held.
func (r *WorkflowRepository) withNodesLocked(wf *repository.Workflow) *repository.Workflow {
	c := *wf
	c.Nodes = []*repository.WorkflowNode{}
	for _, n := range r.s.workflowNodes {
		if n.WorkflowID == wf.ID {
			nc := *n
			c.Nodes = append(c.Nodes, &nc)
		}
	}
	sort.Slice(c.Nodes, func(i, j int) bool { return c.Nodes[i].StepOrder < c.Nodes[j].StepOrder })
	return &c
}
