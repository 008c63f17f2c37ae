package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

type RequestRepository struct{ s *Store }

func (r *RequestRepository) Create(_ context.Context, req *repository.Request, nodes []*repository.RequestNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req.ID = r.s.nextID("requests")
	req.UpdatedAt = req.CreatedAt
	stored := make([]*repository.RequestNode, 0, len(nodes))
	for _, n := range nodes {
		n.ID = r.s.nextID("request_nodes")
		n.RequestID = req.ID
		stored = append(stored, copyNode(n))
	}
	r.s.requests[req.ID] = copyRequest(req)
	r.s.requestNodes[req.ID] = stored
	return nil
}

func (r *RequestRepository) GetByID(_ context.Context, id int64) (*repository.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, errors.NotFound("request", id)
	}
	return copyRequest(req), nil
}

func (r *RequestRepository) Nodes(_ context.Context, requestID int64) ([]*repository.RequestNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return copyNodes(r.s.requestNodes[requestID]), nil
}

func (r *RequestRepository) ListByCreator(_ context.Context, creatorID int64) ([]*repository.Request, error) {
	return r.filter(func(req *repository.Request) bool { return req.CreatorID == creatorID }), nil
}

func (r *RequestRepository) ListPending(_ context.Context, positionID *repository.PositionID) ([]*repository.Request, error) {
	return r.filter(func(req *repository.Request) bool {
		if req.Status != repository.RequestPending {
			return false
		}
		if positionID == nil {
			return true
		}
		for _, n := range r.s.requestNodes[req.ID] {
			if n.Status == repository.NodePending && n.PositionID == *positionID {
				return true
			}
		}
		return false
	}), nil
}

// Decide serializes on the request id, runs fn against copies, and publishes
// the result in a single critical section.
func (r *RequestRepository) Decide(_ context.Context, requestID int64, fn repository.DecideFunc) (*repository.Request, *repository.DecisionResult, error) {
	unlock := r.s.locks.Lock(fmt.Sprintf("request:%d", requestID))
	defer unlock()

	r.s.mu.RLock()
	stored, ok := r.s.requests[requestID]
	var (
		req   *repository.Request
		nodes []*repository.RequestNode
	)
	if ok {
		req = copyRequest(stored)
		nodes = copyNodes(r.s.requestNodes[requestID])
	}
	r.s.mu.RUnlock()
	if !ok {
		return nil, nil, errors.NotFound("request", requestID)
	}

	result, err := fn(req, nodes)
	if err != nil {
		return nil, nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Only the decision columns are written back; a template link cleared
	// while fn ran must stay cleared.
	for _, changed := range []*repository.RequestNode{result.Decided, result.Activated} {
		if changed == nil {
			continue
		}
		for _, n := range r.s.requestNodes[requestID] {
			if n.ID != changed.ID {
				continue
			}
			c := copyNode(changed)
			n.Status = c.Status
			n.DecidedByUserID = c.DecidedByUserID
			n.DecidedAt = c.DecidedAt
		}
	}
	r.s.requests[requestID] = copyRequest(req)

	entry := *result.Entry
	entry.ID = r.s.nextID("approval_history")
	result.Entry.ID = entry.ID
	r.s.history[requestID] = append(r.s.history[requestID], &entry)

	return req, result, nil
}

func (r *RequestRepository) filter(keep func(*repository.Request) bool) []*repository.Request {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.Request
	for _, req := range r.s.requests {
		if keep(req) {
			out = append(out, copyRequest(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ── History ───────────────────────────────────────────────────────────────────

type HistoryRepository struct{ s *Store }

func (r *HistoryRepository) Append(_ context.Context, entry *repository.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.requests[entry.RequestID]; !ok {
		return errors.NotFound("request", entry.RequestID)
	}
	entry.ID = r.s.nextID("approval_history")
	c := *entry
	r.s.history[entry.RequestID] = append(r.s.history[entry.RequestID], &c)
	return nil
}

func (r *HistoryRepository) ListFor(_ context.Context, requestID int64) ([]*repository.HistoryEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	entries := r.s.history[requestID]
	out := make([]*repository.HistoryEntry, len(entries))
	for i, e := range entries {
		c := *e
		out[i] = &c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}
