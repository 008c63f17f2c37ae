package service

import (
	"context"

	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// The store interfaces below are satisfied by both the Postgres repositories
// in internal/repository and the in-process ones in internal/repository/memory.

type ProcessTypeStore interface {
	Create(ctx context.Context, pt *repository.ProcessType) error
	GetByCode(ctx context.Context, code string) (*repository.ProcessType, error)
	List(ctx context.Context, activeOnly bool) ([]*repository.ProcessType, error)
	Update(ctx context.Context, pt *repository.ProcessType) error
}

type PositionStore interface {
	Create(ctx context.Context, p *repository.Position) error
	GetByID(ctx context.Context, id repository.PositionID) (*repository.Position, error)
	GetByName(ctx context.Context, name string) (*repository.Position, error)
	List(ctx context.Context) ([]*repository.Position, error)
}

type DepartmentStore interface {
	Create(ctx context.Context, d *repository.Department) error
	GetByID(ctx context.Context, id int64) (*repository.Department, error)
	List(ctx context.Context) ([]*repository.Department, error)
}

type UserStore interface {
	Create(ctx context.Context, u *repository.User) error
	GetByID(ctx context.Context, id int64) (*repository.User, error)
	GetByUsername(ctx context.Context, username string) (*repository.User, error)
	List(ctx context.Context) ([]*repository.User, error)
	ListActiveByPosition(ctx context.Context, positionID repository.PositionID) ([]*repository.User, error)
	Update(ctx context.Context, u *repository.User) error
	SetPassword(ctx context.Context, id int64, hash string) error
}

type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.Workflow) error
	GetByID(ctx context.Context, id int64) (*repository.Workflow, error)
	List(ctx context.Context, processTypeCode string) ([]*repository.Workflow, error)
	ActiveFor(ctx context.Context, processTypeCode string) (*repository.Workflow, error)
	Update(ctx context.Context, id int64, patch repository.WorkflowPatch) (*repository.Workflow, error)
	AddNode(ctx context.Context, node *repository.WorkflowNode) error
	RemoveNode(ctx context.Context, workflowID, nodeID int64) error
}

type RequestStore interface {
	Create(ctx context.Context, req *repository.Request, nodes []*repository.RequestNode) error
	GetByID(ctx context.Context, id int64) (*repository.Request, error)
	Nodes(ctx context.Context, requestID int64) ([]*repository.RequestNode, error)
	ListByCreator(ctx context.Context, creatorID int64) ([]*repository.Request, error)
	ListPending(ctx context.Context, positionID *repository.PositionID) ([]*repository.Request, error)
	Decide(ctx context.Context, requestID int64, fn repository.DecideFunc) (*repository.Request, *repository.DecisionResult, error)
}

type HistoryStore interface {
	Append(ctx context.Context, entry *repository.HistoryEntry) error
	ListFor(ctx context.Context, requestID int64) ([]*repository.HistoryEntry, error)
}

type AnnouncementStore interface {
	Create(ctx context.Context, a *repository.Announcement) error
	List(ctx context.Context) ([]*repository.Announcement, error)
}

// Stores groups every store the services need.
type Stores struct {
	ProcessTypes  ProcessTypeStore
	Positions     PositionStore
	Departments   DepartmentStore
	Users         UserStore
	Workflows     WorkflowStore
	Requests      RequestStore
	History       HistoryStore
	Announcements AnnouncementStore
}

// Notifier publishes request lifecycle events after commit. Implementations
// must not fail the caller.
type Notifier interface {
	PublishRequestEvent(ctx context.Context, eventType string, requestID, actorID int64, recipients []int64, payload map[string]any)
}
