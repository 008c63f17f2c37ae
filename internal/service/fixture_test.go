package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/cache"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/metrics"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/repository/memory"
)

type recordedEvent struct {
	eventType  string
	requestID  int64
	actorID    int64
	recipients []int64
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) PublishRequestEvent(_ context.Context, eventType string, requestID, actorID int64, recipients []int64, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{eventType, requestID, actorID, append([]int64(nil), recipients...)})
}

func (n *recordingNotifier) recorded() []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedEvent(nil), n.events...)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	stores Stores

	registry  *ProcessTypeRegistry
	workflows *WorkflowService
	requests  *RequestService
	decisions *DecisionProcessor
	history   *HistoryLedger
	directory *DirectoryService
	notifier  *recordingNotifier
	metrics   *metrics.Metrics

	lead, hr, staff repository.PositionID

	employee, lead1, lead2, hr1, admin, stranger *auth.Principal

	leaveWorkflow *repository.Workflow
}

func memoryStores(m *memory.Store) Stores {
	return Stores{
		ProcessTypes:  m.ProcessTypes(),
		Positions:     m.Positions(),
		Departments:   m.Departments(),
		Users:         m.Users(),
		Workflows:     m.Workflows(),
		Requests:      m.Requests(),
		History:       m.History(),
		Announcements: m.Announcements(),
	}
}

// newFixture builds the services over an in-memory store with positions Lead,
// HR and Staff, a "leave" type with an active two-step workflow
// (Lead, then HR) and a "reimburse" type that requires an amount.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{t: t, ctx: context.Background(), store: memory.New(), notifier: &recordingNotifier{}}
	f.stores = memoryStores(f.store)
	log := logger.Nop()
	f.metrics = metrics.New()

	f.registry = NewProcessTypeRegistry(f.stores.ProcessTypes, cache.NewMemory(time.Minute), log)
	f.history = NewHistoryLedger(f.stores.History)
	f.workflows = NewWorkflowService(f.stores.Workflows, f.stores.Positions, f.registry, f.metrics, log)
	f.requests = NewRequestService(f.stores, f.registry, f.history, f.notifier, f.metrics, log)
	f.decisions = NewDecisionProcessor(f.stores.Requests, f.stores.Users, f.notifier, f.metrics, log)
	f.directory = NewDirectoryService(f.stores, auth.NewTokenManager("test-secret", time.Hour), log)

	f.lead = f.position("Lead")
	f.hr = f.position("HR")
	f.staff = f.position("Staff")

	f.employee = f.user("alice", repository.RoleEmployee, &f.staff)
	f.lead1 = f.user("lead1", repository.RoleApprover, &f.lead)
	f.lead2 = f.user("lead2", repository.RoleApprover, &f.lead)
	f.hr1 = f.user("hr1", repository.RoleEmployee, &f.hr)
	f.admin = f.user("root", repository.RoleAdmin, nil)
	f.stranger = f.user("bob", repository.RoleEmployee, &f.staff)

	_, err := f.registry.Create(f.ctx, ProcessTypeInput{
		Code:     "leave",
		Name:     "Leave",
		IsActive: true,
		Fields: []repository.FieldSchema{
			{Key: "days", Label: "Days", Kind: repository.FieldNumber, Required: true},
			{Key: "start_date", Label: "Start date", Kind: repository.FieldDate, Required: true},
			{Key: "reason", Label: "Reason", Kind: repository.FieldTextArea},
		},
	})
	require.NoError(t, err)

	_, err = f.registry.Create(f.ctx, ProcessTypeInput{
		Code:           "reimburse",
		Name:           "Reimbursement",
		RequiresAmount: true,
		IsActive:       true,
		Fields: []repository.FieldSchema{
			{Key: "category", Label: "Category", Kind: repository.FieldSelect, Required: true, Options: []string{"travel", "office"}},
		},
	})
	require.NoError(t, err)

	f.leaveWorkflow = f.workflow("Leave-2step", "leave", true, f.lead, f.hr)
	f.workflow("Reimburse-1step", "reimburse", true, f.lead)

	return f
}

func (f *fixture) position(name string) repository.PositionID {
	f.t.Helper()
	p := &repository.Position{Name: name}
	require.NoError(f.t, f.stores.Positions.Create(f.ctx, p))
	return p.ID
}

func (f *fixture) user(username string, role repository.RoleKind, position *repository.PositionID) *auth.Principal {
	f.t.Helper()
	u := &repository.User{Username: username, FullName: username, Role: role, IsActive: true, PositionID: position}
	require.NoError(f.t, f.stores.Users.Create(f.ctx, u))
	return auth.PrincipalFromUser(u)
}

// workflow creates a workflow whose nodes are bound to positions in order.
func (f *fixture) workflow(name, typeCode string, active bool, positions ...repository.PositionID) *repository.Workflow {
	f.t.Helper()
	wf, err := f.workflows.Create(f.ctx, name, typeCode, active)
	require.NoError(f.t, err)
	for i, pos := range positions {
		_, err := f.workflows.AddNode(f.ctx, wf.ID, AddNodeInput{StepOrder: i + 1, PositionID: pos, NodeName: name + " step"})
		require.NoError(f.t, err)
	}
	wf, err = f.workflows.Get(f.ctx, wf.ID)
	require.NoError(f.t, err)
	return wf
}

func (f *fixture) leaveRequest() (*repository.Request, []*repository.RequestNode) {
	f.t.Helper()
	req, nodes, err := f.requests.Create(f.ctx, f.employee.UserID, CreateRequestInput{
		Type:  "leave",
		Title: "Annual leave",
		Data:  map[string]any{"days": 2.0, "start_date": "2026-03-02"},
	})
	require.NoError(f.t, err)
	return req, nodes
}

func (f *fixture) decide(p *auth.Principal, requestID int64, d repository.Decision, comment string) (*repository.Request, *repository.RequestNode, error) {
	return f.decisions.Decide(f.ctx, requestID, DeciderFrom(p), DecideInput{Decision: d, Comment: comment})
}

func (f *fixture) nodes(requestID int64) []*repository.RequestNode {
	f.t.Helper()
	nodes, err := f.stores.Requests.Nodes(f.ctx, requestID)
	require.NoError(f.t, err)
	return nodes
}

func (f *fixture) historyOf(requestID int64) []*repository.HistoryEntry {
	f.t.Helper()
	entries, err := f.history.ListFor(f.ctx, requestID)
	require.NoError(f.t, err)
	return entries
}

func statuses(nodes []*repository.RequestNode) []repository.NodeStatus {
	out := make([]repository.NodeStatus, len(nodes))
	for i, n := range nodes {
		out[i] = n.Status
	}
	return out
}
