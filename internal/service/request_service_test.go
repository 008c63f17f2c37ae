package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

func TestCreateRequestSnapshotsActiveWorkflow(t *testing.T) {
	f := newFixture(t)

	req, nodes := f.leaveRequest()
	assert.NotZero(t, req.ID)
	assert.Equal(t, "leave", req.TypeCode)
	assert.Equal(t, f.employee.UserID, req.CreatorID)
	assert.Equal(t, "Leave-2step", req.WorkflowName)
	require.NotNil(t, req.WorkflowID)
	assert.Equal(t, f.leaveWorkflow.ID, *req.WorkflowID)

	require.Len(t, nodes, 2)
	for i, n := range nodes {
		assert.Equal(t, req.ID, n.RequestID)
		assert.Equal(t, f.leaveWorkflow.Nodes[i].StepOrder, n.StepOrder)
		assert.Equal(t, f.leaveWorkflow.Nodes[i].PositionID, n.PositionID)
		require.NotNil(t, n.TemplateNodeID)
		assert.Equal(t, f.leaveWorkflow.Nodes[i].ID, *n.TemplateNodeID)
	}
	assert.Equal(t, f.lead, nodes[0].PositionID)
	assert.Equal(t, f.hr, nodes[1].PositionID)
}

func TestCreateRequestValidation(t *testing.T) {
	amount := 10.0
	negative := -1.0
	inf := math.Inf(1)
	valid := map[string]any{"days": 1.0, "start_date": "2026-03-02"}
	with := func(k string, v any) map[string]any {
		m := map[string]any{}
		for key, val := range valid {
			m[key] = val
		}
		m[k] = v
		return m
	}

	tests := []struct {
		name   string
		in     CreateRequestInput
		isKind func(error) bool
	}{
		{"unknown type", CreateRequestInput{Type: "travel", Title: "x"}, errors.IsNotFound},
		{"missing required field", CreateRequestInput{Type: "leave", Title: "x", Data: map[string]any{"days": 1.0}}, errors.IsValidation},
		{"blank required field", CreateRequestInput{Type: "leave", Title: "x", Data: with("start_date", "  ")}, errors.IsValidation},
		{"number as text", CreateRequestInput{Type: "leave", Title: "x", Data: with("days", "two")}, errors.IsValidation},
		{"malformed date", CreateRequestInput{Type: "leave", Title: "x", Data: with("start_date", "02/03/2026")}, errors.IsValidation},
		{"amount on non-amount type", CreateRequestInput{Type: "leave", Title: "x", Data: valid, Amount: &amount}, errors.IsValidation},
		{"missing amount", CreateRequestInput{Type: "reimburse", Title: "x", Data: map[string]any{"category": "travel"}}, errors.IsValidation},
		{"negative amount", CreateRequestInput{Type: "reimburse", Title: "x", Amount: &negative, Data: map[string]any{"category": "travel"}}, errors.IsValidation},
		{"infinite amount", CreateRequestInput{Type: "reimburse", Title: "x", Amount: &inf, Data: map[string]any{"category": "travel"}}, errors.IsValidation},
		{"option not offered", CreateRequestInput{Type: "reimburse", Title: "x", Amount: &amount, Data: map[string]any{"category": "food"}}, errors.IsValidation},
		{"empty title", CreateRequestInput{Type: "leave", Title: "  ", Data: valid}, errors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, _, err := f.requests.Create(f.ctx, f.employee.UserID, tt.in)
			require.Error(t, err)
			assert.True(t, tt.isKind(err), "got %v", err)

			mine, err := f.requests.ListMine(f.ctx, f.employee.UserID)
			require.NoError(t, err)
			assert.Empty(t, mine)
		})
	}
}

func TestCreateRequestIgnoresUnknownKeys(t *testing.T) {
	f := newFixture(t)
	req, _, err := f.requests.Create(f.ctx, f.employee.UserID, CreateRequestInput{
		Type:  "leave",
		Title: "Leave",
		Data:  map[string]any{"days": "1.5", "start_date": "2026-03-02", "colour": "blue"},
	})
	require.NoError(t, err)
	assert.Equal(t, "blue", req.FormData["colour"])
}

func TestCreateRequestWithoutActiveWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflows.SetActive(f.ctx, f.leaveWorkflow.ID, false)
	require.NoError(t, err)
	_, _, err = f.requests.Create(f.ctx, f.employee.UserID, CreateRequestInput{
		Type: "leave", Title: "x", Data: map[string]any{"days": 1.0, "start_date": "2026-03-02"},
	})
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "no approval workflow configured")

	empty := f.workflow("Leave-empty", "leave", true)
	assert.Empty(t, empty.Nodes)
	_, _, err = f.requests.Create(f.ctx, f.employee.UserID, CreateRequestInput{
		Type: "leave", Title: "x", Data: map[string]any{"days": 1.0, "start_date": "2026-03-02"},
	})
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateRequestForInactiveType(t *testing.T) {
	f := newFixture(t)
	inactive := false
	_, err := f.registry.Update(f.ctx, "leave", ProcessTypePatch{IsActive: &inactive})
	require.NoError(t, err)

	_, _, err = f.requests.Create(f.ctx, f.employee.UserID, CreateRequestInput{
		Type: "leave", Title: "x", Data: map[string]any{"days": 1.0, "start_date": "2026-03-02"},
	})
	assert.True(t, errors.IsNotFound(err))
}

func TestSnapshotIsIndependentOfLaterWorkflowEdits(t *testing.T) {
	f := newFixture(t)
	req, before := f.leaveRequest()

	require.NoError(t, f.workflows.RemoveNode(f.ctx, f.leaveWorkflow.ID, f.leaveWorkflow.Nodes[1].ID))
	_, err := f.workflows.AddNode(f.ctx, f.leaveWorkflow.ID, AddNodeInput{StepOrder: 3, PositionID: f.staff, NodeName: "Staff"})
	require.NoError(t, err)

	after := f.nodes(req.ID)
	require.Len(t, after, 2)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].PositionID, after[i].PositionID)
		assert.Equal(t, before[i].NodeName, after[i].NodeName)
	}

	_, _, err = f.decide(f.lead1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	req, _, err = f.decide(f.hr1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestApproved, req.Status)
}

func TestDetail(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()
	_, _, err := f.decide(f.lead1, req.ID, repository.DecisionApproved, "fine")
	require.NoError(t, err)

	d, err := f.requests.Detail(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, d.Request.ID)
	assert.Equal(t, "Leave-2step", d.WorkflowName)
	assert.Equal(t, "alice", d.CreatorName)
	require.NotNil(t, d.ProcessType)
	assert.Equal(t, "leave", d.ProcessType.Code)

	require.Len(t, d.Nodes, 2)
	assert.Equal(t, "Lead", d.Nodes[0].PositionName)
	assert.Equal(t, "lead1", d.Nodes[0].DecidedByName)
	assert.Equal(t, "HR", d.Nodes[1].PositionName)
	assert.Empty(t, d.Nodes[1].DecidedByName)

	require.Len(t, d.History, 1)
	assert.Equal(t, "lead1", d.History[0].ApproverName)
	assert.Equal(t, "fine", d.History[0].Comment)

	_, err = f.requests.Detail(f.ctx, 4242)
	assert.True(t, errors.IsNotFound(err))
}

func TestDetailVisibility(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	tests := []struct {
		name    string
		viewer  *auth.Principal
		allowed bool
	}{
		{"creator", f.employee, true},
		{"pending position holder", f.lead2, true},
		{"admin", f.admin, true},
		{"later position holder", f.hr1, false},
		{"unrelated user", f.stranger, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.requests.DetailFor(f.ctx, tt.viewer, req.ID)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsPermission(err), "got %v", err)
			}
		})
	}
}

func TestListPending(t *testing.T) {
	f := newFixture(t)
	first, firstNodes := f.leaveRequest()
	second, secondNodes := f.leaveRequest()
	_, _, err := f.decide(f.lead1, second.ID, repository.DecisionApproved, "")
	require.NoError(t, err)

	ids := func(reqs []*repository.Request) []int64 {
		out := make([]int64, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, r.ID)
		}
		return out
	}

	lead, err := f.requests.ListPending(f.ctx, f.lead1)
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID}, ids(lead))

	hr, err := f.requests.ListPending(f.ctx, f.hr1)
	require.NoError(t, err)
	assert.Equal(t, []int64{second.ID}, ids(hr))

	all, err := f.requests.ListPending(f.ctx, f.admin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{first.ID, second.ID}, ids(all))

	staff, err := f.requests.ListPending(f.ctx, f.stranger)
	require.NoError(t, err)
	assert.Empty(t, staff)

	noPosition := *f.lead1
	noPosition.PositionID = nil
	none, err := f.requests.ListPending(f.ctx, &noPosition)
	require.NoError(t, err)
	assert.Empty(t, none)

	third, _ := f.leaveRequest()
	_, _, err = f.decide(f.lead1, third.ID, repository.DecisionRejected, "")
	require.NoError(t, err)
	rejected, _, err := f.requests.Get(f.ctx, f.admin, third.ID)
	require.NoError(t, err)

	pendingNodes, err := f.requests.PendingNodeIDs(f.ctx, append(all, rejected))
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{
		first.ID:  firstNodes[0].ID,
		second.ID: secondNodes[1].ID,
	}, pendingNodes)
}

func TestListMineNewestFirst(t *testing.T) {
	f := newFixture(t)
	first, _ := f.leaveRequest()
	second, _ := f.leaveRequest()

	mine, err := f.requests.ListMine(f.ctx, f.employee.UserID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	others, err := f.requests.ListMine(f.ctx, f.stranger.UserID)
	require.NoError(t, err)
	assert.Empty(t, others)
}
