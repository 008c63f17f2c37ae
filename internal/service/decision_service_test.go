package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/client"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

func TestFullApprovalRoundTrip(t *testing.T) {
	f := newFixture(t)

	req, nodes := f.leaveRequest()
	assert.Equal(t, repository.RequestPending, req.Status)
	assert.Equal(t, []repository.NodeStatus{repository.NodePending, repository.NodeNotStarted}, statuses(nodes))

	req, decided, err := f.decide(f.lead1, req.ID, repository.DecisionApproved, "ok")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestPending, req.Status)
	assert.Equal(t, repository.NodeApproved, decided.Status)
	assert.Equal(t, f.lead1.UserID, *decided.DecidedByUserID)
	assert.NotNil(t, decided.DecidedAt)
	assert.Equal(t, []repository.NodeStatus{repository.NodeApproved, repository.NodePending}, statuses(f.nodes(req.ID)))
	require.Len(t, f.historyOf(req.ID), 1)

	req, _, err = f.decide(f.hr1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestApproved, req.Status)
	assert.Equal(t, []repository.NodeStatus{repository.NodeApproved, repository.NodeApproved}, statuses(f.nodes(req.ID)))

	entries := f.historyOf(req.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "ok", entries[0].Comment)
	assert.Equal(t, f.lead1.UserID, entries[0].ApproverUserID)
	assert.Equal(t, "", entries[1].Comment)
	assert.Equal(t, f.hr1.UserID, entries[1].ApproverUserID)
	assert.Equal(t, nodes[1].ID, entries[1].NodeInstanceID)

	stored, err := f.stores.Requests.GetByID(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestApproved, stored.Status)
}

func TestRejectionShortCircuit(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	_, _, err := f.decide(f.lead1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)

	req, decided, err := f.decide(f.hr1, req.ID, repository.DecisionRejected, "over budget")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestRejected, req.Status)
	assert.Equal(t, repository.NodeRejected, decided.Status)
	assert.Len(t, f.historyOf(req.ID), 2)

	_, _, err = f.decide(f.admin, req.ID, repository.DecisionApproved, "")
	assert.True(t, errors.IsState(err), "got %v", err)
	assert.Len(t, f.historyOf(req.ID), 2)
}

func TestRejectionFreezesLaterNodes(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	req, _, err := f.decide(f.lead1, req.ID, repository.DecisionRejected, "no")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestRejected, req.Status)
	assert.Equal(t, []repository.NodeStatus{repository.NodeRejected, repository.NodeNotStarted}, statuses(f.nodes(req.ID)))

	_, _, err = f.decide(f.hr1, req.ID, repository.DecisionApproved, "")
	assert.True(t, errors.IsState(err))
	_, _, err = f.decide(f.admin, req.ID, repository.DecisionApproved, "")
	assert.True(t, errors.IsState(err))
	assert.Equal(t, []repository.NodeStatus{repository.NodeRejected, repository.NodeNotStarted}, statuses(f.nodes(req.ID)))
}

func TestDecideTwiceOnSameNode(t *testing.T) {
	f := newFixture(t)
	req, nodes := f.leaveRequest()
	first := nodes[0].ID

	_, _, err := f.decisions.Decide(f.ctx, req.ID, DeciderFrom(f.lead1), DecideInput{Decision: repository.DecisionApproved, NodeID: &first})
	require.NoError(t, err)

	_, _, err = f.decisions.Decide(f.ctx, req.ID, DeciderFrom(f.admin), DecideInput{Decision: repository.DecisionApproved, NodeID: &first})
	assert.True(t, errors.IsState(err), "got %v", err)

	assert.Len(t, f.historyOf(req.ID), 1)
	assert.Equal(t, []repository.NodeStatus{repository.NodeApproved, repository.NodePending}, statuses(f.nodes(req.ID)))
}

func TestDecideOnTerminalRequestIsStateError(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()
	_, _, err := f.decide(f.lead1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	_, _, err = f.decide(f.hr1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err = f.decide(f.hr1, req.ID, repository.DecisionApproved, "")
		assert.True(t, errors.IsState(err))
	}
	assert.Len(t, f.historyOf(req.ID), 2)
}

func TestDecidePermissionDenied(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	for _, tc := range []struct {
		name string
		dec  Decider
	}{
		{"other position", DeciderFrom(f.stranger)},
		{"next step position", DeciderFrom(f.hr1)},
		{"no position", Decider{UserID: f.employee.UserID, Role: repository.RoleApprover}},
		{"unknown role", Decider{UserID: f.lead1.UserID, Role: "auditor", PositionID: &f.lead}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.decisions.Decide(f.ctx, req.ID, tc.dec, DecideInput{Decision: repository.DecisionApproved})
			assert.True(t, errors.IsPermission(err), "got %v", err)
		})
	}

	stored, err := f.stores.Requests.GetByID(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestPending, stored.Status)
	assert.Equal(t, []repository.NodeStatus{repository.NodePending, repository.NodeNotStarted}, statuses(f.nodes(req.ID)))
	assert.Empty(t, f.historyOf(req.ID))
}

func TestAnyHolderOfPositionMayDecide(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	_, decided, err := f.decide(f.lead2, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, f.lead2.UserID, *decided.DecidedByUserID)
}

func TestAdminMayDecideAnyNode(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	_, _, err := f.decide(f.admin, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	req, _, err = f.decide(f.admin, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestApproved, req.Status)
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()

	_, _, err := f.decide(f.lead1, req.ID, "maybe", "")
	assert.True(t, errors.IsValidation(err))

	_, _, err = f.decide(f.lead1, 9999, repository.DecisionApproved, "")
	assert.True(t, errors.IsNotFound(err))
}

func TestConcurrentDecisionsOnSameNode(t *testing.T) {
	f := newFixture(t)
	req, nodes := f.leaveRequest()
	first := nodes[0].ID

	const racers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		stateErrs int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.decisions.Decide(f.ctx, req.ID, DeciderFrom(f.lead1), DecideInput{Decision: repository.DecisionApproved, NodeID: &first})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.IsState(err):
				stateErrs++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, stateErrs)
	assert.Len(t, f.historyOf(req.ID), 1)
	assert.Equal(t, []repository.NodeStatus{repository.NodeApproved, repository.NodePending}, statuses(f.nodes(req.ID)))
}

func TestSingleNodeWorkflowApprovesImmediately(t *testing.T) {
	f := newFixture(t)
	amount := 12.5
	req, nodes, err := f.requests.Create(f.ctx, f.employee.UserID, CreateRequestInput{
		Type:   "reimburse",
		Title:  "Taxi",
		Amount: &amount,
		Data:   map[string]any{"category": "travel"},
	})
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	req, _, err = f.decide(f.lead1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, repository.RequestApproved, req.Status)
}

func TestDecisionNotifications(t *testing.T) {
	f := newFixture(t)
	req, _ := f.leaveRequest()
	_, _, err := f.decide(f.lead1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)
	_, _, err = f.decide(f.hr1, req.ID, repository.DecisionApproved, "")
	require.NoError(t, err)

	events := f.notifier.recorded()
	require.Len(t, events, 3)

	assert.Equal(t, client.EventRequestSubmitted, events[0].eventType)
	assert.ElementsMatch(t, []int64{f.lead1.UserID, f.lead2.UserID}, events[0].recipients)

	assert.Equal(t, client.EventRequestApprovalRequired, events[1].eventType)
	assert.Equal(t, []int64{f.hr1.UserID}, events[1].recipients)
	assert.Equal(t, f.lead1.UserID, events[1].actorID)

	assert.Equal(t, client.EventRequestApproved, events[2].eventType)
	assert.Equal(t, []int64{f.employee.UserID}, events[2].recipients)
}

func TestDeriveStatus(t *testing.T) {
	n := func(statuses ...repository.NodeStatus) []*repository.RequestNode {
		out := make([]*repository.RequestNode, len(statuses))
		for i, s := range statuses {
			out[i] = &repository.RequestNode{Status: s}
		}
		return out
	}

	tests := []struct {
		name  string
		nodes []*repository.RequestNode
		want  repository.RequestStatus
	}{
		{"all approved", n(repository.NodeApproved, repository.NodeApproved), repository.RequestApproved},
		{"in progress", n(repository.NodeApproved, repository.NodePending), repository.RequestPending},
		{"rejected early", n(repository.NodeRejected, repository.NodeNotStarted), repository.RequestRejected},
		{"rejected last", n(repository.NodeApproved, repository.NodeRejected), repository.RequestRejected},
		{"no nodes", nil, repository.RequestPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.nodes))
		})
	}
}

func TestApplyDecisionRejectsCorruptState(t *testing.T) {
	req := &repository.Request{ID: 1, Status: repository.RequestPending}
	admin := Decider{UserID: 1, Role: repository.RoleAdmin}
	in := DecideInput{Decision: repository.DecisionApproved}

	_, err := applyDecision(req, []*repository.RequestNode{
		{ID: 1, Status: repository.NodeApproved},
		{ID: 2, Status: repository.NodeNotStarted},
	}, admin, in, req.UpdatedAt)
	assert.True(t, errors.IsState(err))

	_, err = applyDecision(req, []*repository.RequestNode{
		{ID: 1, Status: repository.NodePending},
		{ID: 2, Status: repository.NodePending},
	}, admin, in, req.UpdatedAt)
	assert.True(t, errors.IsState(err))

	nodes := []*repository.RequestNode{
		{ID: 1, Status: repository.NodePending},
		{ID: 2, Status: repository.NodeApproved},
	}
	_, err = applyDecision(req, nodes, admin, in, req.UpdatedAt)
	assert.True(t, errors.IsState(err))
	assert.Equal(t, repository.NodePending, nodes[0].Status)
	assert.Nil(t, nodes[0].DecidedByUserID)
}
