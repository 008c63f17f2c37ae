package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/cache"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/metrics"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/repository/memory"
)

func TestSeederIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := memoryStores(memory.New())
	log := logger.Nop()
	registry := NewProcessTypeRegistry(stores.ProcessTypes, cache.NewMemory(time.Minute), log)
	workflows := NewWorkflowService(stores.Workflows, stores.Positions, registry, metrics.New(), log)
	seeder := NewSeeder(stores, registry, workflows, log)

	require.NoError(t, seeder.Run(ctx))
	require.NoError(t, seeder.Run(ctx))

	positions, err := stores.Positions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 4)

	users, err := stores.Users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 4)

	types, err := registry.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "leave", types[0].Code)
	assert.Equal(t, "reimburse", types[1].Code)
	assert.True(t, types[1].RequiresAmount)

	all, err := workflows.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	reimburse, err := workflows.ActiveFor(ctx, "reimburse")
	require.NoError(t, err)
	require.NotNil(t, reimburse)
	require.Len(t, reimburse.Nodes, 2)
	finance, err := stores.Positions.GetByName(ctx, PositionFinance)
	require.NoError(t, err)
	assert.Equal(t, finance.ID, reimburse.Nodes[1].PositionID)

	directory := NewDirectoryService(stores, auth.NewTokenManager("seed-secret", time.Hour), log)
	_, admin, err := directory.Login(ctx, "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, repository.RoleAdmin, admin.Role)
	_, approver, err := directory.Login(ctx, "approver", "approver123")
	require.NoError(t, err)
	manager, err := stores.Positions.GetByName(ctx, PositionManager)
	require.NoError(t, err)
	require.NotNil(t, approver.PositionID)
	assert.Equal(t, manager.ID, *approver.PositionID)
}

func TestSeededLeaveRequestRoutesToManager(t *testing.T) {
	ctx := context.Background()
	stores := memoryStores(memory.New())
	log := logger.Nop()
	m := metrics.New()
	registry := NewProcessTypeRegistry(stores.ProcessTypes, cache.NewMemory(time.Minute), log)
	workflows := NewWorkflowService(stores.Workflows, stores.Positions, registry, m, log)
	require.NoError(t, NewSeeder(stores, registry, workflows, log).Run(ctx))

	requests := NewRequestService(stores, registry, NewHistoryLedger(stores.History), nil, m, log)
	employee, err := stores.Users.GetByUsername(ctx, "employee")
	require.NoError(t, err)

	req, nodes, err := requests.Create(ctx, employee.ID, CreateRequestInput{
		Type:  "leave",
		Title: "年假",
		Data:  map[string]any{"leave_type": "年假", "start_date": "2026-05-06", "end_date": "2026-05-07", "days": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, repository.RequestPending, req.Status)
	require.Len(t, nodes, 1)

	approver, err := stores.Users.GetByUsername(ctx, "approver")
	require.NoError(t, err)
	pending, err := requests.ListPending(ctx, auth.PrincipalFromUser(approver))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}
