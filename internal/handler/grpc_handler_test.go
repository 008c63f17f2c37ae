package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pesio-ai/be-oa-approvals/internal/client"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
)

type grpcEnv struct {
	t   *testing.T
	lis *bufconn.Listener
	svc Services
}

func newGRPCEnv(t *testing.T) *grpcEnv {
	t.Helper()
	svc := newServices(t)
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		UnaryLoggingInterceptor(logger.Nop()),
		UnaryAuthInterceptor(svc.Directory),
	))
	NewGRPCHandler(svc, logger.Nop()).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &grpcEnv{t: t, lis: lis, svc: svc}
}

func (e *grpcEnv) client(username, password string) *client.ApprovalsGRPCClient {
	e.t.Helper()
	token := ""
	if username != "" {
		var err error
		token, _, err = e.svc.Directory.Login(context.Background(), username, password)
		require.NoError(e.t, err)
	}
	c, err := client.NewApprovalsGRPCClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		}))
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCApprovalFlow(t *testing.T) {
	env := newGRPCEnv(t)
	ctx := context.Background()
	employee := env.client("employee", "employee123")
	approver := env.client("approver", "approver123")

	created, err := employee.CreateRequest(ctx, "leave", "Sick day", "", nil, map[string]any{
		"leave_type": "病假",
		"start_date": "2026-04-01",
		"end_date":   "2026-04-01",
		"days":       1,
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", created["status"])
	id := int64(created["id"].(float64))

	pending, err := approver.GetPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created["id"], pending[0]["id"])

	detail, err := approver.GetRequestDetail(ctx, id)
	require.NoError(t, err)
	nodes := detail["nodes"].([]any)
	require.Len(t, nodes, 1)
	nodeID := int64(nodes[0].(map[string]any)["node_id"].(float64))
	assert.Equal(t, float64(nodeID), pending[0]["pending_node_id"])

	_, err = approver.Decide(ctx, id, "approved", "get well", nodeID+100)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	decided, err := approver.Decide(ctx, id, "approved", "get well", nodeID)
	require.NoError(t, err)
	assert.Equal(t, "approved", decided["status"])

	_, err = approver.Decide(ctx, id, "approved", "", 0)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	pending, err = approver.GetPendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGRPCErrors(t *testing.T) {
	env := newGRPCEnv(t)
	ctx := context.Background()

	_, err := env.client("", "").GetPendingApprovals(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	employee := env.client("employee", "employee123")

	_, err = employee.GetRequestDetail(ctx, 4242)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = employee.Decide(ctx, 1, "later", "", 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = employee.CreateRequest(ctx, "reimburse", "Lunch", "", nil, map[string]any{"category": "招待"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = employee.SetWorkflowActive(ctx, 1, false)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestGRPCSetWorkflowActive(t *testing.T) {
	env := newGRPCEnv(t)
	ctx := context.Background()
	admin := env.client("admin", "admin123")

	wfs, err := env.svc.Workflows.List(ctx, "leave")
	require.NoError(t, err)
	require.Len(t, wfs, 1)

	out, err := admin.SetWorkflowActive(ctx, wfs[0].ID, false)
	require.NoError(t, err)
	assert.Equal(t, false, out["is_active"])

	_, err = admin.SetWorkflowActive(ctx, 9999, true)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{errors.InvalidInput("title", "is required"), codes.InvalidArgument},
		{errors.NotFound("request", 1), codes.NotFound},
		{errors.Forbidden("no"), codes.PermissionDenied},
		{errors.InvalidState("request is not pending"), codes.FailedPrecondition},
		{errors.Conflict("another workflow is active"), codes.Aborted},
		{errors.Unauthenticated("missing token"), codes.Unauthenticated},
		{errors.New(errors.ErrCodeInternal, "boom"), codes.Internal},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(mapErrorToGRPC(tt.err)), tt.err.Error())
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
