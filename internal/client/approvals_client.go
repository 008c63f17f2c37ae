package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const approvalServicePath = "/oa.approvals.v1.ApprovalService/"

// ApprovalsGRPCClient calls the oa.approvals.v1.ApprovalService. Payloads are
// the same JSON-shaped documents the HTTP API uses.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service. When token is set
// it is sent as a bearer token on every call; otherwise incoming metadata is
// forwarded.
func NewApprovalsGRPCClient(addr, token string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	interceptor := grpc.UnaryClientInterceptor(forwardMetadata)
	if token != "" {
		interceptor = bearerToken(token)
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(interceptor),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, approvalServicePath+method, req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// CreateRequest submits a request for the caller.
func (c *ApprovalsGRPCClient) CreateRequest(
	ctx context.Context,
	typeCode, title, content string,
	amount *float64,
	data map[string]any,
) (map[string]any, error) {
	in := map[string]any{"type": typeCode, "title": title, "content": content}
	if amount != nil {
		in["amount"] = *amount
	}
	if data != nil {
		in["data"] = data
	}
	return c.call(ctx, "CreateRequest", in)
}

// GetRequestDetail returns a request with its nodes and history.
func (c *ApprovalsGRPCClient) GetRequestDetail(ctx context.Context, requestID int64) (map[string]any, error) {
	return c.call(ctx, "GetRequestDetail", map[string]any{"id": requestID})
}

// Decide approves or rejects the pending node of a request. A non-zero nodeID
// must match the node currently pending.
func (c *ApprovalsGRPCClient) Decide(ctx context.Context, requestID int64, decision, comment string, nodeID int64) (map[string]any, error) {
	in := map[string]any{"id": requestID, "decision": decision, "comment": comment}
	if nodeID > 0 {
		in["node_id"] = nodeID
	}
	return c.call(ctx, "Decide", in)
}

// GetPendingApprovals returns the requests awaiting the caller.
func (c *ApprovalsGRPCClient) GetPendingApprovals(ctx context.Context) ([]map[string]any, error) {
	resp, err := c.call(ctx, "ListPendingApprovals", map[string]any{})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["requests"].([]any)
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

// SetWorkflowActive activates or deactivates a workflow.
func (c *ApprovalsGRPCClient) SetWorkflowActive(ctx context.Context, workflowID int64, active bool) (map[string]any, error) {
	return c.call(ctx, "SetWorkflowActive", map[string]any{"id": workflowID, "is_active": active})
}
