package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/middleware"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/service"
)

// ApprovalServiceName is the fully qualified gRPC service name. Messages are
// google.protobuf.Struct documents shaped like the JSON API bodies.
const ApprovalServiceName = "oa.approvals.v1.ApprovalService"

// ApprovalServiceServer is the server side of ApprovalService.
type ApprovalServiceServer interface {
	CreateRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRequestDetail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListPendingApprovals(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetWorkflowActive(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type structCall func(srv ApprovalServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func structMethod(name string, call structCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ApprovalServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ApprovalServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ApprovalServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ApprovalServiceDesc describes ApprovalService for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		structMethod("CreateRequest", ApprovalServiceServer.CreateRequest),
		structMethod("GetRequestDetail", ApprovalServiceServer.GetRequestDetail),
		structMethod("Decide", ApprovalServiceServer.Decide),
		structMethod("ListPendingApprovals", ApprovalServiceServer.ListPendingApprovals),
		structMethod("SetWorkflowActive", ApprovalServiceServer.SetWorkflowActive),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oa/approvals/v1/approval_service.proto",
}

// GRPCHandler implements ApprovalServiceServer over the engine services.
type GRPCHandler struct {
	svc      Services
	validate *validator.Validate
	log      *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler.
func NewGRPCHandler(svc Services, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		svc:      svc,
		validate: newValidator(),
		log:      log.WithComponent("grpc"),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ApprovalServiceDesc, h)
}

type requestIDBody struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type grpcDecideBody struct {
	requestIDBody
	decideBody
}

type setActiveBody struct {
	ID       int64 `json:"id" validate:"required,gt=0"`
	IsActive *bool `json:"is_active" validate:"required"`
}

// CreateRequest submits a request for the caller.
func (h *GRPCHandler) CreateRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var body createRequestBody
	if err := h.bind(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}

	req, _, err := h.svc.Requests.Create(ctx, p.UserID, service.CreateRequestInput{
		Type:    body.Type,
		Title:   body.Title,
		Content: body.Content,
		Amount:  body.Amount,
		Data:    body.Data,
	})
	if err != nil {
		h.log.Error().Err(err).Str("type", body.Type).Msg("Failed to create request")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(newRequestView(req))
}

// GetRequestDetail returns a request with its nodes and history.
func (h *GRPCHandler) GetRequestDetail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var body requestIDBody
	if err := h.bind(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	d, err := h.svc.Requests.DetailFor(ctx, p, body.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(newDetailView(d))
}

// Decide approves or rejects the pending node of a request.
func (h *GRPCHandler) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var body grpcDecideBody
	if err := h.bind(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	decision, err := repository.ParseDecision(body.Decision)
	if err != nil {
		return nil, mapErrorToGRPC(errors.InvalidInput("decision", err.Error()))
	}

	req, _, err := h.svc.Decisions.Decide(ctx, body.ID, service.DeciderFrom(p), service.DecideInput{
		Decision: decision,
		Comment:  body.Comment,
		NodeID:   body.NodeID,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(newRequestView(req))
}

// ListPendingApprovals lists the requests awaiting the caller.
func (h *GRPCHandler) ListPendingApprovals(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.PrincipalFrom(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	reqs, err := h.svc.Requests.ListPending(ctx, p)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	pendingNodes, err := h.svc.Requests.PendingNodeIDs(ctx, reqs)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{"requests": newPendingRequestViews(reqs, pendingNodes)})
}

// SetWorkflowActive activates or deactivates a workflow. Admin only.
func (h *GRPCHandler) SetWorkflowActive(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var body setActiveBody
	if err := h.bind(in, &body); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	wf, err := h.svc.Workflows.SetActive(ctx, body.ID, *body.IsActive)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(newWorkflowView(wf))
}

// bind decodes a Struct through its JSON form into dst and validates it.
func (h *GRPCHandler) bind(in *structpb.Struct, dst any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return errors.InvalidInput("body", err.Error())
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return errors.InvalidInput("body", err.Error())
	}
	return validateBody(h.validate, dst)
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

// ── Interceptors ──────────────────────────────────────────────────────────────

// UnaryAuthInterceptor resolves the bearer token in the "authorization"
// metadata and stores the principal in the context.
func UnaryAuthInterceptor(authn middleware.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		token, err := auth.ExtractBearer(header)
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		p, err := authn.Authenticate(ctx, token)
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

// UnaryLoggingInterceptor logs each call with its status code.
func UnaryLoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		event := log.Info()
		if code == codes.Internal || code == codes.Unknown {
			event = log.Error().Err(err)
		}
		event.
			Str("method", info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// mapErrorToGRPC maps domain errors to gRPC status codes.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var domain *errors.Error
	if !stderrors.As(err, &domain) {
		if _, ok := status.FromError(err); ok {
			return err
		}
	}
	msg := errors.Message(err)
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodePermission:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeState:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeUnauthenticated:
		return status.Error(codes.Unauthenticated, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
