package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/metrics"
	"github.com/pesio-ai/be-oa-approvals/internal/middleware"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/service"
)

// Services groups the services the HTTP and gRPC handlers call.
type Services struct {
	Registry      *service.ProcessTypeRegistry
	Workflows     *service.WorkflowService
	Requests      *service.RequestService
	Decisions     *service.DecisionProcessor
	Directory     *service.DirectoryService
	Announcements *service.AnnouncementService
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterOptions configures the middleware chain.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// HTTPHandler serves the JSON API.
type HTTPHandler struct {
	svc      Services
	health   HealthChecker
	metrics  *metrics.Metrics
	validate *validator.Validate
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. health may be nil.
func NewHTTPHandler(svc Services, health HealthChecker, m *metrics.Metrics, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:      svc,
		health:   health,
		metrics:  m,
		validate: newValidator(),
		log:      log,
	}
}

// Router builds the route table with the full middleware chain.
func (h *HTTPHandler) Router(opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		WriteError(w, req, errors.New(errors.ErrCodeNotFound, "route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		WriteError(w, req, errors.InvalidInput("method", req.Method+" is not allowed on "+req.URL.Path))
	})

	r.Use(
		middleware.RequestID(h.log),
		middleware.Logging(),
		middleware.Recovery(WriteError),
		middleware.Metrics(h.metrics),
		middleware.Timeout(opts.RequestTimeout),
		middleware.Auth(h.svc.Directory, WriteError, "/api/auth/login", "/api/health", "/metrics"),
	)

	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	// Auth
	r.HandleFunc("/api/auth/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/me", h.Me).Methods(http.MethodGet)

	// Requests
	r.HandleFunc("/api/requests", h.CreateRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/mine", h.ListMyRequests).Methods(http.MethodGet)
	r.HandleFunc("/api/requests/{id:[0-9]+}", h.GetRequest).Methods(http.MethodGet)
	r.HandleFunc("/api/requests/{id:[0-9]+}/detail", h.GetRequestDetail).Methods(http.MethodGet)

	// Approvals
	r.HandleFunc("/api/approvals/pending", h.ListPending).Methods(http.MethodGet)
	r.HandleFunc("/api/approvals/{id:[0-9]+}/decide", h.Decide).Methods(http.MethodPost)

	// Workflows
	r.HandleFunc("/api/workflows", adminOnly(h.ListWorkflows)).Methods(http.MethodGet)
	r.HandleFunc("/api/workflows", adminOnly(h.CreateWorkflow)).Methods(http.MethodPost)
	r.HandleFunc("/api/workflows/{id:[0-9]+}", adminOnly(h.GetWorkflow)).Methods(http.MethodGet)
	r.HandleFunc("/api/workflows/{id:[0-9]+}", adminOnly(h.UpdateWorkflow)).Methods(http.MethodPatch)
	r.HandleFunc("/api/workflows/{id:[0-9]+}/nodes", adminOnly(h.AddWorkflowNode)).Methods(http.MethodPost)
	r.HandleFunc("/api/workflows/{id:[0-9]+}/nodes/{nodeId:[0-9]+}", adminOnly(h.RemoveWorkflowNode)).Methods(http.MethodDelete)

	// Process types
	r.HandleFunc("/api/process-types", h.ListProcessTypes).Methods(http.MethodGet)
	r.HandleFunc("/api/process-types", adminOnly(h.CreateProcessType)).Methods(http.MethodPost)
	r.HandleFunc("/api/process-types/all", adminOnly(h.ListAllProcessTypes)).Methods(http.MethodGet)
	r.HandleFunc("/api/process-types/{code}", adminOnly(h.UpdateProcessType)).Methods(http.MethodPatch)

	// Directory
	r.HandleFunc("/api/positions", adminOnly(h.ListPositions)).Methods(http.MethodGet)
	r.HandleFunc("/api/positions", adminOnly(h.CreatePosition)).Methods(http.MethodPost)
	r.HandleFunc("/api/depts", adminOnly(h.ListDepartments)).Methods(http.MethodGet)
	r.HandleFunc("/api/depts", adminOnly(h.CreateDepartment)).Methods(http.MethodPost)
	r.HandleFunc("/api/users", adminOnly(h.ListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/api/users", adminOnly(h.CreateUser)).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{id:[0-9]+}", adminOnly(h.UpdateUser)).Methods(http.MethodPatch)
	r.HandleFunc("/api/users/{id:[0-9]+}/password", adminOnly(h.SetPassword)).Methods(http.MethodPut)

	// Announcements
	r.HandleFunc("/api/announcements", h.ListAnnouncements).Methods(http.MethodGet)
	r.HandleFunc("/api/announcements", adminOnly(h.CreateAnnouncement)).Methods(http.MethodPost)

	// CORS sits outside the router so preflight reaches routes without an
	// OPTIONS method.
	return middleware.CORS(opts.CORSOrigins)(r)
}

func adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequireAdmin(r.Context()); err != nil {
			WriteError(w, r, err)
			return
		}
		next(w, r)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.InvalidInput(name, "must be a positive integer")
	}
	return id, nil
}

// ── Health ────────────────────────────────────────────────────────────────────

// Health reports liveness and store reachability.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ── Auth ──────────────────────────────────────────────────────────────────────

// Login exchanges credentials for a bearer token.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	token, _, err := h.svc.Directory.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

// Me returns the caller's current user record.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	u, err := h.svc.Directory.GetUser(r.Context(), p.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u))
}

// ── Requests ──────────────────────────────────────────────────────────────────

// CreateRequest submits a request for the caller.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body createRequestBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}

	req, _, err := h.svc.Requests.Create(r.Context(), p.UserID, service.CreateRequestInput{
		Type:    body.Type,
		Title:   body.Title,
		Content: body.Content,
		Amount:  body.Amount,
		Data:    body.Data,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRequestView(req))
}

// ListMyRequests lists the caller's requests, newest first.
func (h *HTTPHandler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	reqs, err := h.svc.Requests.ListMine(r.Context(), p.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRequestViews(reqs))
}

// GetRequest returns one request summary.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	req, _, err := h.svc.Requests.Get(r.Context(), p, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRequestView(req))
}

// GetRequestDetail returns a request with its nodes and history.
func (h *HTTPHandler) GetRequestDetail(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	d, err := h.svc.Requests.DetailFor(r.Context(), p, id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDetailView(d))
}

// ── Approvals ─────────────────────────────────────────────────────────────────

// ListPending lists the requests awaiting the caller's decision.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	reqs, err := h.svc.Requests.ListPending(r.Context(), p)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	pendingNodes, err := h.svc.Requests.PendingNodeIDs(r.Context(), reqs)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPendingRequestViews(reqs, pendingNodes))
}

// Decide approves or rejects the pending node of a request.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body decideBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	decision, err := repository.ParseDecision(body.Decision)
	if err != nil {
		WriteError(w, r, errors.InvalidInput("decision", err.Error()))
		return
	}

	req, _, err := h.svc.Decisions.Decide(r.Context(), id, service.DeciderFrom(p), service.DecideInput{
		Decision: decision,
		Comment:  body.Comment,
		NodeID:   body.NodeID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRequestView(req))
}

// ── Workflows ─────────────────────────────────────────────────────────────────

// ListWorkflows lists workflows, optionally for one process type.
func (h *HTTPHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.svc.Workflows.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("process_type")))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]workflowView, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, newWorkflowView(wf))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateWorkflow creates a workflow; active by default.
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body createWorkflowBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	active := true
	if body.IsActive != nil {
		active = *body.IsActive
	}
	wf, err := h.svc.Workflows.Create(r.Context(), body.Name, body.RequestType, active)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWorkflowView(wf))
}

// GetWorkflow returns a workflow with its nodes.
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	wf, err := h.svc.Workflows.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWorkflowView(wf))
}

// UpdateWorkflow renames and/or (de)activates a workflow.
func (h *HTTPHandler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body updateWorkflowBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	wf, err := h.svc.Workflows.Update(r.Context(), id, body.Name, body.IsActive)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newWorkflowView(wf))
}

// AddWorkflowNode appends a node template to a workflow.
func (h *HTTPHandler) AddWorkflowNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body addNodeBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	node, err := h.svc.Workflows.AddNode(r.Context(), id, service.AddNodeInput{
		StepOrder:  body.StepOrder,
		PositionID: repository.PositionID(body.PositionID),
		NodeName:   body.Name,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWorkflowNodeView(node))
}

// RemoveWorkflowNode deletes a node template.
func (h *HTTPHandler) RemoveWorkflowNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	nodeID, err := pathID(r, "nodeId")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.svc.Workflows.RemoveNode(r.Context(), id, nodeID); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Process types ─────────────────────────────────────────────────────────────

// ListProcessTypes lists the active process types.
func (h *HTTPHandler) ListProcessTypes(w http.ResponseWriter, r *http.Request) {
	pts, err := h.svc.Registry.List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(pts))
}

// ListAllProcessTypes lists every process type, including inactive ones.
func (h *HTTPHandler) ListAllProcessTypes(w http.ResponseWriter, r *http.Request) {
	pts, err := h.svc.Registry.ListAll(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(pts))
}

// CreateProcessType registers a new process type.
func (h *HTTPHandler) CreateProcessType(w http.ResponseWriter, r *http.Request) {
	var body processTypeBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	active := true
	if body.IsActive != nil {
		active = *body.IsActive
	}
	pt, err := h.svc.Registry.Create(r.Context(), service.ProcessTypeInput{
		Code:           body.Code,
		Name:           body.Name,
		Description:    body.Description,
		RequiresAmount: body.RequiresAmount,
		IsActive:       active,
		Fields:         body.Fields,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pt)
}

// UpdateProcessType patches a process type by code.
func (h *HTTPHandler) UpdateProcessType(w http.ResponseWriter, r *http.Request) {
	var body processTypePatchBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	pt, err := h.svc.Registry.Update(r.Context(), mux.Vars(r)["code"], service.ProcessTypePatch{
		Name:           body.Name,
		Description:    body.Description,
		RequiresAmount: body.RequiresAmount,
		IsActive:       body.IsActive,
		Fields:         body.Fields,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

// ── Directory ─────────────────────────────────────────────────────────────────

// ListPositions lists positions.
func (h *HTTPHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.svc.Directory.ListPositions(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView{ID: int64(p.ID), Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreatePosition creates a position.
func (h *HTTPHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var body positionBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := h.svc.Directory.CreatePosition(r.Context(), body.Name, body.Description)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, positionView{ID: int64(p.ID), Name: p.Name, Description: p.Description})
}

// ListDepartments lists departments.
func (h *HTTPHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := h.svc.Directory.ListDepartments(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]deptView, 0, len(depts))
	for _, d := range depts {
		out = append(out, deptView{ID: d.ID, Name: d.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateDepartment creates a department.
func (h *HTTPHandler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var body deptBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	d, err := h.svc.Directory.CreateDepartment(r.Context(), body.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, deptView{ID: d.ID, Name: d.Name})
}

// ListUsers lists users.
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Directory.ListUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, newUserView(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateUser creates an active user.
func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body createUserBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	u, err := h.svc.Directory.CreateUser(r.Context(), service.CreateUserInput{
		Username:     body.Username,
		Password:     body.Password,
		FullName:     body.FullName,
		Role:         repository.RoleKind(body.Role),
		DepartmentID: body.DepartmentID,
		PositionID:   positionIDPtr(body.PositionID),
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserView(u))
}

// UpdateUser patches a user. An explicit null department_id or position_id
// unassigns it.
func (h *HTTPHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body updateUserBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}

	patch := service.UserPatch{
		FullName: body.FullName,
		IsActive: body.IsActive,
	}
	if body.Role != nil {
		role := repository.RoleKind(*body.Role)
		patch.Role = &role
	}
	if body.DepartmentID.Set {
		patch.DepartmentID = body.DepartmentID.Value
		patch.ClearDepartment = body.DepartmentID.Value == nil
	}
	if body.PositionID.Set {
		patch.PositionID = positionIDPtr(body.PositionID.Value)
		patch.ClearPosition = body.PositionID.Value == nil
	}

	u, err := h.svc.Directory.UpdateUser(r.Context(), id, patch)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(u))
}

// SetPassword replaces a user's password.
func (h *HTTPHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body passwordBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.svc.Directory.SetPassword(r.Context(), id, body.Password); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Announcements ─────────────────────────────────────────────────────────────

// ListAnnouncements lists announcements, newest first.
func (h *HTTPHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Announcements.List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]announcementView, 0, len(items))
	for _, a := range items {
		out = append(out, announcementView{ID: a.ID, Title: a.Title, Content: a.Content, CreatedByUserID: a.CreatedBy, CreatedAt: a.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateAnnouncement publishes an announcement.
func (h *HTTPHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body announcementBody
	if err := h.decode(r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	a, err := h.svc.Announcements.Create(r.Context(), p.UserID, body.Title, body.Content)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, announcementView{ID: a.ID, Title: a.Title, Content: a.Content, CreatedByUserID: a.CreatedBy, CreatedAt: a.CreatedAt})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
