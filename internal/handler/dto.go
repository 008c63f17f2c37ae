package handler

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/service"
)

const maxBodyBytes = 1 << 20

// ── Request bodies ────────────────────────────────────────────────────────────

type loginBody struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createRequestBody struct {
	Type    string         `json:"type" validate:"required"`
	Title   string         `json:"title" validate:"required,max=200"`
	Content string         `json:"content"`
	Amount  *float64       `json:"amount"`
	Data    map[string]any `json:"data"`
}

type decideBody struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Comment  string `json:"comment"`
	NodeID   *int64 `json:"node_id" validate:"omitempty,gt=0"`
}

type createWorkflowBody struct {
	Name        string `json:"name" validate:"required,max=200"`
	RequestType string `json:"request_type" validate:"required"`
	IsActive    *bool  `json:"is_active"`
}

type updateWorkflowBody struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=200"`
	IsActive *bool   `json:"is_active"`
}

type addNodeBody struct {
	StepOrder  int    `json:"step_order" validate:"min=1,max=100"`
	PositionID int64  `json:"position_id" validate:"required,gt=0"`
	Name       string `json:"name" validate:"max=200"`
}

type processTypeBody struct {
	Code           string                   `json:"code" validate:"required"`
	Name           string                   `json:"name" validate:"required,max=200"`
	Description    string                   `json:"description"`
	RequiresAmount bool                     `json:"requires_amount"`
	IsActive       *bool                    `json:"is_active"`
	Fields         []repository.FieldSchema `json:"fields"`
}

type processTypePatchBody struct {
	Name           *string                   `json:"name" validate:"omitempty,min=1,max=200"`
	Description    *string                   `json:"description"`
	RequiresAmount *bool                     `json:"requires_amount"`
	IsActive       *bool                     `json:"is_active"`
	Fields         *[]repository.FieldSchema `json:"fields"`
}

type positionBody struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

type deptBody struct {
	Name string `json:"name" validate:"required,max=100"`
}

type createUserBody struct {
	Username     string `json:"username" validate:"required,min=3,max=50"`
	Password     string `json:"password" validate:"required,min=6,max=200"`
	FullName     string `json:"full_name"`
	Role         string `json:"role" validate:"omitempty,oneof=employee approver admin"`
	DepartmentID *int64 `json:"department_id"`
	PositionID   *int64 `json:"position_id"`
}

// nullableID distinguishes an absent key from an explicit null.
type nullableID struct {
	Set   bool
	Value *int64
}

func (n *nullableID) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(b, []byte("null")) {
		n.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type updateUserBody struct {
	FullName     *string    `json:"full_name"`
	Role         *string    `json:"role" validate:"omitempty,oneof=employee approver admin"`
	IsActive     *bool      `json:"is_active"`
	DepartmentID nullableID `json:"department_id"`
	PositionID   nullableID `json:"position_id"`
}

type passwordBody struct {
	Password string `json:"password" validate:"required,min=6,max=200"`
}

type announcementBody struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *HTTPHandler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.InvalidInput("body", "request body is required")
		}
		return errors.InvalidInput("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return validateBody(h.validate, dst)
}

// validateBody reports the first failing field as a validation error.
func validateBody(v *validator.Validate, dst any) error {
	err := v.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		return errors.InvalidInput(verrs[0].Field(), describe(verrs[0]))
	}
	return errors.InvalidInput("body", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// ── Response views ────────────────────────────────────────────────────────────

type requestView struct {
	ID              int64          `json:"id"`
	Type            string         `json:"type"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	Amount          *float64       `json:"amount"`
	Data            map[string]any `json:"data"`
	Status          string         `json:"status"`
	WorkflowID      *int64         `json:"workflow_id"`
	WorkflowName    string         `json:"workflow_name"`
	CreatedByUserID int64          `json:"created_by_user_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newRequestView(r *repository.Request) requestView {
	data := r.FormData
	if data == nil {
		data = map[string]any{}
	}
	return requestView{
		ID:              r.ID,
		Type:            r.TypeCode,
		Title:           r.Title,
		Content:         r.Content,
		Amount:          r.Amount,
		Data:            data,
		Status:          string(r.Status),
		WorkflowID:      r.WorkflowID,
		WorkflowName:    r.WorkflowName,
		CreatedByUserID: r.CreatorID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func newRequestViews(reqs []*repository.Request) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, newRequestView(r))
	}
	return out
}

// pendingRequestView is a pending-list row; PendingNodeID is the node a
// decision should name.
type pendingRequestView struct {
	requestView
	PendingNodeID *int64 `json:"pending_node_id,omitempty"`
}

func newPendingRequestViews(reqs []*repository.Request, pendingNodes map[int64]int64) []pendingRequestView {
	out := make([]pendingRequestView, 0, len(reqs))
	for _, r := range reqs {
		v := pendingRequestView{requestView: newRequestView(r)}
		if id, ok := pendingNodes[r.ID]; ok {
			v.PendingNodeID = &id
		}
		out = append(out, v)
	}
	return out
}

type nodeView struct {
	NodeID            int64      `json:"node_id"`
	StepOrder         int        `json:"step_order"`
	NodeName          string     `json:"node_name"`
	PositionID        int64      `json:"position_id"`
	PositionName      string     `json:"position_name"`
	Status            string     `json:"status"`
	DecidedByUserID   *int64     `json:"decided_by_user_id"`
	DecidedByUsername string     `json:"decided_by_username,omitempty"`
	DecidedAt         *time.Time `json:"decided_at"`
}

type historyView struct {
	ID               int64     `json:"id"`
	NodeInstanceID   int64     `json:"node_instance_id"`
	StepOrder        *int      `json:"step_order"`
	NodeName         string    `json:"node_name"`
	PositionID       *int64    `json:"position_id"`
	PositionName     string    `json:"position_name"`
	ApproverUserID   int64     `json:"approver_user_id"`
	ApproverUsername string    `json:"approver_username"`
	Decision         string    `json:"decision"`
	Comment          string    `json:"comment"`
	DecidedAt        time.Time `json:"decided_at"`
}

type detailView struct {
	Request       requestView             `json:"request"`
	WorkflowName  string                  `json:"workflow_name"`
	CreatorName   string                  `json:"creator_name"`
	CurrentNodeID *int64                  `json:"current_node_id"`
	ProcessType   *repository.ProcessType `json:"process_type"`
	Nodes         []nodeView              `json:"nodes"`
	History       []historyView           `json:"history"`
}

func newDetailView(d *service.RequestDetail) detailView {
	v := detailView{
		Request:      newRequestView(d.Request),
		WorkflowName: d.WorkflowName,
		CreatorName:  d.CreatorName,
		ProcessType:  d.ProcessType,
		Nodes:        make([]nodeView, 0, len(d.Nodes)),
		History:      make([]historyView, 0, len(d.History)),
	}

	byID := make(map[int64]*service.NodeView, len(d.Nodes))
	for _, n := range d.Nodes {
		byID[n.ID] = n
		if n.Status == repository.NodePending {
			id := n.ID
			v.CurrentNodeID = &id
		}
		v.Nodes = append(v.Nodes, nodeView{
			NodeID:            n.ID,
			StepOrder:         n.StepOrder,
			NodeName:          n.NodeName,
			PositionID:        int64(n.PositionID),
			PositionName:      n.PositionName,
			Status:            string(n.Status),
			DecidedByUserID:   n.DecidedByUserID,
			DecidedByUsername: n.DecidedByName,
			DecidedAt:         n.DecidedAt,
		})
	}

	for _, e := range d.History {
		hv := historyView{
			ID:               e.ID,
			NodeInstanceID:   e.NodeInstanceID,
			NodeName:         e.NodeName,
			ApproverUserID:   e.ApproverUserID,
			ApproverUsername: e.ApproverName,
			Decision:         string(e.Decision),
			Comment:          e.Comment,
			DecidedAt:        e.DecidedAt,
		}
		if n, ok := byID[e.NodeInstanceID]; ok {
			step := n.StepOrder
			pos := int64(n.PositionID)
			hv.StepOrder = &step
			hv.PositionID = &pos
			hv.PositionName = n.PositionName
		}
		v.History = append(v.History, hv)
	}
	return v
}

type workflowNodeView struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	StepOrder  int    `json:"step_order"`
	PositionID int64  `json:"position_id"`
	Name       string `json:"name"`
}

type workflowView struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	RequestType string             `json:"request_type"`
	IsActive    bool               `json:"is_active"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Nodes       []workflowNodeView `json:"nodes"`
}

func newWorkflowNodeView(n *repository.WorkflowNode) workflowNodeView {
	return workflowNodeView{
		ID:         n.ID,
		WorkflowID: n.WorkflowID,
		StepOrder:  n.StepOrder,
		PositionID: int64(n.PositionID),
		Name:       n.NodeName,
	}
}

func newWorkflowView(wf *repository.Workflow) workflowView {
	v := workflowView{
		ID:          wf.ID,
		Name:        wf.Name,
		RequestType: wf.ProcessTypeCode,
		IsActive:    wf.IsActive,
		CreatedAt:   wf.CreatedAt,
		UpdatedAt:   wf.UpdatedAt,
		Nodes:       make([]workflowNodeView, 0, len(wf.Nodes)),
	}
	for _, n := range wf.Nodes {
		v.Nodes = append(v.Nodes, newWorkflowNodeView(n))
	}
	return v
}

type userView struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
	DepartmentID *int64 `json:"department_id"`
	PositionID   *int64 `json:"position_id"`
}

func newUserView(u *repository.User) userView {
	v := userView{
		ID:           u.ID,
		Username:     u.Username,
		FullName:     u.FullName,
		Role:         string(u.Role),
		IsActive:     u.IsActive,
		DepartmentID: u.DepartmentID,
	}
	if u.PositionID != nil {
		pos := int64(*u.PositionID)
		v.PositionID = &pos
	}
	return v
}

type positionView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type deptView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type announcementView struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	CreatedByUserID *int64    `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func positionIDPtr(id *int64) *repository.PositionID {
	if id == nil {
		return nil
	}
	p := repository.PositionID(*id)
	return &p
}
