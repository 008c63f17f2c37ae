package repository

import (
	"fmt"
	"time"
)

// ── Identity ──────────────────────────────────────────────────────────────────

// RoleKind is the closed set of user roles.
type RoleKind string

const (
	RoleEmployee RoleKind = "employee"
	RoleApprover RoleKind = "approver"
	RoleAdmin    RoleKind = "admin"
)

// ParseRole converts a wire value into a RoleKind.
func ParseRole(s string) (RoleKind, error) {
	switch r := RoleKind(s); r {
	case RoleEmployee, RoleApprover, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// PositionID identifies an approval position.
type PositionID int64

// Department is a flat organizational unit.
type Department struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Position is an approval role that nodes are bound to.
type Position struct {
	ID          PositionID
	Name        string
	Description string
	CreatedAt   time.Time
}

// User is a person who submits or decides requests.
type User struct {
	ID           int64
	Username     string
	FullName     string
	PasswordHash string
	Role         RoleKind
	IsActive     bool
	DepartmentID *int64
	PositionID   *PositionID
	CreatedAt    time.Time
}

// ── Process types ─────────────────────────────────────────────────────────────

// FieldKind is the closed set of form field shapes.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextArea FieldKind = "textarea"
	FieldNumber   FieldKind = "number"
	FieldDate     FieldKind = "date"
	FieldDateTime FieldKind = "datetime"
	FieldSelect   FieldKind = "select"
)

// FieldKinds lists every supported kind in display order.
var FieldKinds = []FieldKind{FieldText, FieldTextArea, FieldNumber, FieldDate, FieldDateTime, FieldSelect}

// FieldSchema is one entry in a process type's fields JSONB array.
type FieldSchema struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Kind     FieldKind `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
}

// ProcessType is a request kind and its form schema.
type ProcessType struct {
	ID             int64         `json:"id"`
	Code           string        `json:"code"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	RequiresAmount bool          `json:"requires_amount"`
	IsActive       bool          `json:"is_active"`
	Fields         []FieldSchema `json:"fields"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ── Workflow templates ────────────────────────────────────────────────────────

// Workflow is a named approval template for one process type.
type Workflow struct {
	ID              int64
	Name            string
	ProcessTypeCode string
	IsActive        bool
	Nodes           []*WorkflowNode // ordered by StepOrder
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkflowNode is one ordered step of a workflow template.
type WorkflowNode struct {
	ID         int64
	WorkflowID int64
	StepOrder  int
	PositionID PositionID
	NodeName   string
	CreatedAt  time.Time
}

// ── Requests ──────────────────────────────────────────────────────────────────

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// NodeStatus is the lifecycle state of a request node instance.
type NodeStatus string

const (
	NodeNotStarted NodeStatus = "not_started"
	NodePending    NodeStatus = "pending"
	NodeApproved   NodeStatus = "approved"
	NodeRejected   NodeStatus = "rejected"
)

// Decision is the outcome applied to a pending node.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ParseDecision converts a wire value into a Decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApproved, DecisionRejected:
		return d, nil
	default:
		return "", fmt.Errorf("decision must be %q or %q", DecisionApproved, DecisionRejected)
	}
}

// Request is one submitted instance of a process type.
type Request struct {
	ID           int64
	TypeCode     string
	Title        string
	Content      string
	Amount       *float64
	FormData     map[string]any
	Status       RequestStatus
	CreatorID    int64
	WorkflowID   *int64
	WorkflowName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RequestNode is a per-request snapshot of one workflow node.
type RequestNode struct {
	ID              int64
	RequestID       int64
	TemplateNodeID  *int64
	StepOrder       int
	PositionID      PositionID
	NodeName        string
	Status          NodeStatus
	DecidedByUserID *int64
	DecidedAt       *time.Time
}

// HistoryEntry is one immutable decision record.
type HistoryEntry struct {
	ID             int64
	RequestID      int64
	NodeInstanceID int64
	ApproverUserID int64
	Decision       Decision
	Comment        string
	DecidedAt      time.Time
}

// DecisionResult carries the rows a decision changed.
type DecisionResult struct {
	Decided   *RequestNode
	Activated *RequestNode // next node moved to pending; nil when the request terminated
	Entry     *HistoryEntry
}

// DecideFunc inspects a locked request and its nodes, mutates them in place and
// reports what changed. Returning an error aborts the decision without writes.
type DecideFunc func(req *Request, nodes []*RequestNode) (*DecisionResult, error)

// Announcement is a notice shown to all users.
type Announcement struct {
	ID        int64
	Title     string
	Content   string
	CreatedBy *int64
	CreatedAt time.Time
}
