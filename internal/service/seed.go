package service

import (
	"context"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// Seed positions.
const (
	PositionEmployee = "员工岗"
	PositionManager  = "主管岗"
	PositionFinance  = "财务岗"
	PositionAdmin    = "管理员岗"
)

// Seeder installs the demo directory, process types and default workflows.
// Every step looks its row up first, so running it again changes nothing.
type Seeder struct {
	stores    Stores
	registry  *ProcessTypeRegistry
	workflows *WorkflowService
	log       *logger.Logger
}

// NewSeeder creates a new Seeder.
func NewSeeder(stores Stores, registry *ProcessTypeRegistry, workflows *WorkflowService, log *logger.Logger) *Seeder {
	return &Seeder{stores: stores, registry: registry, workflows: workflows, log: log}
}

type seedUser struct {
	username, fullName, password string
	role                         repository.RoleKind
	position                     string
}

type seedWorkflow struct {
	name, typeCode string
	nodes          []seedNode
}

type seedNode struct {
	step     int
	position string
	name     string
}

var (
	seedPositions = []struct{ name, description string }{
		{PositionEmployee, "默认员工岗位"},
		{PositionManager, "用于请假/报销等审批"},
		{PositionFinance, "用于报销审批"},
		{PositionAdmin, "系统管理员"},
	}

	seedUsers = []seedUser{
		{"admin", "Administrator", "admin123", repository.RoleAdmin, PositionAdmin},
		{"approver", "Approver", "approver123", repository.RoleApprover, PositionManager},
		{"finance", "Finance", "finance123", repository.RoleEmployee, PositionFinance},
		{"employee", "Employee", "employee123", repository.RoleEmployee, PositionEmployee},
	}

	seedProcessTypes = []ProcessTypeInput{
		{
			Code:     "leave",
			Name:     "请假",
			IsActive: true,
			Fields: []repository.FieldSchema{
				{Key: "leave_type", Label: "请假类型", Kind: repository.FieldSelect, Required: true, Options: []string{"年假", "病假", "事假"}},
				{Key: "start_date", Label: "开始日期", Kind: repository.FieldDate, Required: true},
				{Key: "end_date", Label: "结束日期", Kind: repository.FieldDate, Required: true},
				{Key: "days", Label: "天数", Kind: repository.FieldNumber, Required: true},
			},
		},
		{
			Code:           "reimburse",
			Name:           "报销",
			RequiresAmount: true,
			IsActive:       true,
			Fields: []repository.FieldSchema{
				{Key: "category", Label: "费用类别", Kind: repository.FieldSelect, Required: true, Options: []string{"差旅", "办公", "招待", "其他"}},
				{Key: "occurred_at", Label: "发生时间", Kind: repository.FieldDateTime},
				{Key: "detail", Label: "费用说明", Kind: repository.FieldTextArea},
			},
		},
	}

	seedWorkflows = []seedWorkflow{
		{"默认请假审批流", "leave", []seedNode{{1, PositionManager, "主管审批"}}},
		{"默认报销审批流", "reimburse", []seedNode{{1, PositionManager, "主管审批"}, {2, PositionFinance, "财务审批"}}},
	}
)

// Run applies the seed.
func (s *Seeder) Run(ctx context.Context) error {
	positions := make(map[string]repository.PositionID, len(seedPositions))
	for _, sp := range seedPositions {
		p, err := s.ensurePosition(ctx, sp.name, sp.description)
		if err != nil {
			return err
		}
		positions[sp.name] = p.ID
	}

	for _, su := range seedUsers {
		if err := s.ensureUser(ctx, su, positions[su.position]); err != nil {
			return err
		}
	}

	for _, in := range seedProcessTypes {
		if err := s.ensureProcessType(ctx, in); err != nil {
			return err
		}
	}

	existing, err := s.workflows.List(ctx, "")
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, wf := range existing {
		names[wf.Name] = true
	}
	for _, sw := range seedWorkflows {
		if names[sw.name] {
			continue
		}
		if err := s.createWorkflow(ctx, sw, positions); err != nil {
			return err
		}
	}

	s.log.Info().Msg("Seed data applied")
	return nil
}

func (s *Seeder) ensurePosition(ctx context.Context, name, description string) (*repository.Position, error) {
	p, err := s.stores.Positions.GetByName(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	p = &repository.Position{Name: name, Description: description}
	if err := s.stores.Positions.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Seeder) ensureUser(ctx context.Context, su seedUser, position repository.PositionID) error {
	_, err := s.stores.Users.GetByUsername(ctx, su.username)
	if err == nil {
		return nil
	}
	if !errors.IsNotFound(err) {
		return err
	}

	hash, err := auth.HashPassword(su.password)
	if err != nil {
		return err
	}
	return s.stores.Users.Create(ctx, &repository.User{
		Username:     su.username,
		FullName:     su.fullName,
		PasswordHash: hash,
		Role:         su.role,
		IsActive:     true,
		PositionID:   &position,
	})
}

func (s *Seeder) ensureProcessType(ctx context.Context, in ProcessTypeInput) error {
	_, err := s.registry.Get(ctx, in.Code)
	if err == nil {
		return nil
	}
	if !errors.IsNotFound(err) {
		return err
	}
	_, err = s.registry.Create(ctx, in)
	return err
}

func (s *Seeder) createWorkflow(ctx context.Context, sw seedWorkflow, positions map[string]repository.PositionID) error {
	wf, err := s.workflows.Create(ctx, sw.name, sw.typeCode, true)
	if err != nil {
		return err
	}
	for _, n := range sw.nodes {
		_, err := s.workflows.AddNode(ctx, wf.ID, AddNodeInput{
			StepOrder:  n.step,
			PositionID: positions[n.position],
			NodeName:   n.name,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
