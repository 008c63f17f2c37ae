package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-oa-approvals/internal/auth"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// CreateUserInput is the payload for creating a user.
type CreateUserInput struct {
	Username     string
	Password     string
	FullName     string
	Role         repository.RoleKind
	DepartmentID *int64
	PositionID   *repository.PositionID
}

// UserPatch lists the user fields an update may change. ClearDepartment and
// ClearPosition unassign the user; they win over the matching ID field.
type UserPatch struct {
	FullName        *string
	Role            *repository.RoleKind
	IsActive        *bool
	DepartmentID    *int64
	ClearDepartment bool
	PositionID      *repository.PositionID
	ClearPosition   bool
}

// DirectoryService owns login, token resolution, users, positions and
// departments. The engine only consumes it to resolve a caller's role and
// position.
type DirectoryService struct {
	users       UserStore
	positions   PositionStore
	departments DepartmentStore
	tokens      *auth.TokenManager
	log         *logger.Logger
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(stores Stores, tokens *auth.TokenManager, log *logger.Logger) *DirectoryService {
	return &DirectoryService{
		users:       stores.Users,
		positions:   stores.Positions,
		departments: stores.Departments,
		tokens:      tokens,
		log:         log,
	}
}

// ── Authentication ────────────────────────────────────────────────────────────

// Login verifies credentials and issues an access token.
func (s *DirectoryService) Login(ctx context.Context, username, password string) (string, *repository.User, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.IsNotFound(err) {
			return "", nil, errors.Unauthenticated("incorrect username or password")
		}
		return "", nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return "", nil, errors.Unauthenticated("incorrect username or password")
	}
	if !u.IsActive {
		return "", nil, errors.Unauthenticated("user is inactive")
	}

	token, err := s.tokens.Issue(u)
	if err != nil {
		return "", nil, err
	}

	s.log.Info().Int64("user_id", u.ID).Str("username", u.Username).Msg("User logged in")
	return token, u, nil
}

// Authenticate resolves a bearer token to the current state of its user, so
// role and position changes apply to tokens issued before them.
func (s *DirectoryService) Authenticate(ctx context.Context, token string) (*auth.Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Unauthenticated("user no longer exists")
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, errors.Unauthenticated("user is inactive")
	}
	return auth.PrincipalFromUser(u), nil
}

// ── Users ─────────────────────────────────────────────────────────────────────

func (s *DirectoryService) GetUser(ctx context.Context, id int64) (*repository.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *DirectoryService) ListUsers(ctx context.Context) ([]*repository.User, error) {
	return s.users.List(ctx)
}

// CreateUser validates and stores a new active user.
func (s *DirectoryService) CreateUser(ctx context.Context, in CreateUserInput) (*repository.User, error) {
	username := strings.TrimSpace(in.Username)
	if n := len([]rune(username)); n < 3 || n > 50 {
		return nil, errors.InvalidInput("username", "username must be 3-50 characters")
	}
	role := in.Role
	if role == "" {
		role = repository.RoleEmployee
	}
	if _, err := repository.ParseRole(string(role)); err != nil {
		return nil, errors.InvalidInput("role", err.Error())
	}
	if err := s.checkAssignment(ctx, in.DepartmentID, in.PositionID); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &repository.User{
		Username:     username,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		DepartmentID: in.DepartmentID,
		PositionID:   in.PositionID,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", u.ID).Str("role", string(u.Role)).Msg("User created")
	return u, nil
}

// UpdateUser applies patch to a user.
func (s *DirectoryService) UpdateUser(ctx context.Context, id int64, patch UserPatch) (*repository.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.FullName != nil {
		u.FullName = strings.TrimSpace(*patch.FullName)
	}
	if patch.Role != nil {
		if _, err := repository.ParseRole(string(*patch.Role)); err != nil {
			return nil, errors.InvalidInput("role", err.Error())
		}
		u.Role = *patch.Role
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	switch {
	case patch.ClearDepartment:
		u.DepartmentID = nil
	case patch.DepartmentID != nil:
		u.DepartmentID = patch.DepartmentID
	}
	switch {
	case patch.ClearPosition:
		u.PositionID = nil
	case patch.PositionID != nil:
		u.PositionID = patch.PositionID
	}
	if err := s.checkAssignment(ctx, u.DepartmentID, u.PositionID); err != nil {
		return nil, err
	}

	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info().Int64("user_id", u.ID).Msg("User updated")
	return u, nil
}

// SetPassword replaces a user's password.
func (s *DirectoryService) SetPassword(ctx context.Context, id int64, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, id, hash); err != nil {
		return err
	}

	s.log.Info().Int64("user_id", id).Msg("User password changed")
	return nil
}

func (s *DirectoryService) checkAssignment(ctx context.Context, departmentID *int64, positionID *repository.PositionID) error {
	if departmentID != nil {
		if _, err := s.departments.GetByID(ctx, *departmentID); err != nil {
			if errors.IsNotFound(err) {
				return errors.InvalidInput("department_id", fmt.Sprintf("department %d does not exist", *departmentID))
			}
			return err
		}
	}
	if positionID != nil {
		if _, err := s.positions.GetByID(ctx, *positionID); err != nil {
			if errors.IsNotFound(err) {
				return errors.InvalidInput("position_id", fmt.Sprintf("position %d does not exist", *positionID))
			}
			return err
		}
	}
	return nil
}

// ── Positions & departments ───────────────────────────────────────────────────

func (s *DirectoryService) ListPositions(ctx context.Context) ([]*repository.Position, error) {
	return s.positions.List(ctx)
}

func (s *DirectoryService) CreatePosition(ctx context.Context, name, description string) (*repository.Position, error) {
	name = strings.TrimSpace(name)
	if err := validateName("name", name, 100); err != nil {
		return nil, err
	}
	p := &repository.Position{Name: name, Description: strings.TrimSpace(description)}
	if err := s.positions.Create(ctx, p); err != nil {
		return nil, err
	}

	s.log.Info().Int64("position_id", int64(p.ID)).Str("name", p.Name).Msg("Position created")
	return p, nil
}

func (s *DirectoryService) ListDepartments(ctx context.Context) ([]*repository.Department, error) {
	return s.departments.List(ctx)
}

func (s *DirectoryService) CreateDepartment(ctx context.Context, name string) (*repository.Department, error) {
	name = strings.TrimSpace(name)
	if err := validateName("name", name, 100); err != nil {
		return nil, err
	}
	d := &repository.Department{Name: name}
	if err := s.departments.Create(ctx, d); err != nil {
		return nil, err
	}

	s.log.Info().Int64("department_id", d.ID).Str("name", d.Name).Msg("Department created")
	return d, nil
}
