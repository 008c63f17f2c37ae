package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

func TestLogin(t *testing.T) {
	f := newFixture(t)
	u, err := f.directory.CreateUser(f.ctx, CreateUserInput{
		Username:   "carol",
		Password:   "secret1",
		FullName:   "Carol",
		PositionID: &f.hr,
	})
	require.NoError(t, err)
	assert.Equal(t, repository.RoleEmployee, u.Role)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	token, got, err := f.directory.Login(f.ctx, " carol ", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, u.ID, got.ID)

	p, err := f.directory.Authenticate(f.ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	require.NotNil(t, p.PositionID)
	assert.Equal(t, f.hr, *p.PositionID)

	_, _, err = f.directory.Login(f.ctx, "carol", "wrong-password")
	assert.Equal(t, errors.ErrCodeUnauthenticated, errors.CodeOf(err))
	_, _, err = f.directory.Login(f.ctx, "nobody", "secret1")
	assert.Equal(t, errors.ErrCodeUnauthenticated, errors.CodeOf(err))
	assert.Equal(t, "incorrect username or password", errors.Message(err))
}

func TestAuthenticateReflectsCurrentUser(t *testing.T) {
	f := newFixture(t)
	u, err := f.directory.CreateUser(f.ctx, CreateUserInput{Username: "dave", Password: "secret1", PositionID: &f.staff})
	require.NoError(t, err)
	token, _, err := f.directory.Login(f.ctx, "dave", "secret1")
	require.NoError(t, err)

	approver := repository.RoleApprover
	_, err = f.directory.UpdateUser(f.ctx, u.ID, UserPatch{Role: &approver, PositionID: &f.lead})
	require.NoError(t, err)

	p, err := f.directory.Authenticate(f.ctx, token)
	require.NoError(t, err)
	assert.Equal(t, repository.RoleApprover, p.Role)
	require.NotNil(t, p.PositionID)
	assert.Equal(t, f.lead, *p.PositionID)

	_, err = f.directory.UpdateUser(f.ctx, u.ID, UserPatch{ClearPosition: true, PositionID: &f.hr})
	require.NoError(t, err)
	p, err = f.directory.Authenticate(f.ctx, token)
	require.NoError(t, err)
	assert.Nil(t, p.PositionID)

	inactive := false
	_, err = f.directory.UpdateUser(f.ctx, u.ID, UserPatch{IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.directory.Authenticate(f.ctx, token)
	assert.Equal(t, errors.ErrCodeUnauthenticated, errors.CodeOf(err))
	_, _, err = f.directory.Login(f.ctx, "dave", "secret1")
	assert.Equal(t, errors.ErrCodeUnauthenticated, errors.CodeOf(err))
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	_, err := f.directory.Authenticate(f.ctx, "not-a-token")
	assert.Equal(t, errors.ErrCodeUnauthenticated, errors.CodeOf(err))
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	missingDept := int64(404)
	missingPos := repository.PositionID(404)

	tests := []struct {
		name string
		in   CreateUserInput
	}{
		{"short username", CreateUserInput{Username: "ab", Password: "secret1"}},
		{"short password", CreateUserInput{Username: "erin", Password: "12345"}},
		{"unknown role", CreateUserInput{Username: "erin", Password: "secret1", Role: "owner"}},
		{"unknown department", CreateUserInput{Username: "erin", Password: "secret1", DepartmentID: &missingDept}},
		{"unknown position", CreateUserInput{Username: "erin", Password: "secret1", PositionID: &missingPos}},
		{"taken username", CreateUserInput{Username: "alice", Password: "secret1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.directory.CreateUser(f.ctx, tt.in)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestSetPassword(t *testing.T) {
	f := newFixture(t)
	u, err := f.directory.CreateUser(f.ctx, CreateUserInput{Username: "frank", Password: "secret1"})
	require.NoError(t, err)

	err = f.directory.SetPassword(f.ctx, u.ID, "short")
	assert.True(t, errors.IsValidation(err))

	require.NoError(t, f.directory.SetPassword(f.ctx, u.ID, "changed1"))
	_, _, err = f.directory.Login(f.ctx, "frank", "secret1")
	assert.Error(t, err)
	_, _, err = f.directory.Login(f.ctx, "frank", "changed1")
	assert.NoError(t, err)

	err = f.directory.SetPassword(f.ctx, 9999, "changed1")
	assert.True(t, errors.IsNotFound(err))
}

func TestPositionsAndDepartments(t *testing.T) {
	f := newFixture(t)

	p, err := f.directory.CreatePosition(f.ctx, " Auditor ", "audits")
	require.NoError(t, err)
	assert.Equal(t, "Auditor", p.Name)
	_, err = f.directory.CreatePosition(f.ctx, "Lead", "")
	assert.True(t, errors.IsValidation(err))
	_, err = f.directory.CreatePosition(f.ctx, "", "")
	assert.True(t, errors.IsValidation(err))

	positions, err := f.directory.ListPositions(f.ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 4)

	d, err := f.directory.CreateDepartment(f.ctx, "Finance")
	require.NoError(t, err)
	_, err = f.directory.CreateDepartment(f.ctx, "Finance")
	assert.True(t, errors.IsValidation(err))

	u, err := f.directory.CreateUser(f.ctx, CreateUserInput{Username: "gina", Password: "secret1", DepartmentID: &d.ID})
	require.NoError(t, err)
	require.NotNil(t, u.DepartmentID)
	assert.Equal(t, d.ID, *u.DepartmentID)

	u, err = f.directory.UpdateUser(f.ctx, u.ID, UserPatch{ClearDepartment: true})
	require.NoError(t, err)
	assert.Nil(t, u.DepartmentID)
}
