package auth

import (
	"context"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID     int64
	Username   string
	Role       repository.RoleKind
	PositionID *repository.PositionID
}

// PrincipalFromUser builds a Principal from a stored user.
func PrincipalFromUser(u *repository.User) *Principal {
	p := &Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
	if u.PositionID != nil {
		pos := *u.PositionID
		p.PositionID = &pos
	}
	return p
}

// IsAdmin reports whether the caller holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == repository.RoleAdmin
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored in ctx.
func PrincipalFrom(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	if !ok || p == nil {
		return nil, errors.Unauthenticated("not authenticated")
	}
	return p, nil
}

// RequireAdmin returns the caller if it is an admin.
func RequireAdmin(ctx context.Context) (*Principal, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, errors.Forbidden("admin role required")
	}
	return p, nil
}
