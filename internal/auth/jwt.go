package auth

import (
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// Claims represents JWT claims. Subject carries the username.
type Claims struct {
	UserID     int64  `json:"uid"`
	Role       string `json:"role"`
	PositionID *int64 `json:"pos,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 access tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the user.
func (m *TokenManager) Issue(u *repository.User) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID: u.ID,
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ID:        strconv.FormatInt(u.ID, 10) + "-" + strconv.FormatInt(now.UnixNano(), 36),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	if u.PositionID != nil {
		pos := int64(*u.PositionID)
		claims.PositionID = &pos
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Parse validates a token and returns its claims.
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, stderrors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Unauthenticated("invalid or expired token")
	}
	if !token.Valid || claims.UserID <= 0 {
		return nil, errors.Unauthenticated("invalid token")
	}
	return claims, nil
}

// ExtractBearer extracts the token from an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", errors.Unauthenticated("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1], nil
	}
	return "", errors.Unauthenticated("invalid authorization header format")
}
