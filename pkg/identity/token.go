package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bizpos/tenantguard/pkg/rbac"
)

const defaultIssuer = "tenantguard"

type sessionClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	TenantID    string   `json:"tid,omitempty"`
	Permissions []string `json:"perms,omitempty"`
}

// TokenIssuer signs and verifies HS256 session credentials.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

type IssuerOption func(*TokenIssuer)

func WithIssuerName(name string) IssuerOption {
	return func(t *TokenIssuer) {
		if name != "" {
			t.issuer = name
		}
	}
}

func WithTTL(ttl time.Duration) IssuerOption {
	return func(t *TokenIssuer) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokenIssuer creates an issuer with the given signing key.
func NewTokenIssuer(key []byte, opts ...IssuerOption) *TokenIssuer {
	t := &TokenIssuer{
		key:    key,
		issuer: defaultIssuer,
		ttl:    12 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Issue validates the user and returns a fresh session for it.
func (t *TokenIssuer) Issue(user *User) (*Session, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if len(t.key) == 0 {
		return nil, fmt.Errorf("%w: empty signing key", ErrInvalidToken)
	}

	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.ttl)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: user.Email,
		Role:  string(user.Role),
	}
	if user.TenantID != nil {
		claims.TenantID = user.TenantID.String()
	}
	for _, p := range user.Permissions {
		claims.Permissions = append(claims.Permissions, string(p))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	return &Session{
		Token:     signed,
		User:      user.Clone(),
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Parse verifies the token and rebuilds the session it describes.
// Expired tokens yield ErrSessionExpired, every other failure ErrInvalidToken.
func (t *TokenIssuer) Parse(token string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.key, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	user, err := claims.user()
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	s := &Session{Token: token, User: user}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func (c *sessionClaims) user() (*User, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, err
	}
	role, err := rbac.ParseRole(c.Role)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:          id,
		Email:       c.Email,
		Role:        role,
		Permissions: rbac.ParsePermissions(c.Permissions),
	}
	if c.TenantID != "" {
		tid, err := uuid.Parse(c.TenantID)
		if err != nil {
			return nil, err
		}
		u.TenantID = &tid
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}
