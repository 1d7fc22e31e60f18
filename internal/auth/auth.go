// Package auth verifies bearer tokens and carries the caller through context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tool-rental-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims; the subject is the user id
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens signed with a shared secret
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses a raw token into the authenticated user
func (v *Verifier) Verify(raw string) (*models.User, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: token verification is not configured", models.ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid token", models.ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", models.ErrUnauthenticated)
	}

	role := claims.Role
	if role == "" {
		role = models.RoleCustomer
	}
	return &models.User{ID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// Issue signs a token for u valid for ttl
func (v *Verifier) Issue(u *models.User, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("token signing is not configured")
	}
	now := time.Now()
	claims := Claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type ctxKey struct{}

// WithUser stores the authenticated user on ctx
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the authenticated user or nil
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxKey{}).(*models.User)
	return u
}

// RequireAdmin returns the caller if it is an admin
func RequireAdmin(ctx context.Context) (*models.User, error) {
	u := UserFromContext(ctx)
	if u == nil {
		return nil, models.ErrUnauthenticated
	}
	if !u.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	return u, nil
}
