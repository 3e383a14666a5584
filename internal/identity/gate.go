// Package identity resolves callers to accounts and runs the account flows:
// registration, e-mail verification, OAuth sign-in and password login.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/users"
)

// Issuer is written into and required from every session token.
const Issuer = "makhana-api"

// Principal is a verified caller.
type Principal struct {
	UserID  string
	Email   string
	IsAdmin bool
	IsUser  bool
}

// Gate verifies bearer credentials and issues new ones.
type Gate interface {
	Verify(ctx context.Context, token string) (Principal, error)
	RequireAdmin(ctx context.Context, token string) (Principal, error)
	IssueToken(subjectID string, ttl time.Duration) (string, error)
}

// UserLookup resolves a token subject.
type UserLookup interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// JWTGate signs HS256 tokens whose subject is the user id.
type JWTGate struct {
	secret  []byte
	users   UserLookup
	nowFunc func() time.Time
}

func NewJWTGate(secret string, lookup UserLookup) *JWTGate {
	return &JWTGate{secret: []byte(secret), users: lookup, nowFunc: time.Now}
}

var errUnauthenticated = apperr.Unauthenticated("Not authorized, token failed")

// IssueToken signs a token for subjectID valid for ttl.
func (g *JWTGate) IssueToken(subjectID string, ttl time.Duration) (string, error) {
	now := g.nowFunc()
	claims := jwt.RegisteredClaims{
		Subject:   subjectID,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify fails closed: a missing, malformed, expired or foreign token, or one
// whose subject no longer exists, is Unauthenticated.
func (g *JWTGate) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, apperr.Unauthenticated("Not authorized, no token")
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.nowFunc),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Principal{}, errUnauthenticated
	}

	u, err := g.users.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Principal{}, errUnauthenticated
		}
		return Principal{}, fmt.Errorf("resolve token subject: %w", err)
	}
	return Principal{UserID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin, IsUser: u.IsUser}, nil
}

// RequireAdmin verifies the token and rejects non-admins with Forbidden.
func (g *JWTGate) RequireAdmin(ctx context.Context, token string) (Principal, error) {
	p, err := g.Verify(ctx, token)
	if err != nil {
		return Principal{}, err
	}
	if !p.IsAdmin {
		return Principal{}, apperr.Forbidden("Not authorized as admin")
	}
	return p, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
