package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chatrelay/pkg/models"
)

var (
	// ErrNoToken means the request carried no credentials at all.
	ErrNoToken = errors.New("auth: no token")
	// ErrInvalidToken means credentials were present but did not verify.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// IdentityProvider resolves a bearer token to a user id.
type IdentityProvider interface {
	Verify(token string) (models.UserID, error)
}

// JWTIdentity verifies HS256 tokens whose subject claim carries the
// user id.
type JWTIdentity struct {
	secret []byte
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret)}
}

func (j *JWTIdentity) Verify(token string) (models.UserID, error) {
	if token == "" {
		return "", ErrNoToken
	}
	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return j.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return models.UserID(sub), nil
}

// IssueToken mints a token for the given user. Used by tests and by
// deployments that let this service act as its own token source.
func (j *JWTIdentity) IssueToken(userID models.UserID, claims map[string]any) (string, error) {
	mc := jwt.MapClaims{"sub": string(userID)}
	for k, v := range claims {
		mc[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(j.secret)
}

type ctxUserKey struct{}

// WithUserID returns a context carrying the verified caller id.
func WithUserID(ctx context.Context, id models.UserID) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, id)
}

// UserIDFromContext returns the verified caller id or empty string.
func UserIDFromContext(ctx context.Context) models.UserID {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if id, ok := v.(models.UserID); ok {
			return id
		}
	}
	return ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
