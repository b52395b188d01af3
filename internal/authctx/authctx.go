// Package authctx extracts user_id from a pre-issued JWT bearer token for
// the HTTP and WebSocket collaborator layers (spec.md §6.6: "the
// authentication layer supplies user_id"). It owns no token issuance,
// refresh, or password flow — authentication protocol design is an
// explicit Non-goal; this package only verifies a signature and reads one
// claim. Grounded on the reference's internal/auth/jwt.go JWTManager,
// narrowed to verification only.
package authctx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("authctx: missing bearer token")

// ErrInvalidToken is returned for any signature, expiry, or claim failure.
var ErrInvalidToken = errors.New("authctx: invalid token")

// Claims is the minimal claim set this package reads. A pre-issued token
// is expected to carry at least sub (the user_id).
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens signed with a shared HMAC key and
// extracts the subject as user_id.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier. secret must be non-empty.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("authctx: signing key is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// UserID verifies tokenString and returns its subject claim.
func (v *Verifier) UserID(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authctx: unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	userID := claims.Subject
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

type contextKey int

const userIDKey contextKey = iota

// WithUserID returns a context carrying userID, retrievable via UserIDFromContext.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user_id set by Middleware, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimPrefix(header, prefix), nil
}

// Middleware verifies the request's bearer token and injects user_id into
// the request context for downstream handlers. Requests without a valid
// token are rejected with 401 before reaching the router's command
// handlers.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				http.Error(w, `{"error":"missing_token"}`, http.StatusUnauthorized)
				return
			}
			userID, err := v.UserID(token)
			if err != nil {
				http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
