package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"studygen/internal/services"
)

type contextKey string

const userIDKey contextKey = "userID"

// Authenticator validates HMAC-signed bearer tokens. The token subject is
// the user id.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id in the request context. Health checks pass through.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := a.userID(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) userID(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", services.ErrUnauthenticated)
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: malformed authorization header", services.ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: invalid token", services.ErrUnauthenticated)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: token has no subject", services.ErrUnauthenticated)
	}
	return subject, nil
}

// UserID returns the authenticated caller, or ErrUnauthenticated.
func UserID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userIDKey).(string)
	if !ok || id == "" {
		return "", services.ErrUnauthenticated
	}
	return id, nil
}

// resolveUser checks an optional client-supplied user id against the token.
func resolveUser(r *http.Request, claimed string) (string, error) {
	userID, err := UserID(r.Context())
	if err != nil {
		return "", err
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" && claimed != userID {
		return "", fmt.Errorf("%w: userId does not match the authenticated user", services.ErrForbidden)
	}
	return userID, nil
}
