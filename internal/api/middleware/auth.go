package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
)

// UserIDHeader names the acting user when authentication is disabled.
const UserIDHeader = "X-User-ID"

// TokenVerifier turns a bearer token into a user ID.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type actorKey struct{}

// ActorFrom returns the authenticated user ID stored by Auth, if any.
func ActorFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}

// WithActor returns a context carrying an authenticated user ID.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// Auth returns middleware that requires a valid bearer token and stores its
// subject as the actor.
func Auth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				WriteAppError(w, r, apperr.New(apperr.KindUnauthorized, "Authorization header missing"))
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				WriteAppError(w, r, apperr.New(apperr.KindUnauthorized, "Invalid Authorization header format"))
				return
			}

			userID, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				WriteAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), userID)))
		})
	}
}

// ResolveActor decides who is acting. With an authenticated actor, a
// non-empty claimed ID must match it. Otherwise the claimed ID is used,
// falling back to the X-User-ID header.
func ResolveActor(r *http.Request, claimed string) (string, error) {
	if actor, ok := ActorFrom(r.Context()); ok {
		if claimed != "" && claimed != actor {
			return "", apperr.Forbidden("Token does not match the acting user")
		}
		return actor, nil
	}
	if claimed != "" {
		return claimed, nil
	}
	if h := strings.TrimSpace(r.Header.Get(UserIDHeader)); h != "" {
		return h, nil
	}
	return "", apperr.InvalidInput("Missing userId")
}
