package middleware

import (
	"context"
	"net/http"

	"taskhive-backend/storage/auth"
)

const principalKey ctxKey = "principal"

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal set by the auth wrapper. The second
// return is false on unauthenticated routes.
func GetPrincipal(r *http.Request) (auth.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(auth.Principal)
	return p, ok
}
