package authz

import (
	"context"
	"net/http"
	"strings"
)

// principalCtxKey is an unexported type used as the context key for Principal.
type principalCtxKey struct{}

// UserHeader carries the authenticated user id, set by the auth proxy.
const UserHeader = "X-Remote-User"

// RoleHeader carries the user's role, set by the auth proxy.
const RoleHeader = "X-User-Role"

// WithPrincipal returns a new context with the given Principal attached.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFromContext retrieves the Principal from the context.
// Returns the zero value and false if none is set.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

// PrincipalExtractor resolves the Principal for an HTTP request.
type PrincipalExtractor func(r *http.Request) Principal

// HeaderExtractor reads identity from the X-Remote-User and X-User-Role
// headers. A missing user defaults to "anonymous" with the guest role.
func HeaderExtractor(r *http.Request) Principal {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		return Principal{User: "anonymous", Role: RoleGuest}
	}
	return Principal{
		User: user,
		Role: ParseRole(strings.TrimSpace(strings.ToLower(r.Header.Get(RoleHeader)))),
	}
}

// PrincipalMiddleware returns HTTP middleware that resolves the request's
// Principal via the extractor and stores it in the request context.
func PrincipalMiddleware(extract PrincipalExtractor) func(http.Handler) http.Handler {
	if extract == nil {
		extract = HeaderExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithPrincipal(r.Context(), extract(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
