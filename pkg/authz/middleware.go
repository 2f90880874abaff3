package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequireRole returns middleware that enforces a minimum role. The Principal
// must already be in the request context (via PrincipalMiddleware).
// Insufficient roles get 403 before the handler runs.
func RequireRole(required Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFromContext(r.Context())
			if !p.Role.AtLeast(required) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": fmt.Sprintf("role %q required", required),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
