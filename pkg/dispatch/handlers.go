package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// InvokeRequest is the body of a generic service call.
type InvokeRequest struct {
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// InvokeHandler handles POST /api/services/v1/invoke, the generic RPC-style
// entry point. Status codes mirror the dispatcher's error taxonomy.
func InvokeHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InvokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.Service == "" || req.Method == "" {
			writeError(w, http.StatusBadRequest, "service and method are required")
			return
		}

		p, _ := authz.PrincipalFromContext(r.Context())
		result, err := registry.Invoke(r.Context(), p, req.Service, req.Method, req.Args)
		switch {
		case errors.Is(err, ErrUnknownMethod):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, ErrForbidden):
			writeError(w, http.StatusForbidden, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
	}
}

// MethodsHandler handles GET /api/services/v1/methods, listing every
// registered method with its effective minimum role and input schema.
func MethodsHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"methods": registry.Methods()})
	}
}

// Router creates a chi.Router for the service dispatcher. Introspection is
// open to any authenticated caller; authorization for invocation is
// per-method inside the registry. methodsCache, when non-nil, caches the
// method listing (the table only changes on a policy reload, and the cache
// TTL bounds the staleness).
func Router(registry *Registry, methodsCache func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/invoke", InvokeHandler(registry))
	methods := chi.Router(r)
	if methodsCache != nil {
		methods = r.With(methodsCache)
	}
	methods.Get("/methods", MethodsHandler(registry))
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
