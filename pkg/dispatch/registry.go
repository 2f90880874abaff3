// Package dispatch routes service-method calls ("dataset.publish",
// "job.submit") to registered handlers through a single authorization
// choke point. The registry is assembled once at startup; there is no
// dynamic handler registration after the server starts serving.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// ErrForbidden indicates the caller's role is below the method's minimum.
// The check runs before the handler, so a forbidden call has no side effects.
var ErrForbidden = errors.New("forbidden: insufficient role for this method")

// ErrUnknownMethod indicates no handler is registered for the service-method
// pair.
var ErrUnknownMethod = errors.New("unknown service method")

// Handler executes one service method. The payload is the raw JSON argument
// object; handlers decode what they need.
type Handler func(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error)

// Endpoint describes one registered service method.
type Endpoint struct {
	Service     string
	Method      string
	MinRole     authz.Role
	Description string
	// InputSchema maps argument names to human-readable type descriptions,
	// for the introspection endpoint.
	InputSchema map[string]string
	Handler     Handler
}

// Path returns the dotted service path, e.g. "dataset.publish".
func (e Endpoint) Path() string {
	return e.Service + "." + e.Method
}

// Registry holds the static method table plus an optional policy table that
// overrides per-method minimum roles at runtime.
type Registry struct {
	endpoints map[string]Endpoint
	policy    *Policy
}

// NewRegistry creates an empty registry. policy may be nil.
func NewRegistry(policy *Policy) *Registry {
	return &Registry{endpoints: make(map[string]Endpoint), policy: policy}
}

// Register adds an endpoint. Duplicate paths and missing handlers are
// programming errors surfaced at startup.
func (r *Registry) Register(e Endpoint) error {
	if e.Service == "" || e.Method == "" {
		return fmt.Errorf("endpoint requires service and method, got %q", e.Path())
	}
	if e.Handler == nil {
		return fmt.Errorf("endpoint %s has no handler", e.Path())
	}
	if _, exists := r.endpoints[e.Path()]; exists {
		return fmt.Errorf("endpoint %s registered twice", e.Path())
	}
	r.endpoints[e.Path()] = e
	return nil
}

// MustRegister is Register for startup wiring, panicking on error.
func (r *Registry) MustRegister(e Endpoint) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// minRole resolves the effective minimum role for an endpoint, letting the
// policy table tighten or relax the static default.
func (r *Registry) minRole(e Endpoint) authz.Role {
	if r.policy != nil {
		if role, ok := r.policy.MinRoleFor(e.Path()); ok {
			return role
		}
	}
	return e.MinRole
}

// Invoke authorizes and runs the handler for service.method. Authorization
// failures return ErrForbidden without touching the handler.
func (r *Registry) Invoke(ctx context.Context, p authz.Principal, service, method string, payload json.RawMessage) (any, error) {
	e, ok := r.endpoints[service+"."+method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, service, method)
	}
	if !p.Role.AtLeast(r.minRole(e)) {
		return nil, fmt.Errorf("%w: %s.%s requires %s", ErrForbidden, service, method, r.minRole(e))
	}
	return e.Handler(ctx, p, payload)
}

// MethodInfo is the introspection view of one endpoint.
type MethodInfo struct {
	Service     string            `json:"service"`
	Method      string            `json:"method"`
	MinRole     authz.Role        `json:"minRole"`
	Description string            `json:"description,omitempty"`
	InputSchema map[string]string `json:"inputSchema,omitempty"`
}

// Methods returns all registered methods in stable path order, with the
// effective (policy-resolved) minimum role.
func (r *Registry) Methods() []MethodInfo {
	paths := maps.Keys(r.endpoints)
	sort.Strings(paths)

	infos := make([]MethodInfo, 0, len(paths))
	for _, path := range paths {
		e := r.endpoints[path]
		infos = append(infos, MethodInfo{
			Service:     e.Service,
			Method:      e.Method,
			MinRole:     r.minRole(e),
			Description: e.Description,
			InputSchema: e.InputSchema,
		})
	}
	return infos
}
