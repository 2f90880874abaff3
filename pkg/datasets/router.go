package datasets

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// Router creates a chi.Router for the dataset API. Browsing requires the
// data-scientist role, publishing and editing require data-owner; mock data
// is open to guests. mockCache, when non-nil, caches mock payload responses
// and is applied inside the role check.
func Router(registry *Registry, mockCache func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(authz.RequireRole(authz.RoleDataOwner)).Post("/", PublishHandler(registry))
	r.With(authz.RequireRole(authz.RoleDataScientist)).Get("/", ListHandler(registry))
	r.With(authz.RequireRole(authz.RoleDataScientist)).Get("/{datasetId}", GetHandler(registry))
	r.With(authz.RequireRole(authz.RoleDataOwner)).Patch("/{datasetId}", UpdateMetadataHandler(registry))

	mock := r.With(authz.RequireRole(authz.RoleGuest))
	if mockCache != nil {
		mock = mock.With(mockCache)
	}
	mock.Get("/assets/{assetId}/mock", MockPayloadHandler(registry))

	return r
}
