package associations

import (
	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// Router creates a chi.Router for the federation API. Requesting and
// deciding associations are data-owner operations; the receive endpoint is
// open because remote datasites carry no local credentials.
func Router(manager *Manager, store *AssociationStore) chi.Router {
	r := chi.NewRouter()

	r.Post("/receive", ReceiveHandler(manager))

	r.Group(func(r chi.Router) {
		r.Use(authz.RequireRole(authz.RoleDataOwner))
		r.Post("/", RequestHandler(manager))
		r.Post("/{associationId}:decide", DecideHandler(manager))
	})

	r.Group(func(r chi.Router) {
		r.Use(authz.RequireRole(authz.RoleDataScientist))
		r.Get("/", ListHandler(store))
		r.Get("/{associationId}", GetHandler(store))
	})

	return r
}
