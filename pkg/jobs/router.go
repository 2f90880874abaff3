package jobs

import (
	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/audit"
	"github.com/datasite-dev/datasite/pkg/authz"
)

// Router creates a chi.Router for the job API. Submitting and canceling
// require the data-scientist role; job status is readable by the same.
func Router(store *JobStore, auditor *audit.Store, producerEnabled bool) chi.Router {
	r := chi.NewRouter()
	r.Use(authz.RequireRole(authz.RoleDataScientist))

	r.Post("/", SubmitHandler(store, auditor, producerEnabled))
	r.Get("/", ListHandler(store))
	r.Get("/{jobId}", GetHandler(store))
	r.Post("/{jobId}:cancel", CancelHandler(store))

	return r
}
