package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// ListHandler handles GET /api/audit/v1/events.
// Query params: actor, action, pageSize, pageToken.
func ListHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize := 20
		if v := r.URL.Query().Get("pageSize"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				pageSize = n
			}
		}
		filter := ListFilter{
			Actor:  r.URL.Query().Get("actor"),
			Action: r.URL.Query().Get("action"),
		}

		events, nextToken, err := store.List(filter, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("list audit events: %v", err))
			return
		}

		items := make([]eventResponse, len(events))
		for i, ev := range events {
			items[i] = eventResponse{
				ID:        ev.ID,
				Actor:     ev.Actor,
				Role:      ev.Role,
				Action:    ev.Action,
				Resource:  ev.Resource,
				Outcome:   ev.Outcome,
				Detail:    ev.Detail,
				CreatedAt: ev.CreatedAt.Format(time.RFC3339Nano),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":         items,
			"nextPageToken": nextToken,
		})
	}
}

// Router creates a chi.Router for the audit API. The trail is admin-only.
func Router(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Use(authz.RequireRole(authz.RoleAdmin))
	r.Get("/events", ListHandler(store))
	return r
}

type eventResponse struct {
	ID        string  `json:"id"`
	Actor     string  `json:"actor"`
	Role      string  `json:"role,omitempty"`
	Action    string  `json:"action"`
	Resource  string  `json:"resource,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
