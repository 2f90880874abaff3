package associations

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// RequestHandler handles POST /api/federation/v1/associations, initiating
// an association with a remote datasite.
func RequestHandler(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if input.Name == "" || input.URL == "" {
			writeError(w, http.StatusBadRequest, "name and url are required")
			return
		}

		p, _ := authz.PrincipalFromContext(r.Context())
		assoc, err := manager.Request(r.Context(), p, input.Name, input.URL)
		switch {
		case errors.Is(err, ErrAlreadyAssociated):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, ErrPeerUnreachable):
			// The request is recorded but undelivered; surface both facts.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"association": toResponse(assoc),
				"error":       err.Error(),
			})
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("association request: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(assoc))
	}
}

// ReceiveHandler handles POST /api/federation/v1/associations/receive, the
// endpoint remote datasites deliver handshakes to.
func ReceiveHandler(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req HandshakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		assoc, err := manager.Receive(r.Context(), req)
		switch {
		case errors.Is(err, ErrAlreadyAssociated):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("handshake rejected: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, toResponse(assoc))
	}
}

// DecideHandler handles POST /api/federation/v1/associations/{associationId}:decide
func DecideHandler(manager *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "associationId")
		var input struct {
			Approve bool `json:"approve"`
		}
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		p, _ := authz.PrincipalFromContext(r.Context())
		assoc, err := manager.Decide(r.Context(), p, id, input.Approve)
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("association %q not found", id))
			return
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("decide association: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(assoc))
	}
}

// GetHandler handles GET /api/federation/v1/associations/{associationId}
func GetHandler(store *AssociationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "associationId")
		assoc, err := store.Get(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("association %q not found", id))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get association: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, toResponse(assoc))
	}
}

// ListHandler handles GET /api/federation/v1/associations?state=approved
func ListHandler(store *AssociationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := store.List(State(r.URL.Query().Get("state")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("list associations: %v", err))
			return
		}
		items := make([]associationResponse, len(records))
		for i := range records {
			items[i] = toResponse(&records[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

type associationResponse struct {
	ID           string `json:"id"`
	RemoteName   string `json:"remoteName"`
	RemoteURL    string `json:"remoteUrl"`
	Initiated    bool   `json:"initiated"`
	State        State  `json:"state"`
	RequestedBy  string `json:"requestedBy,omitempty"`
	DecidedBy    string `json:"decidedBy,omitempty"`
	LastSeen     string `json:"lastSeen,omitempty"`
	MissedProbes int    `json:"missedProbes"`
	CreatedAt    string `json:"createdAt"`
}

func toResponse(a *Association) associationResponse {
	resp := associationResponse{
		ID:           a.ID,
		RemoteName:   a.RemoteName,
		RemoteURL:    a.RemoteURL,
		Initiated:    a.Initiated,
		State:        a.State,
		RequestedBy:  a.RequestedBy,
		DecidedBy:    a.DecidedBy,
		MissedProbes: a.MissedProbes,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastSeen != nil {
		resp.LastSeen = a.LastSeen.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
