package datasets

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/authz"
	"github.com/datasite-dev/datasite/pkg/blob"
)

// PublishHandler handles POST /api/datasets/v1
func PublishHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input DatasetInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		p, _ := authz.PrincipalFromContext(r.Context())
		ds, err := registry.Publish(r.Context(), p, input)
		if err != nil {
			switch {
			case IsValidation(err):
				writeError(w, http.StatusUnprocessableEntity, err.Error())
			case errors.Is(err, blob.ErrStorageUnavailable):
				writeError(w, http.StatusServiceUnavailable, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("publish failed: %v", err))
			}
			return
		}
		writeJSON(w, http.StatusCreated, datasetToResponse(ds))
	}
}

// GetHandler handles GET /api/datasets/v1/{datasetId}
func GetHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "datasetId")
		ds, err := registry.Get(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("dataset %q not found", id))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get dataset: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, datasetToResponse(ds))
	}
}

// ListHandler handles GET /api/datasets/v1
// Query params: q (optional search), pageSize, pageIndex.
func ListHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize := intParam(r, "pageSize", 20)
		pageIndex := intParam(r, "pageIndex", 0)
		query := r.URL.Query().Get("q")

		var page *Page
		var err error
		if query != "" {
			page, err = registry.Search(query, pageSize, pageIndex)
		} else {
			page, err = registry.List(pageSize, pageIndex)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("list datasets: %v", err))
			return
		}

		items := make([]datasetResponse, len(page.Items))
		for i := range page.Items {
			items[i] = datasetToResponse(&page.Items[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":     items,
			"total":     page.Total,
			"pageSize":  page.PageSize,
			"pageIndex": page.PageIndex,
			"hasMore":   page.HasMore,
		})
	}
}

// UpdateMetadataHandler handles PATCH /api/datasets/v1/{datasetId}
func UpdateMetadataHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "datasetId")
		var update MetadataUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		p, _ := authz.PrincipalFromContext(r.Context())
		if err := registry.UpdateMetadata(p, id, update); err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				writeError(w, http.StatusNotFound, fmt.Sprintf("dataset %q not found", id))
			case errors.Is(err, ErrNotOwner):
				writeError(w, http.StatusForbidden, "only the dataset owner may edit metadata")
			default:
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("update failed: %v", err))
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "datasetId": id})
	}
}

// MockPayloadHandler handles GET /api/datasets/v1/assets/{assetId}/mock
// Mock data is non-sensitive and readable by any authenticated caller.
func MockPayloadHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "assetId")
		data, err := registry.MockPayload(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				writeError(w, http.StatusNotFound, fmt.Sprintf("asset %q not found", id))
			case errors.Is(err, blob.ErrStorageUnavailable):
				writeError(w, http.StatusServiceUnavailable, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("read mock payload: %v", err))
			}
			return
		}
		if data == nil {
			writeError(w, http.StatusNotFound, "asset has no mock payload")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

type datasetResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Summary     string          `json:"summary,omitempty"`
	Description string          `json:"description,omitempty"`
	Owner       string          `json:"owner"`
	Assets      []assetResponse `json:"assets"`
	CreatedAt   string          `json:"createdAt"`
}

type assetResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Position   int               `json:"position"`
	HasPrivate bool              `json:"hasPrivate"`
	HasMock    bool              `json:"hasMock"`
	NoMock     bool              `json:"noMock,omitempty"`
	Subjects   []subjectResponse `json:"subjects,omitempty"`
}

type subjectResponse struct {
	Name    string `json:"name"`
	Aliases string `json:"aliases,omitempty"`
}

func datasetToResponse(ds *Dataset) datasetResponse {
	resp := datasetResponse{
		ID:          ds.ID,
		Name:        ds.Name,
		Summary:     ds.Summary,
		Description: ds.Description,
		Owner:       ds.Owner,
		CreatedAt:   ds.CreatedAt.Format(time.RFC3339),
		Assets:      make([]assetResponse, len(ds.Assets)),
	}
	for i, a := range ds.Assets {
		ar := assetResponse{
			ID:         a.ID,
			Name:       a.Name,
			Position:   a.Position,
			HasPrivate: a.PrivateRef != "",
			HasMock:    a.MockRef != "",
			NoMock:     a.NoMock,
		}
		for _, subj := range a.Subjects {
			ar.Subjects = append(ar.Subjects, subjectResponse{Name: subj.Name, Aliases: subj.Aliases})
		}
		resp.Assets[i] = ar
	}
	return resp
}

func intParam(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
