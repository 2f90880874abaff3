package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datasite-dev/datasite/pkg/audit"
	"github.com/datasite-dev/datasite/pkg/authz"
)

// submitRequest is the request body for job submission.
type submitRequest struct {
	AssetIDs []string `json:"assetIds"`
	CodeRef  string   `json:"codeRef"`
}

// SubmitHandler handles POST /api/jobs/v1
func SubmitHandler(store *JobStore, auditor *audit.Store, producerEnabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !producerEnabled {
			writeError(w, http.StatusServiceUnavailable, "job submission is disabled on this instance")
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.CodeRef == "" {
			writeError(w, http.StatusBadRequest, "codeRef is required")
			return
		}
		if len(req.AssetIDs) == 0 {
			writeError(w, http.StatusBadRequest, "at least one asset id is required")
			return
		}

		p, _ := authz.PrincipalFromContext(r.Context())
		job, err := store.Submit(p.User, string(p.Role), req.AssetIDs, req.CodeRef)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("submit failed: %v", err))
			return
		}
		if auditor != nil {
			auditor.Record(p.User, string(p.Role), "job.submit", job.ID,
				audit.OutcomeSuccess, job.CodeRef)
		}
		writeJSON(w, http.StatusCreated, jobToResponse(job))
	}
}

// GetHandler handles GET /api/jobs/v1/{jobId}
func GetHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		job, err := store.Get(jobID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("get job: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, jobToResponse(job))
	}
}

// ListHandler handles GET /api/jobs/v1
// Query params: state, submittedBy, pageSize, pageToken.
func ListHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			State:       r.URL.Query().Get("state"),
			SubmittedBy: r.URL.Query().Get("submittedBy"),
		}
		pageSize := 20
		if ps := r.URL.Query().Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		records, nextToken, total, err := store.List(filter, pageSize, r.URL.Query().Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("list jobs: %v", err))
			return
		}

		items := make([]jobResponse, len(records))
		for i := range records {
			items[i] = jobToResponse(&records[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":          items,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// CancelHandler handles POST /api/jobs/v1/{jobId}:cancel
func CancelHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		state, err := store.Cancel(jobID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"jobId": jobID,
			"state": string(state),
		})
	}
}

// jobResponse is the API response for a job. Result content is fetched
// separately by handle; diagnostics are already bounded by the store.
type jobResponse struct {
	ID           string   `json:"id"`
	SubmittedBy  string   `json:"submittedBy"`
	AssetIDs     []string `json:"assetIds"`
	CodeRef      string   `json:"codeRef"`
	State        string   `json:"state"`
	ResultRef    string   `json:"resultRef,omitempty"`
	ErrorSummary string   `json:"errorSummary,omitempty"`
	SubmittedAt  string   `json:"submittedAt"`
	StartedAt    string   `json:"startedAt,omitempty"`
	FinishedAt   string   `json:"finishedAt,omitempty"`
	Attempts     int      `json:"attempts"`
}

func jobToResponse(job *Job) jobResponse {
	resp := jobResponse{
		ID:           job.ID,
		SubmittedBy:  job.SubmittedBy,
		AssetIDs:     job.Assets(),
		CodeRef:      job.CodeRef,
		State:        string(job.State),
		ResultRef:    job.ResultRef,
		ErrorSummary: job.ErrorSummary,
		SubmittedAt:  job.SubmittedAt.Format(time.RFC3339),
		Attempts:     job.Attempts,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
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
