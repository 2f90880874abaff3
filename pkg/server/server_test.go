package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/datasite-dev/datasite/pkg/authz"
	"github.com/datasite-dev/datasite/pkg/config"
	"github.com/datasite-dev/datasite/pkg/jobs"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Name = "site-a"
	cfg.PublicURL = "https://a.example.org"
	cfg.UseBlobStorage = false
	cfg.NConsumers = 0 // no background workers in router tests
	cfg.AssociationTimeout = time.Hour

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, db, logger)
	require.NoError(t, err)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, user string, role authz.Role) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(authz.UserHeader, user)
		req.Header.Set(authz.RoleHeader, string(role))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func publishBody(name string) map[string]any {
	return map[string]any{
		"name": name,
		"assets": []map[string]any{
			{
				"name":    "table",
				"private": []byte("real rows"),
				"mock":    []byte("fake rows"),
			},
		},
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishAndBrowseDataset(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/datasets/v1", publishBody("census"),
		"alice", authz.RoleDataOwner)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID     string `json:"id"`
		Assets []struct {
			ID         string `json:"id"`
			HasPrivate bool   `json:"hasPrivate"`
			HasMock    bool   `json:"hasMock"`
		} `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.Assets, 1)
	assert.True(t, created.Assets[0].HasPrivate)
	assert.True(t, created.Assets[0].HasMock)

	// The response never carries private bytes or blob handles.
	assert.NotContains(t, rec.Body.String(), "real rows")
	assert.NotContains(t, rec.Body.String(), "Ref")

	rec = doRequest(t, srv, http.MethodGet, "/api/datasets/v1/"+created.ID, nil,
		"bob", authz.RoleDataScientist)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Mock payload is readable by a guest.
	rec = doRequest(t, srv, http.MethodGet,
		"/api/datasets/v1/assets/"+created.Assets[0].ID+"/mock", nil, "eve", authz.RoleGuest)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake rows", rec.Body.String())
}

func TestRoleGatesAcrossRoutes(t *testing.T) {
	srv := testServer(t)

	// Guests cannot publish or browse datasets.
	rec := doRequest(t, srv, http.MethodPost, "/api/datasets/v1", publishBody("census"),
		"eve", authz.RoleGuest)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doRequest(t, srv, http.MethodGet, "/api/datasets/v1", nil, "eve", authz.RoleGuest)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Data scientists cannot read the audit trail.
	rec = doRequest(t, srv, http.MethodGet, "/api/audit/v1/events", nil,
		"bob", authz.RoleDataScientist)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = doRequest(t, srv, http.MethodGet, "/api/audit/v1/events", nil,
		"root", authz.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDispatchInvokeAndIntrospection(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/datasets/v1", publishBody("census"),
		"alice", authz.RoleDataOwner)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Generic invoke path reaches the same registry.
	invoke := map[string]any{
		"service": "dataset",
		"method":  "get",
		"args":    map[string]string{"id": created.ID},
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/services/v1/invoke", invoke,
		"bob", authz.RoleDataScientist)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "census")
	assert.NotContains(t, rec.Body.String(), "real rows")

	// A guest is refused before the handler runs.
	invoke["method"] = "publish"
	invoke["args"] = publishBody("sneaky")
	rec = doRequest(t, srv, http.MethodPost, "/api/services/v1/invoke", invoke,
		"eve", authz.RoleGuest)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unknown methods are distinguishable from forbidden ones.
	invoke["method"] = "drop_table"
	rec = doRequest(t, srv, http.MethodPost, "/api/services/v1/invoke", invoke,
		"root", authz.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/services/v1/methods", nil,
		"eve", authz.RoleGuest)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Methods []struct {
			Service string `json:"service"`
			Method  string `json:"method"`
			MinRole string `json:"minRole"`
		} `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.NotEmpty(t, listing.Methods)
	for _, m := range listing.Methods {
		assert.NotEmpty(t, m.MinRole, "%s.%s must declare a minimum role", m.Service, m.Method)
	}
}

func TestJobSubmissionThroughRouter(t *testing.T) {
	srv := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/datasets/v1", publishBody("census"),
		"alice", authz.RoleDataOwner)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Assets []struct {
			ID string `json:"id"`
		} `json:"assets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	body := map[string]any{
		"assetIds": []string{created.Assets[0].ID},
		"codeRef":  "stats.size",
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/jobs/v1", body,
		"bob", authz.RoleDataScientist)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "pending", job.State)

	rec = doRequest(t, srv, http.MethodGet, "/api/jobs/v1/"+job.ID, nil,
		"bob", authz.RoleDataScientist)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Guests cannot submit jobs.
	rec = doRequest(t, srv, http.MethodPost, "/api/jobs/v1", body, "eve", authz.RoleGuest)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAssociationLifecycleThroughRouter(t *testing.T) {
	srv := testServer(t)

	// An incoming handshake from a peer needs no local credentials.
	handshake := map[string]string{"name": "site-b", "url": "https://b.example.org"}
	rec := doRequest(t, srv, http.MethodPost,
		"/api/federation/v1/associations/receive", handshake, "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var assoc struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assoc))
	assert.Equal(t, "pending_approval", assoc.State)

	// Only a data owner may decide.
	decision := map[string]bool{"approve": true}
	rec = doRequest(t, srv, http.MethodPost,
		"/api/federation/v1/associations/"+assoc.ID+":decide", decision,
		"bob", authz.RoleDataScientist)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodPost,
		"/api/federation/v1/associations/"+assoc.ID+":decide", decision,
		"alice", authz.RoleDataOwner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assoc))
	assert.Equal(t, "approved", assoc.State)
}

// network_check_interval drives the peer probe cadence and
// datasite_check_interval the undecided-request sweep; they must not be
// conflated.
func TestFederationIntervalWiring(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.NetworkCheckInterval = 42 * time.Second
	cfg.DatasiteCheckInterval = 7 * time.Second
	cfg.AssociationTimeout = 3 * time.Hour

	ac := associationConfig(cfg)
	assert.Equal(t, 42*time.Second, ac.ProbeInterval)
	assert.Equal(t, 7*time.Second, ac.SweepInterval)
	assert.Equal(t, 3*time.Hour, ac.Timeout)

	cfg.LeaseDuration = 90 * time.Second
	jc := jobConfig(cfg)
	assert.Equal(t, 90*time.Second, jc.LeaseDuration)
	assert.Equal(t, cfg.NConsumers, jc.Consumers)
}

// The worker pool is assembled with a typed minimum-role policy that denies
// guests.
func TestWorkerReleasePolicyRole(t *testing.T) {
	policy := jobs.RolePolicy{MinRole: authz.RoleDataScientist}
	assert.Error(t, policy.Allow(&jobs.Job{SubmitterRole: string(authz.RoleGuest)}))
	assert.NoError(t, policy.Allow(&jobs.Job{SubmitterRole: string(authz.RoleDataScientist)}))
}
