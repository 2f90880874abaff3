package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/datasite-dev/datasite/pkg/associations"
	"github.com/datasite-dev/datasite/pkg/authz"
	"github.com/datasite-dev/datasite/pkg/datasets"
	"github.com/datasite-dev/datasite/pkg/dispatch"
	"github.com/datasite-dev/datasite/pkg/jobs"
)

// buildDispatch registers every service method on the generic dispatcher.
// The table is fixed at startup; the policy file can only adjust minimum
// roles, not add methods.
func (s *Server) buildDispatch(policy *dispatch.Policy, assocStore *associations.AssociationStore) (*dispatch.Registry, error) {
	reg := dispatch.NewRegistry(policy)

	endpoints := []dispatch.Endpoint{
		{
			Service: "dataset", Method: "publish", MinRole: authz.RoleDataOwner,
			Description: "Publish a dataset with private and mock payloads",
			InputSchema: map[string]string{
				"name": "string", "summary": "string", "description": "string",
				"assets": "list of {name, private, mock, noMock, subjects}",
			},
			Handler: s.datasetPublish,
		},
		{
			Service: "dataset", Method: "get", MinRole: authz.RoleDataScientist,
			Description: "Fetch one dataset's metadata by id",
			InputSchema: map[string]string{"id": "string"},
			Handler:     s.datasetGet,
		},
		{
			Service: "dataset", Method: "list", MinRole: authz.RoleDataScientist,
			Description: "List or search datasets with deterministic paging",
			InputSchema: map[string]string{"q": "string", "pageSize": "int", "pageIndex": "int"},
			Handler:     s.datasetList,
		},
		{
			Service: "dataset", Method: "update_metadata", MinRole: authz.RoleDataOwner,
			Description: "Edit a dataset's summary or description",
			InputSchema: map[string]string{"id": "string", "summary": "string", "description": "string"},
			Handler:     s.datasetUpdateMetadata,
		},
		{
			Service: "dataset", Method: "mock", MinRole: authz.RoleGuest,
			Description: "Read an asset's mock payload (base64)",
			InputSchema: map[string]string{"assetId": "string"},
			Handler:     s.datasetMock,
		},
		{
			Service: "job", Method: "submit", MinRole: authz.RoleDataScientist,
			Description: "Queue a computation over private assets",
			InputSchema: map[string]string{"assetIds": "list of string", "codeRef": "string"},
			Handler:     s.jobSubmit,
		},
		{
			Service: "job", Method: "get", MinRole: authz.RoleDataScientist,
			Description: "Fetch one job's status",
			InputSchema: map[string]string{"id": "string"},
			Handler:     s.jobGet,
		},
		{
			Service: "job", Method: "list", MinRole: authz.RoleDataScientist,
			Description: "List jobs with optional state and submitter filters",
			InputSchema: map[string]string{"state": "string", "submittedBy": "string", "pageSize": "int", "pageToken": "string"},
			Handler:     s.jobList,
		},
		{
			Service: "job", Method: "cancel", MinRole: authz.RoleDataScientist,
			Description: "Cancel a pending job or request cooperative cancellation of a running one",
			InputSchema: map[string]string{"id": "string"},
			Handler:     s.jobCancel,
		},
		{
			Service: "association", Method: "request", MinRole: authz.RoleDataOwner,
			Description: "Initiate an association with a remote datasite",
			InputSchema: map[string]string{"name": "string", "url": "string"},
			Handler:     s.associationRequest,
		},
		{
			Service: "association", Method: "decide", MinRole: authz.RoleDataOwner,
			Description: "Approve or reject a pending association",
			InputSchema: map[string]string{"id": "string", "approve": "bool"},
			Handler:     s.associationDecide,
		},
		{
			Service: "association", Method: "list", MinRole: authz.RoleDataScientist,
			Description: "List associations, optionally by state",
			InputSchema: map[string]string{"state": "string"},
			Handler:     s.associationList(assocStore),
		},
	}

	for _, e := range endpoints {
		if err := reg.Register(e); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// datasetView redacts blob handles from dispatch results, mirroring what
// the REST handlers expose.
func datasetView(ds *datasets.Dataset) map[string]any {
	assets := make([]map[string]any, len(ds.Assets))
	for i, a := range ds.Assets {
		assets[i] = map[string]any{
			"id":         a.ID,
			"name":       a.Name,
			"position":   a.Position,
			"hasPrivate": a.PrivateRef != "",
			"hasMock":    a.MockRef != "",
			"noMock":     a.NoMock,
		}
	}
	return map[string]any{
		"id":          ds.ID,
		"name":        ds.Name,
		"summary":     ds.Summary,
		"description": ds.Description,
		"owner":       ds.Owner,
		"assets":      assets,
		"createdAt":   ds.CreatedAt,
	}
}

func jobView(j *jobs.Job) map[string]any {
	return map[string]any{
		"id":           j.ID,
		"state":        j.State,
		"submittedBy":  j.SubmittedBy,
		"assetIds":     j.Assets(),
		"codeRef":      j.CodeRef,
		"resultRef":    j.ResultRef,
		"errorSummary": j.ErrorSummary,
		"attempts":     j.Attempts,
		"submittedAt":  j.SubmittedAt,
	}
}

func (s *Server) datasetPublish(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var input datasets.DatasetInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	ds, err := s.registry.Publish(ctx, p, input)
	if err != nil {
		return nil, err
	}
	return datasetView(ds), nil
}

func (s *Server) datasetGet(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	ds, err := s.registry.Get(args.ID)
	if err != nil {
		return nil, err
	}
	return datasetView(ds), nil
}

func (s *Server) datasetList(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	args := struct {
		Q         string `json:"q"`
		PageSize  int    `json:"pageSize"`
		PageIndex int    `json:"pageIndex"`
	}{PageSize: 20}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, err
		}
	}
	var page *datasets.Page
	var err error
	if args.Q != "" {
		page, err = s.registry.Search(args.Q, args.PageSize, args.PageIndex)
	} else {
		page, err = s.registry.List(args.PageSize, args.PageIndex)
	}
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(page.Items))
	for i := range page.Items {
		items[i] = datasetView(&page.Items[i])
	}
	return map[string]any{
		"items":     items,
		"total":     page.Total,
		"pageSize":  page.PageSize,
		"pageIndex": page.PageIndex,
		"hasMore":   page.HasMore,
	}, nil
}

func (s *Server) datasetUpdateMetadata(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		ID          string  `json:"id"`
		Summary     *string `json:"summary"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	update := datasets.MetadataUpdate{Summary: args.Summary, Description: args.Description}
	if err := s.registry.UpdateMetadata(p, args.ID, update); err != nil {
		return nil, err
	}
	return map[string]string{"status": "updated", "datasetId": args.ID}, nil
}

func (s *Server) datasetMock(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		AssetID string `json:"assetId"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	data, err := s.registry.MockPayload(ctx, args.AssetID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"mock": base64.StdEncoding.EncodeToString(data)}, nil
}

func (s *Server) jobSubmit(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	if !s.cfg.CreateProducer {
		return nil, fmt.Errorf("job submission is disabled on this datasite")
	}
	var args struct {
		AssetIDs []string `json:"assetIds"`
		CodeRef  string   `json:"codeRef"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	job, err := s.jobStore.Submit(p.User, string(p.Role), args.AssetIDs, args.CodeRef)
	if err != nil {
		return nil, err
	}
	return jobView(job), nil
}

func (s *Server) jobGet(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	job, err := s.jobStore.Get(args.ID)
	if err != nil {
		return nil, err
	}
	return jobView(job), nil
}

func (s *Server) jobList(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	args := struct {
		State       string `json:"state"`
		SubmittedBy string `json:"submittedBy"`
		PageSize    int    `json:"pageSize"`
		PageToken   string `json:"pageToken"`
	}{PageSize: 20}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, err
		}
	}
	records, next, total, err := s.jobStore.List(
		jobs.ListFilter{State: args.State, SubmittedBy: args.SubmittedBy},
		args.PageSize, args.PageToken)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, len(records))
	for i := range records {
		items[i] = jobView(&records[i])
	}
	return map[string]any{"items": items, "nextPageToken": next, "total": total}, nil
}

func (s *Server) jobCancel(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	state, err := s.jobStore.Cancel(args.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobId": args.ID, "state": state}, nil
}

func (s *Server) associationRequest(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	return s.manager.Request(ctx, p, args.Name, args.URL)
}

func (s *Server) associationDecide(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
	var args struct {
		ID      string `json:"id"`
		Approve bool   `json:"approve"`
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, err
	}
	return s.manager.Decide(ctx, p, args.ID, args.Approve)
}

func (s *Server) associationList(store *associations.AssociationStore) dispatch.Handler {
	return func(ctx context.Context, p authz.Principal, payload json.RawMessage) (any, error) {
		var args struct {
			State string `json:"state"`
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &args); err != nil {
				return nil, err
			}
		}
		return store.List(associations.State(args.State))
	}
}
