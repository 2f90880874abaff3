package datasets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/datasite-dev/datasite/pkg/audit"
	"github.com/datasite-dev/datasite/pkg/authz"
	"github.com/datasite-dev/datasite/pkg/blob"
)

// Registry owns the dataset catalog. It validates the mock-presence
// invariant, routes payloads through the blob store, and records an audit
// event for every publication.
type Registry struct {
	store   *Store
	blobs   blob.Store
	auditor *audit.Store
	logger  *slog.Logger

	// Publication is serialized per dataset name so two concurrent publishes
	// of the same name cannot interleave blob writes with the uniqueness check.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a Registry over the given store and blob backend.
func NewRegistry(store *Store, blobs blob.Store, auditor *audit.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		blobs:   blobs,
		auditor: auditor,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *Registry) nameLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Publish validates, stores, and registers a dataset, returning the
// published descriptor. Fails with ValidationError before any persistence
// when an asset with a private payload has neither a mock payload nor an
// explicit no-mock exemption. Blob failures surface to the caller, who must
// resubmit; nothing is retried here.
func (r *Registry) Publish(ctx context.Context, p authz.Principal, input DatasetInput) (*Dataset, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	lock := r.nameLock(input.Name)
	lock.Lock()
	defer lock.Unlock()

	ds := &Dataset{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Summary:     input.Summary,
		Description: input.Description,
		Owner:       p.User,
	}

	var stored []blob.Handle
	cleanup := func() {
		for _, h := range stored {
			if err := r.blobs.Delete(ctx, h); err != nil {
				r.logger.Warn("failed to clean up blob after aborted publish", "handle", h, "error", err)
			}
		}
	}

	for i, in := range input.Assets {
		asset := Asset{
			ID:        uuid.New().String(),
			DatasetID: ds.ID,
			Name:      in.Name,
			Position:  i,
			NoMock:    in.NoMock,
		}
		if len(in.Private) > 0 {
			h, err := r.blobs.Put(ctx, in.Private)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("store private payload for asset %q: %w", in.Name, err)
			}
			stored = append(stored, h)
			asset.PrivateRef = string(h)
		}
		if len(in.Mock) > 0 {
			h, err := r.blobs.Put(ctx, in.Mock)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("store mock payload for asset %q: %w", in.Name, err)
			}
			stored = append(stored, h)
			asset.MockRef = string(h)
		}
		for _, subj := range in.Subjects {
			asset.Subjects = append(asset.Subjects, DataSubject{
				ID:      uuid.New().String(),
				AssetID: asset.ID,
				Name:    subj.Name,
				Aliases: strings.Join(subj.Aliases, ","),
			})
		}
		ds.Assets = append(ds.Assets, asset)
	}

	if err := r.store.Create(ds); err != nil {
		cleanup()
		return nil, err
	}

	r.logger.Info("dataset published",
		"dataset", ds.ID, "name", ds.Name, "assets", len(ds.Assets), "owner", p.User)
	if r.auditor != nil {
		r.auditor.Record(p.User, string(p.Role), "dataset.publish", ds.ID,
			audit.OutcomeSuccess, fmt.Sprintf("%d assets", len(ds.Assets)))
	}
	return ds, nil
}

// validate enforces the mock-presence invariant and basic shape checks
// before anything touches storage.
func validate(input DatasetInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return &ValidationError{Reason: "dataset name is required"}
	}
	seen := make(map[string]bool, len(input.Assets))
	for _, a := range input.Assets {
		if strings.TrimSpace(a.Name) == "" {
			return &ValidationError{Reason: "asset name is required"}
		}
		if seen[a.Name] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate asset name %q", a.Name)}
		}
		seen[a.Name] = true
		if len(a.Private) > 0 && len(a.Mock) == 0 && !a.NoMock {
			return &ValidationError{Reason: fmt.Sprintf(
				"asset %q has a private payload but no mock payload or no-mock exemption", a.Name)}
		}
	}
	return nil
}

// Get returns a dataset descriptor by id.
func (r *Registry) Get(id string) (*Dataset, error) {
	return r.store.Get(id)
}

// List returns a deterministic page of all datasets.
func (r *Registry) List(pageSize, pageIndex int) (*Page, error) {
	return r.store.List(pageSize, pageIndex)
}

// Search returns a deterministic page of datasets matching the query.
func (r *Registry) Search(query string, pageSize, pageIndex int) (*Page, error) {
	return r.store.Search(query, pageSize, pageIndex)
}

// UpdateMetadata applies a metadata-only edit by the dataset's owner.
// Admins may edit any dataset.
func (r *Registry) UpdateMetadata(p authz.Principal, id string, update MetadataUpdate) error {
	ds, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if ds.Owner != p.User && !p.Role.AtLeast(authz.RoleAdmin) {
		return ErrNotOwner
	}
	if err := r.store.UpdateMetadata(id, update); err != nil {
		return err
	}
	if r.auditor != nil {
		r.auditor.Record(p.User, string(p.Role), "dataset.update", id, audit.OutcomeSuccess, "")
	}
	return nil
}

// MockPayload returns the mock bytes for an asset, or nil when the asset
// carries a no-mock exemption.
func (r *Registry) MockPayload(ctx context.Context, assetID string) ([]byte, error) {
	asset, err := r.store.GetAsset(assetID)
	if err != nil {
		return nil, err
	}
	if asset.MockRef == "" {
		return nil, nil
	}
	return r.blobs.Get(ctx, blob.Handle(asset.MockRef))
}

// PrivatePayload returns the private bytes for an asset. Only the job worker
// calls this, inside the execution context it controls for a claimed job.
func (r *Registry) PrivatePayload(ctx context.Context, assetID string) ([]byte, error) {
	asset, err := r.store.GetAsset(assetID)
	if err != nil {
		return nil, err
	}
	if asset.PrivateRef == "" {
		return nil, nil
	}
	return r.blobs.Get(ctx, blob.Handle(asset.PrivateRef))
}
