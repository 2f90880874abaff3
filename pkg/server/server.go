// Package server assembles the datasite: stores, worker pool, federation
// prober, service dispatcher, and the HTTP router that fronts them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/datasite-dev/datasite/pkg/associations"
	"github.com/datasite-dev/datasite/pkg/audit"
	"github.com/datasite-dev/datasite/pkg/authz"
	"github.com/datasite-dev/datasite/pkg/blob"
	"github.com/datasite-dev/datasite/pkg/cache"
	"github.com/datasite-dev/datasite/pkg/config"
	"github.com/datasite-dev/datasite/pkg/datasets"
	"github.com/datasite-dev/datasite/pkg/dispatch"
	"github.com/datasite-dev/datasite/pkg/ha"
	"github.com/datasite-dev/datasite/pkg/jobs"
)

// Server wires every datasite component behind a single HTTP router.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	auditor  *audit.Store
	registry *datasets.Registry
	jobStore *jobs.JobStore
	pool     *jobs.WorkerPool
	manager  *associations.Manager
	prober   *associations.Prober
	policy   *dispatch.Policy
	dispatch *dispatch.Registry
	caches   *cache.Manager
	elector  *ha.LeaderElector

	router chi.Router
}

// New builds the server from configuration. The database schema is migrated
// here so the router only mounts over ready stores.
func New(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	auditor := audit.NewStore(db, logger)
	datasetStore := datasets.NewStore(db)
	jobStore := jobs.NewJobStore(db)
	assocStore := associations.NewAssociationStore(db)

	haCfg := ha.ConfigFromEnv()
	elector := ha.NewLeaderElector(haCfg, db, logger)

	var locker ha.MigrationLocker
	if haCfg.MigrationLockEnabled {
		locker = ha.NewMigrationLocker(db)
	} else {
		locker = ha.NewMigrationLocker(nil)
	}
	err := locker.WithLock(context.Background(), func() error {
		if err := auditor.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
		if err := datasetStore.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate dataset schema: %w", err)
		}
		if err := jobStore.AutoMigrate(); err != nil {
			return fmt.Errorf("migrate job schema: %w", err)
		}
		if err := db.AutoMigrate(&associations.Association{}); err != nil {
			return fmt.Errorf("migrate association schema: %w", err)
		}
		return elector.AutoMigrate()
	})
	if err != nil {
		return nil, err
	}

	blobs, err := buildBlobStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := datasets.NewRegistry(datasetStore, blobs, auditor, logger)

	pool := jobs.NewWorkerPool(jobStore, registry, jobs.BuiltinExecutor{},
		jobs.RolePolicy{MinRole: authz.RoleDataScientist}, blobs, jobConfig(cfg), logger)

	assocCfg := associationConfig(cfg)
	peerClient := associations.NewHTTPPeerClient(assocCfg.ProbeTimeout)
	manager := associations.NewManager(assocStore, peerClient, auditor, assocCfg, logger)
	prober := associations.NewProber(assocStore, peerClient, assocCfg, logger)

	policy, err := dispatch.LoadPolicy(cfg.PolicyPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load method policy: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		auditor:  auditor,
		registry: registry,
		jobStore: jobStore,
		pool:     pool,
		manager:  manager,
		prober:   prober,
		policy:   policy,
		caches:   cache.NewManager(cache.ConfigFromEnv()),
		elector:  elector,
	}
	s.dispatch, err = s.buildDispatch(policy, assocStore)
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}

	extractor, err := s.principalExtractor()
	if err != nil {
		return nil, err
	}
	s.router = s.buildRouter(assocStore, extractor)
	return s, nil
}

// jobConfig maps the server configuration onto the queue settings.
func jobConfig(cfg *config.Config) *jobs.Config {
	jc := jobs.DefaultConfig()
	jc.Consumers = cfg.NConsumers
	jc.CreateProducer = cfg.CreateProducer
	jc.InMemoryWorkers = cfg.InMemoryWorkers
	jc.QueuePort = cfg.QueuePort
	if cfg.PollInterval > 0 {
		jc.PollInterval = cfg.PollInterval
	}
	if cfg.LeaseDuration > 0 {
		jc.LeaseDuration = cfg.LeaseDuration
	}
	return jc
}

// associationConfig maps the server configuration onto the federation
// settings. network_check_interval drives peer reachability probes;
// datasite_check_interval drives this site's own housekeeping sweep of
// undecided requests.
func associationConfig(cfg *config.Config) *associations.Config {
	ac := associations.DefaultConfig()
	ac.LocalName = cfg.Name
	ac.LocalURL = cfg.PublicURL
	ac.AutoApprove = cfg.AutoApproveAssoc
	ac.Timeout = cfg.AssociationTimeout
	if cfg.NetworkCheckInterval > 0 {
		ac.ProbeInterval = cfg.NetworkCheckInterval
	}
	if cfg.DatasiteCheckInterval > 0 {
		ac.SweepInterval = cfg.DatasiteCheckInterval
	}
	return ac
}

// buildBlobStore creates the payload store. Small payloads stay inline in
// memory; large ones go to the filesystem store when blob storage is on.
func buildBlobStore(cfg *config.Config) (blob.Store, error) {
	inline := blob.NewMemoryStore()
	if !cfg.UseBlobStorage {
		return blob.NewSizeRouter(inline, inline, 0, false), nil
	}
	backing, err := blob.NewFSStore(cfg.BlobRoot)
	if err != nil {
		return nil, fmt.Errorf("open blob store at %s: %w", cfg.BlobRoot, err)
	}
	minBytes := int64(cfg.MinSizeBlobStorageMB) * 1024 * 1024
	return blob.NewSizeRouter(inline, backing, minBytes, true), nil
}

func (s *Server) principalExtractor() (authz.PrincipalExtractor, error) {
	switch s.cfg.AuthMode {
	case "jwt":
		return authz.NewJWTExtractor(authz.JWTExtractorConfig{
			RoleClaim:     s.cfg.JWTRoleClaim,
			PublicKeyPath: s.cfg.JWTPublicKeyPath,
			Issuer:        s.cfg.JWTIssuer,
			Audience:      s.cfg.JWTAudience,
			Logger:        s.logger,
		})
	default:
		return authz.HeaderExtractor, nil
	}
}

func (s *Server) buildRouter(assocStore *associations.AssociationStore, extractor authz.PrincipalExtractor) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", authz.UserHeader, authz.RoleHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(authz.PrincipalMiddleware(extractor))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		api.Mount("/datasets/v1", datasets.Router(s.registry, s.caches.MockMiddleware()))
		api.Mount("/jobs/v1", jobs.Router(s.jobStore, s.auditor, s.cfg.CreateProducer))
		api.Mount("/federation/v1/associations", associations.Router(s.manager, assocStore))
		api.Mount("/services/v1", dispatch.Router(s.dispatch, s.caches.MethodsMiddleware()))
		api.Mount("/audit/v1", audit.Router(s.auditor))
	})

	return r
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() chi.Router { return s.router }

// Run starts the background loops: worker pool, federation prober, audit
// retention, and the method policy watcher. Worker and watcher loops run on
// every replica; the prober and retention sweeps are singletons gated by
// leader election (a single-replica deployment is simply always the
// leader). Run blocks until ctx is cancelled and all loops have drained.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if s.cfg.InMemoryWorkers && s.cfg.NConsumers > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pool.Run(ctx)
		}()
	} else {
		s.logger.Info("in-process workers disabled",
			"inmemoryWorkers", s.cfg.InMemoryWorkers, "consumers", s.cfg.NConsumers)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.policy.Watch(ctx); err != nil {
			s.logger.Error("method policy watcher stopped", "error", err)
		}
	}()

	s.elector.OnStartLeading(func(leaderCtx context.Context) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.prober.Run(leaderCtx, s.manager)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.auditor.RetentionLoop(leaderCtx, s.cfg.AuditRetentionDays)
		}()
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.elector.Run(ctx)
	}()

	wg.Wait()
}
