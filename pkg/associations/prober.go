package associations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Prober periodically checks the reachability of approved peers. A probe
// failure increments the association's consecutive-miss counter; once the
// tolerance is exceeded the association expires and stays expired until a
// fresh handshake re-establishes it.
type Prober struct {
	store  *AssociationStore
	client PeerClient
	cfg    *Config
	logger *slog.Logger

	// inFlight guards against overlapping probes of the same association
	// when one probe outlives the tick interval.
	inFlight mapset.Set[string]
}

// NewProber creates a prober over the given store and peer client.
func NewProber(store *AssociationStore, client PeerClient, cfg *Config, logger *slog.Logger) *Prober {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		store:    store,
		client:   client,
		cfg:      cfg,
		logger:   logger,
		inFlight: mapset.NewSet[string](),
	}
}

// Run probes approved associations on the probe interval until the context
// is cancelled. A second ticker sweeps undecided associations past the
// timeout on its own interval.
func (p *Prober) Run(ctx context.Context, manager *Manager) {
	probeTicker := time.NewTicker(p.cfg.ProbeInterval)
	defer probeTicker.Stop()
	sweepTicker := time.NewTicker(p.cfg.SweepInterval)
	defer sweepTicker.Stop()

	p.logger.Info("association prober started",
		"probeInterval", p.cfg.ProbeInterval, "sweepInterval", p.cfg.SweepInterval)

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			p.logger.Info("association prober stopped")
			return
		case <-sweepTicker.C:
			if manager != nil {
				manager.SweepStale()
			}
		case <-probeTicker.C:
			p.probeAll(ctx, &wg)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context, wg *sync.WaitGroup) {
	approved, err := p.store.List(StateApproved)
	if err != nil {
		p.logger.Error("listing approved associations failed", "error", err)
		return
	}
	for _, assoc := range approved {
		if !p.inFlight.Add(assoc.ID) {
			continue // previous probe still running
		}
		wg.Add(1)
		go func(assoc Association) {
			defer wg.Done()
			defer p.inFlight.Remove(assoc.ID)
			p.ProbeOne(ctx, &assoc)
		}(assoc)
	}
}

// ProbeOne checks a single approved association, retrying with bounded
// exponential backoff before counting a miss.
func (p *Prober) ProbeOne(ctx context.Context, assoc *Association) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.HandshakeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(p.cfg.BackoffBase, p.cfg.BackoffMax, attempt)):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		lastErr = p.client.Ping(attemptCtx, assoc.RemoteURL)
		cancel()
		if lastErr == nil {
			if err := p.store.ProbeSuccess(assoc.ID); err != nil {
				p.logger.Error("recording probe success failed", "id", assoc.ID, "error", err)
			}
			return
		}
	}

	missed, err := p.store.ProbeFailure(assoc.ID)
	if err != nil {
		// The association may have been expired or re-decided concurrently.
		p.logger.Warn("recording probe failure failed", "id", assoc.ID, "error", err)
		return
	}
	p.logger.Warn("association probe failed",
		"remote", assoc.RemoteURL, "missed", missed, "error", lastErr)

	if missed >= p.cfg.MissedProbeTolerance {
		if err := p.store.Transition(assoc.ID, StateApproved, StateExpired, "system:prober"); err != nil {
			p.logger.Error("expiring association failed", "id", assoc.ID, "error", err)
			return
		}
		p.logger.Warn("association expired after missed probes",
			"remote", assoc.RemoteURL, "missed", missed)
	}
}
