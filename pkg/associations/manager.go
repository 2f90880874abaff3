package associations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datasite-dev/datasite/pkg/audit"
	"github.com/datasite-dev/datasite/pkg/authz"
)

// Config holds the association manager and prober settings.
type Config struct {
	// LocalName and LocalURL identify this datasite in outgoing handshakes.
	LocalName string
	LocalURL  string

	// AutoApprove approves incoming association requests without a human
	// decision.
	AutoApprove bool

	// Timeout rejects associations that sit undecided longer than this.
	Timeout time.Duration

	// ProbeInterval is the cadence of reachability probes for approved
	// associations.
	ProbeInterval time.Duration

	// SweepInterval is the cadence of the timeout sweep over undecided
	// associations.
	SweepInterval time.Duration

	// ProbeTimeout bounds a single probe attempt.
	ProbeTimeout time.Duration

	// MissedProbeTolerance is how many consecutive failed probes an approved
	// association survives before it expires.
	MissedProbeTolerance int

	// HandshakeAttempts bounds delivery retries for an outgoing handshake.
	HandshakeAttempts int

	// BackoffBase and BackoffMax shape the exponential retry backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the association defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoApprove:          false,
		Timeout:              24 * time.Hour,
		ProbeInterval:        time.Minute,
		SweepInterval:        time.Minute,
		ProbeTimeout:         10 * time.Second,
		MissedProbeTolerance: 3,
		HandshakeAttempts:    3,
		BackoffBase:          500 * time.Millisecond,
		BackoffMax:           10 * time.Second,
	}
}

// Manager drives the association lifecycle: outgoing requests, incoming
// handshakes, approval decisions, and timeout sweeps.
type Manager struct {
	store   *AssociationStore
	client  PeerClient
	auditor *audit.Store
	cfg     *Config
	logger  *slog.Logger
}

// NewManager creates an association manager.
func NewManager(store *AssociationStore, client PeerClient, auditor *audit.Store, cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, client: client, auditor: auditor, cfg: cfg, logger: logger}
}

// Request initiates an association with a remote datasite. The record is
// created in the requested state before delivery is attempted, so an
// unreachable peer leaves a visible requested row that the timeout sweep
// eventually rejects. Delivery retries with bounded exponential backoff;
// on success the association moves to pending_approval on this side too.
func (m *Manager) Request(ctx context.Context, p authz.Principal, remoteName, remoteURL string) (*Association, error) {
	assoc, err := m.store.Create(remoteName, remoteURL, p.User, true, StateRequested)
	if err != nil {
		return nil, err
	}

	if err := m.deliverHandshake(ctx, remoteURL); err != nil {
		m.logger.Warn("association handshake undeliverable",
			"remote", remoteURL, "error", err)
		m.auditor.Record(p.User, string(p.Role), "association.request", assoc.ID,
			audit.OutcomeError, "peer unreachable")
		return assoc, fmt.Errorf("handshake with %s: %w", remoteURL, ErrPeerUnreachable)
	}

	if err := m.store.Transition(assoc.ID, StateRequested, StatePendingApproval, ""); err != nil {
		return nil, err
	}
	m.auditor.Record(p.User, string(p.Role), "association.request", assoc.ID,
		audit.OutcomeSuccess, remoteURL)
	m.logger.Info("association requested", "remote", remoteURL, "id", assoc.ID)
	return m.store.Get(assoc.ID)
}

func (m *Manager) deliverHandshake(ctx context.Context, remoteURL string) error {
	var lastErr error
	for attempt := 0; attempt < m.cfg.HandshakeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(m.cfg.BackoffBase, m.cfg.BackoffMax, attempt)):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		lastErr = m.client.Handshake(attemptCtx, remoteURL, m.cfg.LocalName, m.cfg.LocalURL)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// backoff returns the exponential delay for the given retry attempt, capped
// at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Receive handles an incoming handshake from a remote datasite. The
// association lands in pending_approval; when auto-approval is on it is
// approved in the same call, with the decision attributed to the system.
func (m *Manager) Receive(ctx context.Context, req HandshakeRequest) (*Association, error) {
	if req.Name == "" || req.URL == "" {
		return nil, fmt.Errorf("handshake requires peer name and url")
	}

	assoc, err := m.store.Create(req.Name, req.URL, "peer:"+req.Name, false, StatePendingApproval)
	if err != nil {
		return nil, err
	}
	m.logger.Info("association request received", "remote", req.URL, "id", assoc.ID)

	if m.cfg.AutoApprove {
		if err := m.store.Transition(assoc.ID, StatePendingApproval, StateApproved, "system:auto-approval"); err != nil {
			return nil, err
		}
		m.auditor.Record("system:auto-approval", string(authz.RoleAdmin),
			"association.decide", assoc.ID, audit.OutcomeSuccess, "auto-approved")
		m.logger.Info("association auto-approved", "remote", req.URL, "id", assoc.ID)
	}
	return m.store.Get(assoc.ID)
}

// Decide resolves a pending association. Approvals and rejections are
// audited with the deciding principal.
func (m *Manager) Decide(ctx context.Context, p authz.Principal, id string, approve bool) (*Association, error) {
	to := StateRejected
	if approve {
		to = StateApproved
	}
	if err := m.store.Transition(id, StatePendingApproval, to, p.User); err != nil {
		m.auditor.Record(p.User, string(p.Role), "association.decide", id,
			audit.OutcomeError, err.Error())
		return nil, err
	}
	m.auditor.Record(p.User, string(p.Role), "association.decide", id,
		audit.OutcomeSuccess, string(to))
	m.logger.Info("association decided", "id", id, "state", to, "by", p.User)
	return m.store.Get(id)
}

// SweepStale rejects associations older than the configured timeout that
// never received a decision.
func (m *Manager) SweepStale() {
	rejected, err := m.store.RejectStale(m.cfg.Timeout)
	if err != nil {
		m.logger.Error("association timeout sweep failed", "error", err)
		return
	}
	if rejected > 0 {
		m.logger.Info("rejected stale associations", "count", rejected)
	}
}
