package associations

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssociationStore persists associations. All state changes go through
// compare-and-set updates so concurrent deciders, probers, and timeout
// sweeps cannot produce illegal transitions.
type AssociationStore struct {
	db *gorm.DB
}

// NewAssociationStore creates a store backed by db.
func NewAssociationStore(db *gorm.DB) *AssociationStore {
	return &AssociationStore{db: db}
}

// Create inserts a new association with the given initial state. A live
// (non-terminal, non-rejected) association with the same remote URL blocks
// creation; terminal rows are superseded in place so a fresh handshake can
// restart an expired or rejected peering.
func (s *AssociationStore) Create(remoteName, remoteURL, requestedBy string, initiated bool, state State) (*Association, error) {
	assoc := &Association{
		ID:          uuid.NewString(),
		RemoteName:  remoteName,
		RemoteURL:   remoteURL,
		Initiated:   initiated,
		State:       state,
		RequestedBy: requestedBy,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing Association
		err := tx.Where("remote_url = ?", remoteURL).First(&existing).Error
		if err == nil {
			if !existing.State.IsTerminal() {
				return ErrAlreadyAssociated
			}
			// Reuse the row for the new handshake attempt.
			assoc.ID = existing.ID
			return tx.Model(&Association{}).Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"remote_name":   remoteName,
					"initiated":     initiated,
					"state":         state,
					"requested_by":  requestedBy,
					"decided_by":    "",
					"decided_at":    nil,
					"last_seen":     nil,
					"missed_probes": 0,
				}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(assoc).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(assoc.ID)
}

// Get returns the association by id.
func (s *AssociationStore) Get(id string) (*Association, error) {
	var assoc Association
	if err := s.db.Where("id = ?", id).First(&assoc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &assoc, nil
}

// GetByRemote returns the association for a remote datasite URL.
func (s *AssociationStore) GetByRemote(remoteURL string) (*Association, error) {
	var assoc Association
	if err := s.db.Where("remote_url = ?", remoteURL).First(&assoc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &assoc, nil
}

// List returns associations, newest first, optionally filtered by state.
func (s *AssociationStore) List(state State) ([]Association, error) {
	query := s.db.Order("created_at DESC, id DESC")
	if state != "" {
		query = query.Where("state = ?", state)
	}
	var records []Association
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Transition moves the association from one state to another. The from state
// is part of the WHERE clause, so a row that moved concurrently yields
// ErrConflict rather than a lost or illegal update.
func (s *AssociationStore) Transition(id string, from, to State, decidedBy string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	updates := map[string]interface{}{"state": to}
	if to == StateApproved || to == StateRejected {
		now := time.Now()
		updates["decided_at"] = &now
		updates["decided_by"] = decidedBy
	}

	result := s.db.Model(&Association{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// ProbeSuccess records a successful reachability probe: refresh last_seen
// and reset the consecutive-miss counter.
func (s *AssociationStore) ProbeSuccess(id string) error {
	now := time.Now()
	return s.db.Model(&Association{}).
		Where("id = ? AND state = ?", id, StateApproved).
		Updates(map[string]interface{}{"last_seen": &now, "missed_probes": 0}).Error
}

// ProbeFailure increments the consecutive-miss counter and returns the new
// value. Only approved associations are tracked.
func (s *AssociationStore) ProbeFailure(id string) (int, error) {
	var missed int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Association{}).
			Where("id = ? AND state = ?", id, StateApproved).
			Update("missed_probes", gorm.Expr("missed_probes + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}
		var assoc Association
		if err := tx.Where("id = ?", id).First(&assoc).Error; err != nil {
			return err
		}
		missed = assoc.MissedProbes
		return nil
	})
	return missed, err
}

// RejectStale rejects associations that sat undecided longer than timeout.
// Both requested and pending_approval rows are swept. Returns the number of
// associations rejected.
func (s *AssociationStore) RejectStale(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	now := time.Now()
	result := s.db.Model(&Association{}).
		Where("state IN ? AND created_at < ?", []State{StateRequested, StatePendingApproval}, cutoff).
		Updates(map[string]interface{}{
			"state":      StateRejected,
			"decided_by": "system:timeout",
			"decided_at": &now,
		})
	return result.RowsAffected, result.Error
}
