// Package associations manages federation between datasites: the
// association/approval handshake, periodic liveness probing of approved
// peers, and expiry of unresponsive or undecided associations.
package associations

import "time"

// State is the lifecycle state of an association with a peer datasite.
type State string

const (
	StateRequested       State = "requested"        // initiator sent the handshake
	StatePendingApproval State = "pending_approval" // responder received it, awaiting decision
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateExpired         State = "expired"
)

// legalTransitions is the only reachable transition graph. Everything else
// is rejected with ErrInvalidTransition.
var legalTransitions = map[State][]State{
	StateRequested:       {StatePendingApproval, StateRejected},
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StateExpired},
}

// CanTransition reports whether from→to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true when no further transition is possible.
func (s State) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// Association is the GORM model for one ordered pair (this datasite, remote
// peer). Only the association manager mutates it, through the store's
// compare-and-set transitions.
type Association struct {
	ID           string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	RemoteName   string     `gorm:"column:remote_name;not null"`
	RemoteURL    string     `gorm:"column:remote_url;uniqueIndex:idx_assoc_remote;not null"`
	Initiated    bool       `gorm:"column:initiated;default:false"` // true when this side sent the handshake
	State        State      `gorm:"column:state;index:idx_assoc_state;not null;default:requested"`
	RequestedBy  string     `gorm:"column:requested_by"`
	DecidedBy    string     `gorm:"column:decided_by"`
	LastSeen     *time.Time `gorm:"column:last_seen"`
	MissedProbes int        `gorm:"column:missed_probes;default:0"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DecidedAt    *time.Time `gorm:"column:decided_at"`
}

// TableName returns the GORM table name.
func (Association) TableName() string { return "associations" }
