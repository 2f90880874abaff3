// Package audit records privileged datasite operations (dataset publication,
// job submission, association decisions) to a durable trail.
package audit

import "time"

// Outcome classifies how an audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Event is the GORM model for a single audit record.
type Event struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Actor     string    `gorm:"column:actor;index:idx_audit_actor;not null"`
	Role      string    `gorm:"column:role"`
	Action    string    `gorm:"column:action;index:idx_audit_action;not null"`
	Resource  string    `gorm:"column:resource"`
	Outcome   Outcome   `gorm:"column:outcome;not null"`
	Detail    string    `gorm:"column:detail"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_audit_created"`
}

// TableName returns the GORM table name.
func (Event) TableName() string { return "audit_events" }
