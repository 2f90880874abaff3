package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides database operations for audit events.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore creates a new audit Store.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates or updates the audit_events table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

// Record persists an audit event. Audit failures are logged, never returned:
// an unavailable trail must not block the audited operation itself.
func (s *Store) Record(actor, role, action, resource string, outcome Outcome, detail string) {
	ev := Event{
		ID:       uuid.New().String(),
		Actor:    actor,
		Role:     role,
		Action:   action,
		Resource: resource,
		Outcome:  outcome,
		Detail:   detail,
	}
	if err := s.db.Create(&ev).Error; err != nil {
		s.logger.Error("failed to record audit event",
			"action", action, "actor", actor, "error", err)
	}
}

// ListFilter restricts which audit events List returns.
type ListFilter struct {
	Actor  string
	Action string
}

// List returns paginated audit events, newest first. The page token is the
// created_at timestamp of the last returned event.
func (s *Store) List(filter ListFilter, pageSize int, pageToken string) ([]Event, string, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := s.db.Model(&Event{}).Order("created_at DESC").Limit(pageSize + 1)
	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t)
	}

	var events []Event
	if err := query.Find(&events).Error; err != nil {
		return nil, "", fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(events) > pageSize {
		nextToken = events[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		events = events[:pageSize]
	}
	return events, nextToken, nil
}

// DeleteOlderThan removes audit events older than the cutoff.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RetentionLoop periodically deletes events older than retentionDays.
// It blocks until the context is cancelled.
func (s *Store) RetentionLoop(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			deleted, err := s.DeleteOlderThan(cutoff)
			if err != nil {
				s.logger.Error("audit retention cleanup failed", "error", err)
			} else if deleted > 0 {
				s.logger.Info("audit retention cleanup", "deleted", deleted)
			}
		}
	}
}
