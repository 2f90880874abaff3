package datasets

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Store provides database operations for datasets, assets, and subjects.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new dataset Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the registry tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Dataset{}, &Asset{}, &DataSubject{}); err != nil {
		return fmt.Errorf("auto-migrate datasets: %w", err)
	}
	return nil
}

// Create persists a dataset and all of its assets and subjects in one
// transaction, so a partial dataset is never visible.
func (s *Store) Create(ds *Dataset) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ds).Error; err != nil {
			return fmt.Errorf("create dataset: %w", err)
		}
		return nil
	})
}

// Get retrieves a dataset by id with its assets and subjects.
// Returns ErrNotFound if no such dataset exists.
func (s *Store) Get(id string) (*Dataset, error) {
	var ds Dataset
	err := s.db.Preload("Assets", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Preload("Assets.Subjects").First(&ds, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &ds, nil
}

// GetAsset retrieves a single asset by id.
func (s *Store) GetAsset(id string) (*Asset, error) {
	var asset Asset
	if err := s.db.Preload("Subjects").First(&asset, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &asset, nil
}

// List returns a page of all datasets ordered by name, id tie-break.
func (s *Store) List(pageSize, pageIndex int) (*Page, error) {
	return s.page(s.db.Model(&Dataset{}), pageSize, pageIndex)
}

// Search returns a page of datasets whose name or summary contains the query,
// case-insensitively. Ordering is deterministic (name ASC, id tie-break), so
// repeated calls with the same arguments return the same page.
func (s *Store) Search(query string, pageSize, pageIndex int) (*Page, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	q := s.db.Model(&Dataset{}).
		Where("lower(name) LIKE ? OR lower(summary) LIKE ?", pattern, pattern)
	return s.page(q, pageSize, pageIndex)
}

func (s *Store) page(q *gorm.DB, pageSize, pageIndex int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if pageIndex < 0 {
		pageIndex = 0
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count datasets: %w", err)
	}

	var items []Dataset
	err := q.Session(&gorm.Session{}).
		Preload("Assets", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Assets.Subjects").
		Order("name ASC, id ASC").
		Limit(pageSize).
		Offset(pageIndex * pageSize).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	return &Page{
		Items:     items,
		Total:     int(total),
		PageSize:  pageSize,
		PageIndex: pageIndex,
		HasMore:   (pageIndex+1)*pageSize < int(total),
	}, nil
}

// UpdateMetadata applies an owner's metadata edit. Only summary and
// description are mutable after publication.
func (s *Store) UpdateMetadata(id string, update MetadataUpdate) error {
	fields := map[string]any{}
	if update.Summary != nil {
		fields["summary"] = *update.Summary
	}
	if update.Description != nil {
		fields["description"] = *update.Description
	}
	if len(fields) == 0 {
		return nil
	}
	result := s.db.Model(&Dataset{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update dataset metadata: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
