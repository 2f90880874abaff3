// Package datasets implements the dataset registry: datasets published as
// ordered private/mock asset pairs, with data-subject annotations. Private
// payloads never leave the registry except through the job worker's
// execution context.
package datasets

import "time"

// Dataset is the GORM model for a published dataset.
type Dataset struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name        string    `gorm:"column:name;uniqueIndex:idx_dataset_name;not null"`
	Summary     string    `gorm:"column:summary"`
	Description string    `gorm:"column:description"`
	Owner       string    `gorm:"column:owner;not null"`
	Assets      []Asset   `gorm:"foreignKey:DatasetID;references:ID"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (Dataset) TableName() string { return "datasets" }

// Asset is the GORM model for a single asset within a dataset. PrivateRef
// and MockRef are opaque blob handles; NoMock marks an explicit exemption
// from the mock-presence invariant.
type Asset struct {
	ID         string        `gorm:"primaryKey;column:id;type:varchar(36)"`
	DatasetID  string        `gorm:"column:dataset_id;index:idx_asset_dataset;not null"`
	Name       string        `gorm:"column:name;not null"`
	Position   int           `gorm:"column:position;not null"`
	PrivateRef string        `gorm:"column:private_ref"`
	MockRef    string        `gorm:"column:mock_ref"`
	NoMock     bool          `gorm:"column:no_mock;default:false"`
	Subjects   []DataSubject `gorm:"foreignKey:AssetID;references:ID"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (Asset) TableName() string { return "assets" }

// DataSubject annotates an asset with the entity the data is about.
// Pure metadata, no enforcement.
type DataSubject struct {
	ID      string `gorm:"primaryKey;column:id;type:varchar(36)"`
	AssetID string `gorm:"column:asset_id;index:idx_subject_asset;not null"`
	Name    string `gorm:"column:name;not null"`
	Aliases string `gorm:"column:aliases"` // comma-separated
}

// TableName returns the GORM table name.
func (DataSubject) TableName() string { return "data_subjects" }

// DatasetInput describes a dataset to publish.
type DatasetInput struct {
	Name        string       `json:"name"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Assets      []AssetInput `json:"assets"`
}

// AssetInput carries one asset's payloads. Mock may be empty only when
// NoMock is set or the private payload is empty too.
type AssetInput struct {
	Name     string         `json:"name"`
	Private  []byte         `json:"private,omitempty"`
	Mock     []byte         `json:"mock,omitempty"`
	NoMock   bool           `json:"noMock,omitempty"`
	Subjects []SubjectInput `json:"subjects,omitempty"`
}

// SubjectInput annotates an asset with a data subject.
type SubjectInput struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// MetadataUpdate carries the owner-editable dataset fields. Nil fields are
// left unchanged.
type MetadataUpdate struct {
	Summary     *string `json:"summary,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Page is one page of a deterministic dataset listing.
type Page struct {
	Items     []Dataset `json:"items"`
	Total     int       `json:"total"`
	PageSize  int       `json:"pageSize"`
	PageIndex int       `json:"pageIndex"`
	HasMore   bool      `json:"hasMore"`
}
