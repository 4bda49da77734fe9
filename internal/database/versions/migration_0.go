package versions

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot of the schema at migration 0. These types are intentionally frozen
// copies so later changes to the live schema do not rewrite history.

type ImportJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status string `gorm:"size:20;not null"`

	SourceKey  string `gorm:"not null"`
	SourceName string

	CreationTime   time.Time
	CompletionTime sql.NullTime

	TotalRowCount     int `gorm:"default:0"`
	ProcessedRowCount int `gorm:"default:0"`
	FailedImageCount  int `gorm:"default:0"`

	Rows   []ProductRow `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Errors []JobError   `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type ProductRow struct {
	JobId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Position int       `gorm:"primaryKey"`

	SerialNumber string `gorm:"not null"`
	ProductName  string `gorm:"not null"`

	InputImageURLs  string
	OutputImageKeys string
	OutputImageURLs string

	ImageOutcomes datatypes.JSON
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

func Migration(txn *gorm.DB) error {
	return txn.AutoMigrate(&ImportJob{}, &ProductRow{}, &JobError{})
}
