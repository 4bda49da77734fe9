package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobPending    string = "PENDING"
	JobInProgress string = "IN_PROGRESS"
	JobCompleted  string = "COMPLETED"
	JobFailed     string = "FAILED"
)

type ImportJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status string `gorm:"size:20;not null"`

	// Key of the uploaded table in the object store, plus the filename the
	// caller uploaded it under.
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
	JobId uuid.UUID `gorm:"type:uuid;primaryKey"`

	// Position of the row in the input table. Exports preserve this order.
	Position int `gorm:"primaryKey"`

	SerialNumber string `gorm:"not null"`
	ProductName  string `gorm:"not null"`

	// Comma-joined lists, matching the wire format of the input column.
	// OutputImageKeys/OutputImageURLs only contain entries for images that
	// processed successfully, so they may be shorter than InputImageURLs.
	InputImageURLs  string
	OutputImageKeys string
	OutputImageURLs string

	// Per-position outcome for every input URL, including failed ones, so an
	// output can always be traced back to its source URL position.
	// [{"url":"…","status":"ok","output_key":"…"},…]
	ImageOutcomes datatypes.JSON
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
