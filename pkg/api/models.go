// Package api holds the request/response shapes of the HTTP surface.
package api

import (
	"time"

	"github.com/google/uuid"
)

type SubmitJobResponse struct {
	JobId uuid.UUID `json:"job_id"`
}

type JobStatusResponse struct {
	JobId  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

type Job struct {
	JobId             uuid.UUID  `json:"job_id"`
	Status            string     `json:"status"`
	SourceName        string     `json:"source_name"`
	CreationTime      time.Time  `json:"creation_time"`
	CompletionTime    *time.Time `json:"completion_time,omitempty"`
	TotalRowCount     int        `json:"total_row_count"`
	ProcessedRowCount int        `json:"processed_row_count"`
	FailedImageCount  int        `json:"failed_image_count"`
	Errors            []string   `json:"errors,omitempty"`
}

type ListJobsRequest struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

type ExportRequest struct {
	Format string `schema:"format"`
}

type ExportResponse struct {
	ReportPath string `json:"report_path"`
}
