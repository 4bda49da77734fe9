package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&ImportJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return fmt.Errorf("error updating job status: %w", err)
	}
	return nil
}

func IncrementJobCounters(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, failedImages int) error {
	updates := map[string]any{
		"processed_row_count": gorm.Expr("processed_row_count + ?", 1),
	}
	if failedImages > 0 {
		updates["failed_image_count"] = gorm.Expr("failed_image_count + ?", failedImages)
	}

	if err := txn.WithContext(ctx).Model(&ImportJob{}).Where("id = ?", jobId).Updates(updates).Error; err != nil {
		slog.Error("could not increment job counters", "job_id", jobId, "error", err)
		return fmt.Errorf("could not increment job counters: %w", err)
	}
	return nil
}

// SaveJobError records a failure against the job for later inspection. It is
// best-effort: a failure to write the error record is logged, not surfaced.
func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, errorMessage string) {
	jobError := JobError{
		JobId:     jobId,
		ErrorId:   uuid.New(),
		Error:     errorMessage,
		Timestamp: time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&jobError).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
	}
}
