package database_test

import (
	"context"
	"testing"
	"time"

	"imagebatch-backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func createJob(t *testing.T, db *gorm.DB, status string) uuid.UUID {
	job := database.ImportJob{
		Id:           uuid.New(),
		Status:       status,
		SourceKey:    "uploads/test/products.csv",
		SourceName:   "products.csv",
		CreationTime: time.Now().UTC(),
	}
	require.NoError(t, db.Create(&job).Error)
	return job.Id
}

func TestUpdateJobStatus(t *testing.T) {
	db := createDB(t)
	jobId := createJob(t, db, database.JobPending)

	require.NoError(t, database.UpdateJobStatus(context.Background(), db, jobId, database.JobInProgress))

	var job database.ImportJob
	require.NoError(t, db.First(&job, "id = ?", jobId).Error)
	assert.Equal(t, database.JobInProgress, job.Status)
	assert.False(t, job.CompletionTime.Valid)

	require.NoError(t, database.UpdateJobStatus(context.Background(), db, jobId, database.JobCompleted))

	require.NoError(t, db.First(&job, "id = ?", jobId).Error)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.True(t, job.CompletionTime.Valid)
}

func TestIncrementJobCounters(t *testing.T) {
	db := createDB(t)
	jobId := createJob(t, db, database.JobInProgress)

	require.NoError(t, database.IncrementJobCounters(context.Background(), db, jobId, 0))
	require.NoError(t, database.IncrementJobCounters(context.Background(), db, jobId, 3))

	var job database.ImportJob
	require.NoError(t, db.First(&job, "id = ?", jobId).Error)
	assert.Equal(t, 2, job.ProcessedRowCount)
	assert.Equal(t, 3, job.FailedImageCount)
}

func TestSaveJobError(t *testing.T) {
	db := createDB(t)
	jobId := createJob(t, db, database.JobPending)

	database.SaveJobError(context.Background(), db, jobId, "first problem")
	database.SaveJobError(context.Background(), db, jobId, "second problem")

	var recorded []database.JobError
	require.NoError(t, db.Where("job_id = ?", jobId).Find(&recorded).Error)
	require.Len(t, recorded, 2)
	assert.NotEqual(t, recorded[0].ErrorId, recorded[1].ErrorId)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := createDB(t)

	// Migrating an already-migrated database is a no-op and data survives.
	jobId := createJob(t, db, database.JobCompleted)
	require.NoError(t, database.GetMigrator(db).Migrate())

	var job database.ImportJob
	require.NoError(t, db.First(&job, "id = ?", jobId).Error)
	assert.Equal(t, database.JobCompleted, job.Status)
}
