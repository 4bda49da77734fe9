package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"imagebatch-backend/internal/core/utils"
	"imagebatch-backend/internal/database"
	"imagebatch-backend/internal/imaging"
	"imagebatch-backend/internal/messaging"
	"imagebatch-backend/internal/parser"
	"imagebatch-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultImageConcurrency = 4

const (
	OutcomeOK             = "ok"
	OutcomeDownloadFailed = "download_failed"
	OutcomeDecodeFailed   = "decode_failed"
)

// ImageOutcome is the persisted per-position record of what happened to one
// source URL. Failed positions keep their slot here even though they produce
// no output entry.
type ImageOutcome struct {
	URL       string `json:"url"`
	Status    string `json:"status"`
	OutputKey string `json:"output_key,omitempty"`
}

// TaskProcessor drives import jobs from the queue to a terminal status. One
// processor handles one task at a time; the concurrency lives in the per-row
// image fan-out.
type TaskProcessor struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	reciever messaging.Reciever
	fetcher  *imaging.Fetcher

	imageConcurrency int
}

func NewTaskProcessor(db *gorm.DB, store storage.ObjectStore, reciever messaging.Reciever, fetcher *imaging.Fetcher, imageConcurrency int) *TaskProcessor {
	if imageConcurrency <= 0 {
		imageConcurrency = DefaultImageConcurrency
	}
	return &TaskProcessor{
		db:               db,
		storage:          store,
		reciever:         reciever,
		fetcher:          fetcher,
		imageConcurrency: imageConcurrency,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.ProcessJobQueue:
		var payload messaging.ProcessJobPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling process job task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processJobTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processJobTask(ctx context.Context, payload messaging.ProcessJobPayload) error {
	jobId := payload.JobId

	slog.Info("processing import job", "job_id", jobId)

	var job database.ImportJob
	if err := proc.db.WithContext(ctx).First(&job, "id = ?", jobId).Error; err != nil {
		slog.Error("error fetching import job", "job_id", jobId, "error", err)
		return fmt.Errorf("error getting import job: %w", err)
	}

	if job.Status == database.JobCompleted || job.Status == database.JobFailed {
		// Terminal statuses never regress, e.g. on message redelivery.
		slog.Info("job already terminal, skipping", "job_id", jobId, "status", job.Status)
		return nil
	}

	rows, err := proc.loadTable(ctx, job)
	if err != nil {
		if parser.IsValidationError(err) {
			// A rejected table is terminal for the job but the task itself is
			// handled: record the rejection and ack.
			slog.Warn("import table rejected", "job_id", jobId, "error", err)
			database.SaveJobError(ctx, proc.db, jobId, err.Error())
			return database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed)
		}
		return proc.failJob(ctx, jobId, fmt.Errorf("error reading import table: %w", err))
	}

	if err := proc.db.WithContext(ctx).Model(&database.ImportJob{Id: jobId}).Update("total_row_count", len(rows)).Error; err != nil {
		return proc.failJob(ctx, jobId, fmt.Errorf("error recording row count: %w", err))
	}

	// Persisted before any row work so a concurrent status check observes
	// progress rather than a stale PENDING.
	if err := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobInProgress); err != nil {
		return proc.failJob(ctx, jobId, err)
	}

	for position, row := range rows {
		if err := proc.processRow(ctx, jobId, position, row); err != nil {
			// Hard row errors (storage or database writes) abort the job;
			// remaining rows are not processed.
			slog.Error("row processing failed, aborting job", "job_id", jobId, "position", position, "error", err)
			return proc.failJob(ctx, jobId, fmt.Errorf("error processing row %d: %w", position, err))
		}
	}

	return database.UpdateJobStatus(ctx, proc.db, jobId, database.JobCompleted)
}

// failJob records err against the job and marks it FAILED before returning
// err. Best effort: failed messages are not redelivered, so the persisted
// status is the only trace a caller ever sees. Every hard processing error
// must come through here so the job cannot strand in a non-terminal status.
func (proc *TaskProcessor) failJob(ctx context.Context, jobId uuid.UUID, err error) error {
	database.SaveJobError(ctx, proc.db, jobId, err.Error())
	if statusErr := database.UpdateJobStatus(ctx, proc.db, jobId, database.JobFailed); statusErr != nil {
		slog.Error("error marking job failed", "job_id", jobId, "error", statusErr)
	}
	return err
}

func (proc *TaskProcessor) loadTable(ctx context.Context, job database.ImportJob) ([]parser.RawRow, error) {
	reader, err := proc.storage.GetObject(ctx, job.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("error reading uploaded table %s: %w", job.SourceKey, err)
	}
	defer reader.Close()

	return parser.Parse(job.SourceName, reader)
}

// processRow fans the row's URLs out to the image fetcher with bounded
// concurrency and persists one ProductRow, successes or not. Individual image
// failures only shrink the output list; a returned error means a storage or
// database write failed and the job must abort.
func (proc *TaskProcessor) processRow(ctx context.Context, jobId uuid.UUID, position int, row parser.RawRow) error {
	completed := utils.MapInPool(func(url string) ([]byte, error) {
		return proc.fetcher.Process(ctx, url)
	}, row.ImageURLs, proc.imageConcurrency)

	outcomes := make([]ImageOutcome, len(completed))
	var outputKeys, outputURLs []string
	failedImages := 0

	for i, result := range completed {
		outcome := ImageOutcome{URL: row.ImageURLs[i]}

		if result.Error != nil {
			slog.Warn("image processing failed", "job_id", jobId, "serial_number", row.SerialNumber, "url", row.ImageURLs[i], "error", result.Error)
			outcome.Status = outcomeStatus(result.Error)
			failedImages++
		} else {
			key := fmt.Sprintf("processed/%s/%s_%s.jpg", jobId, sanitizeName(row.ProductName), uuid.New())
			if err := proc.storage.PutObject(ctx, key, bytes.NewReader(result.Result)); err != nil {
				return fmt.Errorf("error storing processed image: %w", err)
			}
			outcome.Status = OutcomeOK
			outcome.OutputKey = key
			outputKeys = append(outputKeys, key)
			outputURLs = append(outputURLs, storage.FileURL(key))
		}

		outcomes[i] = outcome
	}

	outcomesJSON, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("error marshalling image outcomes: %w", err)
	}

	productRow := database.ProductRow{
		JobId:           jobId,
		Position:        position,
		SerialNumber:    row.SerialNumber,
		ProductName:     row.ProductName,
		InputImageURLs:  strings.Join(row.ImageURLs, ","),
		OutputImageKeys: strings.Join(outputKeys, ","),
		OutputImageURLs: strings.Join(outputURLs, ","),
		ImageOutcomes:   outcomesJSON,
	}

	if err := proc.db.WithContext(ctx).Create(&productRow).Error; err != nil {
		return fmt.Errorf("error persisting row result: %w", err)
	}

	return database.IncrementJobCounters(ctx, proc.db, jobId, failedImages)
}

func outcomeStatus(err error) string {
	if errors.Is(err, imaging.ErrDecodeFailed) {
		return OutcomeDecodeFailed
	}
	return OutcomeDownloadFailed
}

var unsafeNameChars = regexp.MustCompile(`[^\w.-]+`)

func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}
