package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"imagebatch-backend/internal/core"
	"imagebatch-backend/internal/database"
	"imagebatch-backend/internal/messaging"
	"imagebatch-backend/internal/storage"
	"imagebatch-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxUploadBytes = 32 << 20

type BackendService struct {
	db        *gorm.DB
	storage   storage.ObjectStore
	publisher messaging.Publisher
	exporter  *core.Exporter
}

func NewBackendService(db *gorm.DB, store storage.ObjectStore, publisher messaging.Publisher) *BackendService {
	return &BackendService{
		db:        db,
		storage:   store,
		publisher: publisher,
		exporter:  core.NewExporter(db, store),
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitJob))
		r.Get("/", RestHandler(s.ListJobs))
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetJob))
			r.Get("/status", RestHandler(s.GetJobStatus))
			r.Get("/export", RestHandler(s.ExportJob))
		})
	})
	r.Get("/files/*", s.ServeFile)
}

// SubmitJob accepts a multipart table upload and returns the job id
// immediately. Processing happens on the queue consumer; failures to hand the
// job off are captured into the job's status rather than surfaced here, so a
// caller that got an id back can always query it.
func (s *BackendService) SubmitJob(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart upload: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'file' upload field")
	}
	defer file.Close()

	ctx := r.Context()

	sourceName := filepath.Base(header.Filename)
	if sourceName == "" || sourceName == "." {
		sourceName = "upload.csv"
	}

	jobId := uuid.New()
	job := database.ImportJob{
		Id:           jobId,
		Status:       database.JobPending,
		SourceKey:    fmt.Sprintf("uploads/%s/%s", jobId, sourceName),
		SourceName:   sourceName,
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating import job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if err := s.storage.PutObject(ctx, job.SourceKey, file); err != nil {
		slog.Error("error storing uploaded table", "job_id", job.Id, "error", err)
		s.failJobAtIntake(r, job.Id, fmt.Sprintf("failed to store uploaded table: %v", err))
		return api.SubmitJobResponse{JobId: job.Id}, nil
	}

	if err := s.publisher.PublishProcessJobTask(ctx, messaging.ProcessJobPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing process job task", "job_id", job.Id, "error", err)
		s.failJobAtIntake(r, job.Id, fmt.Sprintf("failed to queue job: %v", err))
		return api.SubmitJobResponse{JobId: job.Id}, nil
	}

	slog.Info("submitted import job", "job_id", job.Id, "source_name", sourceName)
	return api.SubmitJobResponse{JobId: job.Id}, nil
}

func (s *BackendService) failJobAtIntake(r *http.Request, jobId uuid.UUID, message string) {
	ctx := r.Context()
	database.SaveJobError(ctx, s.db, jobId, message)
	if err := database.UpdateJobStatus(ctx, s.db, jobId, database.JobFailed); err != nil {
		slog.Error("error marking job failed at intake", "job_id", jobId, "error", err)
	}
}

func (s *BackendService) GetJobStatus(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.ImportJob
	if err := s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return api.JobStatusResponse{JobId: job.Id, Status: job.Status}, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.ImportJob
	if err := s.db.WithContext(r.Context()).Preload("Errors").First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return convertJob(job), nil
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	req, err := ParseRequestQueryParams[api.ListJobsRequest](r)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := s.db.WithContext(r.Context()).Order("creation_time desc").Limit(limit)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var jobs []database.ImportJob
	if err := query.Find(&jobs).Error; err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing jobs")
	}

	result := make([]api.Job, len(jobs))
	for i, job := range jobs {
		result[i] = convertJob(job)
	}
	return result, nil
}

func (s *BackendService) ExportJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequestQueryParams[api.ExportRequest](r)
	if err != nil {
		return nil, err
	}

	format, err := core.ParseExportFormat(req.Format)
	if err != nil {
		return nil, CodedError(http.StatusBadRequest, err)
	}

	reportPath, err := s.exporter.Export(r.Context(), jobId, format)
	if err != nil {
		if errors.Is(err, core.ErrNoRowsToExport) {
			return nil, CodedErrorf(http.StatusNotFound, "no processed rows found for job")
		}
		slog.Error("error exporting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error generating export")
	}

	return api.ExportResponse{ReportPath: reportPath}, nil
}

// ServeFile streams an object (uploaded table, processed image, or export
// report) back by its key.
func (s *BackendService) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		// Rejects empty, absolute, and ".." keys so a request path can never
		// resolve outside the object store.
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}

	obj, err := s.storage.GetObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		slog.Error("error reading object", "key", key, "error", err)
		http.Error(w, "error reading file", http.StatusInternalServerError)
		return
	}
	defer obj.Close()

	if contentType := mime.TypeByExtension(filepath.Ext(key)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	if _, err := io.Copy(w, obj); err != nil {
		slog.Error("error streaming object", "key", key, "error", err)
	}
}

func convertJob(job database.ImportJob) api.Job {
	converted := api.Job{
		JobId:             job.Id,
		Status:            job.Status,
		SourceName:        job.SourceName,
		CreationTime:      job.CreationTime,
		TotalRowCount:     job.TotalRowCount,
		ProcessedRowCount: job.ProcessedRowCount,
		FailedImageCount:  job.FailedImageCount,
	}
	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		converted.CompletionTime = &t
	}
	for _, jobError := range job.Errors {
		converted.Errors = append(converted.Errors, jobError.Error)
	}
	return converted
}
