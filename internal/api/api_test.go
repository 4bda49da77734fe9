package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	backend "imagebatch-backend/internal/api"
	"imagebatch-backend/internal/core"
	"imagebatch-backend/internal/database"
	"imagebatch-backend/internal/imaging"
	"imagebatch-backend/internal/messaging"
	"imagebatch-backend/internal/storage"
	"imagebatch-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	store  *storage.LocalObjectStore
	queue  *messaging.InMemoryQueue
	router chi.Router
}

func setup(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))

	queue := messaging.NewInMemoryQueue()

	router := chi.NewRouter()
	backend.NewBackendService(db, store, queue).AddRoutes(router)

	return &testEnv{db: db, store: store, queue: queue, router: router}
}

func (env *testEnv) get(t *testing.T, path string, result any) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if result != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), result))
	}
	return w
}

func (env *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// drainQueue runs every queued task through a worker, the way the queue
// consumer process would.
func (env *testEnv) drainQueue(t *testing.T) {
	proc := core.NewTaskProcessor(env.db, env.store, env.queue, imaging.NewFetcher(), 2)
	for {
		select {
		case task := <-env.queue.Tasks():
			proc.ProcessTask(task)
		default:
			return
		}
	}
}

func TestHealth(t *testing.T) {
	env := setup(t)

	w := env.get(t, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitJob(t *testing.T) {
	env := setup(t)

	table := "Serial Number,Product Name,Input Image Urls\nS1,Widget,\n"

	w := env.upload(t, "products.csv", table)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEqual(t, uuid.Nil, resp.JobId)

	var job database.ImportJob
	require.NoError(t, env.db.First(&job, "id = ?", resp.JobId).Error)
	assert.Equal(t, database.JobPending, job.Status)
	assert.Equal(t, "products.csv", job.SourceName)

	// The uploaded table is in the object store under the job's source key.
	reader, err := env.store.GetObject(context.Background(), job.SourceKey)
	require.NoError(t, err)
	stored, err := io.ReadAll(reader)
	require.NoError(t, err)
	reader.Close()
	assert.Equal(t, table, string(stored))

	// And a process task is waiting on the queue.
	select {
	case task := <-env.queue.Tasks():
		var payload messaging.ProcessJobPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, resp.JobId, payload.JobId)
	default:
		t.Fatal("expected a queued process task")
	}
}

func TestSubmitJobMissingFile(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJobStatusUnknownJob(t *testing.T) {
	env := setup(t)

	w := env.get(t, fmt.Sprintf("/jobs/%s/status", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.get(t, "/jobs/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobs(t *testing.T) {
	env := setup(t)

	older := database.ImportJob{Id: uuid.New(), Status: database.JobCompleted, SourceName: "a.csv", CreationTime: time.Now().UTC().Add(-time.Hour)}
	newer := database.ImportJob{Id: uuid.New(), Status: database.JobFailed, SourceName: "b.csv", CreationTime: time.Now().UTC()}
	require.NoError(t, env.db.Create(&older).Error)
	require.NoError(t, env.db.Create(&newer).Error)

	var jobs []api.Job
	w := env.get(t, "/jobs", &jobs)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, jobs, 2)
	assert.Equal(t, newer.Id, jobs[0].JobId)
	assert.Equal(t, older.Id, jobs[1].JobId)

	jobs = nil
	w = env.get(t, "/jobs?status=FAILED", &jobs)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, jobs, 1)
	assert.Equal(t, newer.Id, jobs[0].JobId)
}

func TestExportUnknownJob(t *testing.T) {
	env := setup(t)

	w := env.get(t, fmt.Sprintf("/jobs/%s/export", uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportBadFormat(t *testing.T) {
	env := setup(t)

	w := env.get(t, fmt.Sprintf("/jobs/%s/export?format=pdf", uuid.New()), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeFileRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store, err := storage.NewLocalObjectStore(filepath.Join(root, "store"))
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))

	router := chi.NewRouter()
	backend.NewBackendService(db, store, messaging.NewInMemoryQueue()).AddRoutes(router)

	for _, path := range []string{
		"/files/../secret.txt",
		"/files/uploads/../../secret.txt",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusBadRequest, w.Code, "path %q", path)
		assert.NotContains(t, w.Body.String(), "top secret", "path %q", path)
	}
}

func TestServeFileNotFound(t *testing.T) {
	env := setup(t)

	w := env.get(t, "/files/exports/nope.csv", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitProcessExportRoundTrip(t *testing.T) {
	env := setup(t)

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 64, B: 32, A: 255})
		}
	}
	var imgBuf bytes.Buffer
	require.NoError(t, png.Encode(&imgBuf, img))

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(imgBuf.Bytes())
	}))
	defer origin.Close()

	table := strings.Join([]string{
		"Serial Number,Product Name,Input Image Urls",
		fmt.Sprintf("S1,Widget,%s/img.png", origin.URL),
		fmt.Sprintf("S2,Gadget,%s/img.png", origin.URL),
	}, "\n")

	w := env.upload(t, "products.csv", table)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var submitted api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))

	env.drainQueue(t)

	var status api.JobStatusResponse
	w = env.get(t, fmt.Sprintf("/jobs/%s/status", submitted.JobId), &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.JobCompleted, status.Status)

	var job api.Job
	w = env.get(t, fmt.Sprintf("/jobs/%s", submitted.JobId), &job)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, job.TotalRowCount)
	assert.Equal(t, 2, job.ProcessedRowCount)
	assert.Equal(t, 0, job.FailedImageCount)
	require.NotNil(t, job.CompletionTime)
	assert.Empty(t, job.Errors)

	var export api.ExportResponse
	w = env.get(t, fmt.Sprintf("/jobs/%s/export", submitted.JobId), &export)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fmt.Sprintf("/files/exports/output_%s.csv", submitted.JobId), export.ReportPath)

	w = env.get(t, export.ReportPath, nil)
	require.Equal(t, http.StatusOK, w.Code)

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Serial Number,Product Name,Input Image Urls,Output Image Urls", lines[0])
	assert.Contains(t, lines[1], "S1,Widget,")
	assert.Contains(t, lines[1], "/files/processed/")
	assert.Contains(t, lines[2], "S2,Gadget,")
}
