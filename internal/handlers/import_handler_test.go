package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-service/internal/jobs"
	"catalog-service/internal/models"
)

type fakeImportTracker struct {
	jobs      map[uuid.UUID]*models.ImportJob
	createErr error
	cancelErr error
	cancelled []uuid.UUID
}

func newFakeImportTracker() *fakeImportTracker {
	return &fakeImportTracker{jobs: make(map[uuid.UUID]*models.ImportJob)}
}

func (t *fakeImportTracker) Create(_ context.Context, filename, filePath string) (*models.ImportJob, error) {
	if t.createErr != nil {
		return nil, t.createErr
	}
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: filename,
		FilePath: filePath,
		Status:   models.ImportStatusQueued,
	}
	t.jobs[job.ID] = job
	return job, nil
}

func (t *fakeImportTracker) Get(_ context.Context, id uuid.UUID) (*models.ImportJob, error) {
	job, ok := t.jobs[id]
	if !ok {
		return nil, jobs.ErrJobNotFound
	}
	return job, nil
}

func (t *fakeImportTracker) List(_ context.Context, _, _ int) ([]models.ImportJob, int64, error) {
	list := make([]models.ImportJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		list = append(list, *job)
	}
	return list, int64(len(list)), nil
}

func (t *fakeImportTracker) RequestCancel(_ context.Context, id uuid.UUID) error {
	if t.cancelErr != nil {
		return t.cancelErr
	}
	if _, ok := t.jobs[id]; !ok {
		return jobs.ErrJobNotFound
	}
	t.cancelled = append(t.cancelled, id)
	return nil
}

type fakeImportQueue struct {
	enqueued []uuid.UUID
	err      error
}

func (q *fakeImportQueue) Enqueue(jobID uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func newImportTestHandler(t *testing.T, tracker *fakeImportTracker, queue *fakeImportQueue) *ImportHandler {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	pager := Pager{DefaultPageSize: 20, MaxPageSize: 100}
	return NewImportHandler(tracker, queue, t.TempDir(), pager, logger)
}

func setupImportRouter(h *ImportHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/products/import", h.SubmitImport)
	r.GET("/products/import/template", h.GetImportTemplate)
	r.GET("/imports", h.ListImportJobs)
	r.GET("/imports/:id", h.GetImportJob)
	r.POST("/imports/:id/cancel", h.CancelImportJob)
	return r
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestSubmitImportAccepted(t *testing.T) {
	tracker := newFakeImportTracker()
	queue := &fakeImportQueue{}
	handler := newImportTestHandler(t, tracker, queue)
	router := setupImportRouter(handler)

	body, contentType := multipartUpload(t, "prices.csv", "external_key,name,price\nDK-1,Oak Door,199.90\n")
	req := httptest.NewRequest(http.MethodPost, "/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp models.ImportSubmittedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, string(models.ImportStatusQueued), resp.Status)

	// The upload was spooled and the job handed to the queue.
	job := tracker.jobs[resp.JobID]
	require.NotNil(t, job)
	assert.Equal(t, "prices.csv", job.Filename)
	_, err := os.Stat(job.FilePath)
	assert.NoError(t, err)
	assert.Equal(t, []uuid.UUID{resp.JobID}, queue.enqueued)
}

func TestSubmitImportRequiresFile(t *testing.T) {
	handler := newImportTestHandler(t, newFakeImportTracker(), &fakeImportQueue{})
	router := setupImportRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/products/import", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "FILE_REQUIRED")
}

func TestSubmitImportRejectsUnsupportedExtension(t *testing.T) {
	handler := newImportTestHandler(t, newFakeImportTracker(), &fakeImportQueue{})
	router := setupImportRouter(handler)

	body, contentType := multipartUpload(t, "prices.pdf", "not a spreadsheet")
	req := httptest.NewRequest(http.MethodPost, "/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_FORMAT")
}

func TestSubmitImportSurvivesQueueOutage(t *testing.T) {
	tracker := newFakeImportTracker()
	queue := &fakeImportQueue{err: errors.New("nats: connection closed")}
	handler := newImportTestHandler(t, tracker, queue)
	router := setupImportRouter(handler)

	body, contentType := multipartUpload(t, "prices.csv", "external_key,name,price\n")
	req := httptest.NewRequest(http.MethodPost, "/products/import", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The job is registered as queued; the stale-job sweep re-enqueues it.
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, tracker.jobs, 1)
}

func TestGetImportJob(t *testing.T) {
	tracker := newFakeImportTracker()
	job, err := tracker.Create(context.Background(), "prices.csv", "/tmp/spool/x.csv")
	require.NoError(t, err)
	handler := newImportTestHandler(t, tracker, &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports/"+job.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ImportJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.Data.ID)
	// The spool path is server-internal and must not leak into responses.
	assert.NotContains(t, w.Body.String(), "/tmp/spool")
}

func TestGetImportJobNotFound(t *testing.T) {
	handler := newImportTestHandler(t, newFakeImportTracker(), &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports/"+uuid.New().String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestGetImportJobInvalidID(t *testing.T) {
	handler := newImportTestHandler(t, newFakeImportTracker(), &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_ID")
}

func TestCancelImportJob(t *testing.T) {
	tracker := newFakeImportTracker()
	job, err := tracker.Create(context.Background(), "prices.csv", "/tmp/x.csv")
	require.NoError(t, err)
	handler := newImportTestHandler(t, tracker, &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/imports/"+job.ID.String()+"/cancel", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []uuid.UUID{job.ID}, tracker.cancelled)
}

func TestCancelImportJobAlreadyFinished(t *testing.T) {
	tracker := newFakeImportTracker()
	tracker.cancelErr = jobs.ErrInvalidTransition
	handler := newImportTestHandler(t, tracker, &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/imports/"+uuid.New().String()+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_FINISHED")
}

func TestListImportJobs(t *testing.T) {
	tracker := newFakeImportTracker()
	_, err := tracker.Create(context.Background(), "a.csv", "/tmp/a.csv")
	require.NoError(t, err)
	_, err = tracker.Create(context.Background(), "b.xlsx", "/tmp/b.xlsx")
	require.NoError(t, err)
	handler := newImportTestHandler(t, tracker, &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports?page=1&limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ImportJobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, int64(2), resp.Pagination.Total)
}

func TestGetImportTemplateFormats(t *testing.T) {
	handler := newImportTestHandler(t, newFakeImportTracker(), &fakeImportQueue{})
	router := setupImportRouter(handler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/import/template", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "external_key")
	assert.Contains(t, w.Body.String(), "category_hint")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/import/template?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "external_key,name,price")
}
