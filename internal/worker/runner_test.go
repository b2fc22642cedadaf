package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"catalog-service/internal/classifier"
	"catalog-service/internal/importer"
	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finishCall struct {
	status models.ImportJobStatus
	reason string
}

type fakeTracker struct {
	mu       sync.Mutex
	job      *models.ImportJob
	warnings []string
	starts   int
	finishes []finishCall
	totals   models.ImportCounters
	rowErrs  []models.ImportRowError
}

func newFakeTracker(job *models.ImportJob) *fakeTracker {
	return &fakeTracker{job: job}
}

func (t *fakeTracker) Get(_ context.Context, id uuid.UUID) (*models.ImportJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil || t.job.ID != id {
		return nil, errors.New("import job not found")
	}
	copied := *t.job
	return &copied, nil
}

func (t *fakeTracker) Start(_ context.Context, _ uuid.UUID, rowsTotal int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts++
	t.job.Status = models.ImportStatusRunning
	t.job.RowsTotal = rowsTotal
	t.totals = models.ImportCounters{}
	t.rowErrs = nil
	return nil
}

func (t *fakeTracker) RecordBatch(_ context.Context, _ uuid.UUID, delta models.ImportCounters, errs []models.ImportRowError) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals.Add(delta)
	t.rowErrs = append(t.rowErrs, errs...)
	return nil
}

func (t *fakeTracker) IsCancelRequested(_ context.Context, _ uuid.UUID) (bool, error) {
	return false, nil
}

func (t *fakeTracker) Finish(_ context.Context, _ uuid.UUID, status models.ImportJobStatus, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishes = append(t.finishes, finishCall{status: status, reason: reason})
	t.job.Status = status
	return nil
}

func (t *fakeTracker) AddWarning(_ context.Context, _ uuid.UUID, warning string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Mirrors the tracker contract: appending is idempotent.
	for _, existing := range t.warnings {
		if existing == warning {
			return nil
		}
	}
	t.warnings = append(t.warnings, warning)
	return nil
}

func (t *fakeTracker) RequeueStale(_ context.Context, _ time.Duration) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeStore struct {
	mu            sync.Mutex
	products      map[string]*models.Product
	manufacturers map[string]*models.Manufacturer
	invalidations int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:      make(map[string]*models.Product),
		manufacturers: make(map[string]*models.Manufacturer),
	}
}

func (s *fakeStore) InTransaction(_ context.Context, fn func(tx importer.Store) error) error {
	return fn(s)
}

func (s *fakeStore) FindByExternalKey(_ context.Context, key string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[key]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) CreateProduct(_ context.Context, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ExternalKey] = product
	return nil
}

func (s *fakeStore) UpdateProduct(_ context.Context, id uuid.UUID, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ID == id {
			if name, ok := fields["name"].(string); ok {
				p.Name = name
			}
			if price, ok := fields["price"].(string); ok {
				p.Price = price
			}
			return nil
		}
	}
	return errors.New("product not found")
}

func (s *fakeStore) GetOrCreateManufacturer(_ context.Context, name string) (*models.Manufacturer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.manufacturers[name]; ok {
		return m, nil
	}
	m := &models.Manufacturer{ID: uuid.New(), Name: name}
	s.manufacturers[name] = m
	return m, nil
}

func (s *fakeStore) GetCategoryByName(_ context.Context, _ string) (*models.Category, error) {
	return nil, nil
}

func (s *fakeStore) InvalidateProductCaches(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidations++
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
}

func (q *fakeQueue) Enqueue(jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

func (q *fakeQueue) Subscribe(_ func(jobID uuid.UUID)) error {
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func writeSpoolFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestRunner(tracker *fakeTracker, store *fakeStore) *Runner {
	uncategorized := uuid.New()
	return NewRunner(
		tracker, store, &fakeQueue{},
		classifier.Unavailable(uncategorized), uncategorized,
		2, DefaultRetryPolicy(3), 30*time.Minute, testLogger(),
	)
}

func TestDefaultRetryPolicyBackoff(t *testing.T) {
	policy := DefaultRetryPolicy(5)

	assert.Equal(t, 100*time.Millisecond, policy.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, policy.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, policy.Backoff(2))
}

func TestDefaultRetryPolicyRetryable(t *testing.T) {
	policy := DefaultRetryPolicy(3)

	assert.True(t, policy.Retryable(&importer.TransientError{Err: errors.New("connection refused")}))
	assert.False(t, policy.Retryable(errors.New("schema mismatch")))
	assert.Equal(t, 3, policy.MaxAttempts)
}

func TestRunJobImportsRowsAndFlushesCache(t *testing.T) {
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: "prices.csv",
		Status:   models.ImportStatusQueued,
	}
	job.FilePath = writeSpoolFile(t, "spool.csv",
		"external_key,name,price,manufacturer\n"+
			"DK-1,Oak Door,199.90,Belwooddoors\n"+
			"DK-2,Pine Door,149.00,\n"+
			"DK-3,Steel Door,299.50,Torex\n")

	tracker := newFakeTracker(job)
	store := newFakeStore()
	runner := newTestRunner(tracker, store)

	runner.RunJob(context.Background(), job.ID)

	require.Len(t, tracker.finishes, 1)
	assert.Equal(t, models.ImportStatusSucceeded, tracker.finishes[0].status)
	assert.Equal(t, 3, tracker.totals.Created)
	assert.Equal(t, 3, tracker.job.RowsTotal)
	assert.Len(t, store.products, 3)
	assert.Len(t, store.manufacturers, 2)
	assert.Equal(t, 1, store.invalidations)

	// The classifier never loaded, so the job carries the degraded warning.
	assert.Contains(t, tracker.warnings, models.WarnClassifierUnavailable)
}

func TestRunJobRedeliveryDoesNotDuplicateWarnings(t *testing.T) {
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: "prices.csv",
		Status:   models.ImportStatusQueued,
	}
	job.FilePath = writeSpoolFile(t, "spool.csv",
		"external_key,name,price\n"+
			"DK-1,Oak Door,199.90\n")

	tracker := newFakeTracker(job)
	store := newFakeStore()
	runner := newTestRunner(tracker, store)

	runner.RunJob(context.Background(), job.ID)

	// The stale sweep requeues the job and it gets delivered again.
	tracker.mu.Lock()
	tracker.job.Status = models.ImportStatusQueued
	tracker.mu.Unlock()
	runner.RunJob(context.Background(), job.ID)

	assert.Equal(t, []string{models.WarnClassifierUnavailable}, tracker.warnings)
}

func TestRunJobSchemaMismatchFailsWithoutStarting(t *testing.T) {
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: "prices.csv",
		Status:   models.ImportStatusQueued,
	}
	job.FilePath = writeSpoolFile(t, "bad.csv", "sku,title\nDK-1,Oak Door\n")

	tracker := newFakeTracker(job)
	store := newFakeStore()
	runner := newTestRunner(tracker, store)

	runner.RunJob(context.Background(), job.ID)

	assert.Equal(t, 0, tracker.starts)
	require.Len(t, tracker.finishes, 1)
	assert.Equal(t, models.ImportStatusFailed, tracker.finishes[0].status)
	assert.Equal(t, models.FailReasonSchemaMismatch, tracker.finishes[0].reason)
	assert.Empty(t, store.products)
}

func TestRunJobMissingFileFailsUnreadable(t *testing.T) {
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: "prices.csv",
		FilePath: filepath.Join(t.TempDir(), "does-not-exist.csv"),
		Status:   models.ImportStatusQueued,
	}

	tracker := newFakeTracker(job)
	runner := newTestRunner(tracker, newFakeStore())

	runner.RunJob(context.Background(), job.ID)

	require.Len(t, tracker.finishes, 1)
	assert.Equal(t, models.ImportStatusFailed, tracker.finishes[0].status)
	assert.Equal(t, models.FailReasonUnreadableFile, tracker.finishes[0].reason)
}

func TestRunJobSkipsTerminalJob(t *testing.T) {
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: "prices.csv",
		Status:   models.ImportStatusSucceeded,
	}

	tracker := newFakeTracker(job)
	store := newFakeStore()
	runner := newTestRunner(tracker, store)

	runner.RunJob(context.Background(), job.ID)

	assert.Equal(t, 0, tracker.starts)
	assert.Empty(t, tracker.finishes)
	assert.Equal(t, 0, store.invalidations)
}
