package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrJobNotFound is returned when no import job matches the id.
	ErrJobNotFound = errors.New("import job not found")
	// ErrInvalidTransition is returned for status moves that violate the
	// monotonic lifecycle (queued -> running -> terminal).
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Tracker persists import job lifecycles. Each job has a single writer
// (the worker executing it); the tracker still guards every mutation with
// a status predicate so a terminal job can never move again.
type Tracker struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewTracker(db *gorm.DB, logger *logrus.Logger) *Tracker {
	return &Tracker{
		db:  db,
		log: logger.WithField("component", "job-tracker"),
	}
}

// Create registers a new import job in status queued.
func (t *Tracker) Create(ctx context.Context, filename, filePath string) (*models.ImportJob, error) {
	job := &models.ImportJob{
		ID:       uuid.New(),
		Filename: filename,
		FilePath: filePath,
		Status:   models.ImportStatusQueued,
		ErrorLog: models.ImportErrorLog{},
		Warnings: models.ImportWarnings{},
	}
	if err := t.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("create import job: %w", err)
	}
	return job, nil
}

// Get fetches a job by id for status polling.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error) {
	var job models.ImportJob
	err := t.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns recent jobs, newest first.
func (t *Tracker) List(ctx context.Context, page, limit int) ([]models.ImportJob, int64, error) {
	var jobs []models.ImportJob
	var total int64

	if err := t.db.WithContext(ctx).Model(&models.ImportJob{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := t.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Start moves a job to running and records the row total. Counters and the
// error log are reset so a retried or requeued job accumulates from a clean
// slate; re-execution is safe because row application is idempotent.
// Warnings are not reset here: they are recorded before execution starts
// and deduplicated on append instead.
func (t *Tracker) Start(ctx context.Context, id uuid.UUID, rowsTotal int) error {
	now := time.Now()
	result := t.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", id, []models.ImportJobStatus{models.ImportStatusQueued, models.ImportStatusRunning}).
		Updates(map[string]interface{}{
			"status":       models.ImportStatusRunning,
			"rows_total":   rowsTotal,
			"rows_created": 0,
			"rows_updated": 0,
			"rows_skipped": 0,
			"rows_failed":  0,
			"error_log":    models.ImportErrorLog{},
			"started_at":   now,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	return t.transitionOutcome(ctx, id, result)
}

// RecordBatch folds a batch's counter delta and row errors into the job.
// Only a running job accepts deltas.
func (t *Tracker) RecordBatch(ctx context.Context, id uuid.UUID, delta models.ImportCounters, errs []models.ImportRowError) error {
	updates := map[string]interface{}{
		"rows_created": gorm.Expr("rows_created + ?", delta.Created),
		"rows_updated": gorm.Expr("rows_updated + ?", delta.Updated),
		"rows_skipped": gorm.Expr("rows_skipped + ?", delta.Skipped),
		"rows_failed":  gorm.Expr("rows_failed + ?", delta.Failed),
	}
	if len(errs) > 0 {
		encoded, err := json.Marshal(errs)
		if err != nil {
			return fmt.Errorf("encode row errors: %w", err)
		}
		updates["error_log"] = gorm.Expr("error_log || ?::jsonb", string(encoded))
	}

	result := t.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status = ?", id, models.ImportStatusRunning).
		Updates(updates)
	return t.transitionOutcome(ctx, id, result)
}

// AddWarning appends a job-level warning (degraded mode, not a failure).
// Appending is idempotent: a warning already present on the job is not
// recorded again, so re-delivered or requeued jobs do not accumulate
// duplicates.
func (t *Tracker) AddWarning(ctx context.Context, id uuid.UUID, warning string) error {
	encoded, err := json.Marshal([]string{warning})
	if err != nil {
		return fmt.Errorf("encode warning: %w", err)
	}
	result := t.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status IN ? AND NOT warnings @> ?::jsonb",
			id, []models.ImportJobStatus{models.ImportStatusQueued, models.ImportStatusRunning}, string(encoded)).
		Update("warnings", gorm.Expr("warnings || ?::jsonb", string(encoded)))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already recorded, missing, or terminal.
		job, err := t.Get(ctx, id)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return fmt.Errorf("%w: job is terminal", ErrInvalidTransition)
		}
	}
	return nil
}

// Finish moves a job to a terminal status exactly once. Terminal jobs are
// immutable afterwards except for reads.
func (t *Tracker) Finish(ctx context.Context, id uuid.UUID, status models.ImportJobStatus, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now(),
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}

	result := t.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", id, []models.ImportJobStatus{models.ImportStatusQueued, models.ImportStatusRunning}).
		Updates(updates)
	return t.transitionOutcome(ctx, id, result)
}

// RequestCancel flags a non-terminal job for cancellation. The executor
// honors the flag at batch boundaries only.
func (t *Tracker) RequestCancel(ctx context.Context, id uuid.UUID) error {
	result := t.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ? AND status IN ?", id, []models.ImportJobStatus{models.ImportStatusQueued, models.ImportStatusRunning}).
		Update("cancel_requested", true)
	return t.transitionOutcome(ctx, id, result)
}

// IsCancelRequested reads the cancellation flag.
func (t *Tracker) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	job, err := t.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// RequeueStale returns to queued every job stuck in running longer than
// olderThan (worker crashed mid-job). Safe to re-execute: the import
// pipeline's per-row updates are idempotent.
func (t *Tracker) RequeueStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-olderThan)

	var stale []models.ImportJob
	err := t.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.ImportStatusRunning, cutoff).
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}

	requeued := make([]uuid.UUID, 0, len(stale))
	for _, job := range stale {
		result := t.db.WithContext(ctx).Model(&models.ImportJob{}).
			Where("id = ? AND status = ? AND started_at < ?", job.ID, models.ImportStatusRunning, cutoff).
			Update("status", models.ImportStatusQueued)
		if result.Error != nil {
			return requeued, result.Error
		}
		if result.RowsAffected > 0 {
			t.log.WithField("job_id", job.ID).Warn("requeued stale running job")
			requeued = append(requeued, job.ID)
		}
	}
	return requeued, nil
}

// transitionOutcome distinguishes "no such job" from "job already terminal"
// when a guarded update matched nothing.
func (t *Tracker) transitionOutcome(ctx context.Context, id uuid.UUID, result *gorm.DB) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := t.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is terminal", ErrInvalidTransition, id)
}

// CanTransition reports whether a job may move from one status to another.
// The lifecycle is monotonic; the one sanctioned backward edge is
// running -> queued, used by the stale-job recovery sweep.
func CanTransition(from, to models.ImportJobStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case models.ImportStatusQueued:
		return to == models.ImportStatusRunning || to.Terminal()
	case models.ImportStatusRunning:
		return to == models.ImportStatusRunning || to == models.ImportStatusQueued || to.Terminal()
	}
	return false
}
