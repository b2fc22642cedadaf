package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"catalog-service/internal/classifier"
	"catalog-service/internal/importer"
	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const staleSweepInterval = time.Minute

// RetryPolicy governs whole-job retries on transient store trouble.
// Permanent failures (bad file, bad rows) are never retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// DefaultRetryPolicy retries transient errors with exponential backoff
// starting at 100ms.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(100<<uint(attempt)) * time.Millisecond
		},
		Retryable: func(err error) bool {
			var transient *importer.TransientError
			return errors.As(err, &transient)
		},
	}
}

// JobTracker is the tracker surface the runner drives: the executor's
// slice plus job lookup, warnings, and stale-job recovery.
type JobTracker interface {
	importer.Tracker
	Get(ctx context.Context, id uuid.UUID) (*models.ImportJob, error)
	AddWarning(ctx context.Context, id uuid.UUID, warning string) error
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}

// CatalogStore is the store surface an import run needs.
type CatalogStore interface {
	importer.Store
	importer.CategoryLookup
	InvalidateProductCaches(ctx context.Context)
}

// JobQueue delivers queued job ids and accepts re-enqueues from the
// recovery sweep.
type JobQueue interface {
	Enqueue(jobID uuid.UUID) error
	Subscribe(handler func(jobID uuid.UUID)) error
}

// Runner consumes import jobs from the queue and drives each through the
// full pipeline: parse, normalize, classify, execute, finalize.
type Runner struct {
	tracker JobTracker
	store   CatalogStore
	queue   JobQueue

	classifier      *classifier.Classifier
	uncategorizedID uuid.UUID
	batchSize       int
	policy          RetryPolicy
	staleAfter      time.Duration

	logger *logrus.Logger
	log    *logrus.Entry
}

func NewRunner(tracker JobTracker, store CatalogStore, q JobQueue, clf *classifier.Classifier, uncategorizedID uuid.UUID, batchSize int, policy RetryPolicy, staleAfter time.Duration, logger *logrus.Logger) *Runner {
	return &Runner{
		tracker:         tracker,
		store:           store,
		queue:           q,
		classifier:      clf,
		uncategorizedID: uncategorizedID,
		batchSize:       batchSize,
		policy:          policy,
		staleAfter:      staleAfter,
		logger:          logger,
		log:             logger.WithField("component", "import-worker"),
	}
}

// Run subscribes to the job queue and starts the stale-job recovery sweep.
// Blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.queue.Subscribe(func(jobID uuid.UUID) {
		r.RunJob(ctx, jobID)
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(staleSweepInterval)
	defer ticker.Stop()

	r.log.Info("Import worker started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Import worker stopping")
			return nil
		case <-ticker.C:
			r.sweepStale(ctx)
		}
	}
}

// RunJob executes one import job end to end. Every exit path leaves the
// job in a terminal status except transient exhaustion of a job someone
// else already finished.
func (r *Runner) RunJob(ctx context.Context, jobID uuid.UUID) {
	log := r.log.WithField("job_id", jobID)

	job, err := r.tracker.Get(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("Failed to load import job")
		return
	}
	if job.Status.Terminal() {
		// Duplicate delivery or a sweep raced a finished job.
		log.WithField("status", job.Status).Info("Job already terminal, skipping")
		return
	}

	rows, failReason := r.parseFile(job, log)
	if failReason != "" {
		if err := r.tracker.Finish(ctx, jobID, models.ImportStatusFailed, failReason); err != nil {
			log.WithError(err).Error("Failed to finalize unparseable job")
		}
		return
	}

	if r.classifier == nil || !r.classifier.Available() {
		if err := r.tracker.AddWarning(ctx, jobID, models.WarnClassifierUnavailable); err != nil {
			log.WithError(err).Warn("Failed to record degraded-mode warning")
		}
	}

	resolver := importer.NewCategoryResolver(r.store, r.classifier, r.uncategorizedID, r.logger)
	executor := importer.NewExecutor(r.store, r.tracker, resolver, r.batchSize, r.logger)

	for attempt := 0; ; attempt++ {
		err = executor.Execute(ctx, jobID, rows)
		if err == nil {
			break
		}
		if !r.policy.Retryable(err) || attempt+1 >= r.policy.MaxAttempts {
			log.WithError(err).WithField("attempts", attempt+1).Error("Import failed permanently")
			if finishErr := r.tracker.Finish(ctx, jobID, models.ImportStatusFailed, models.FailReasonStoreUnavailable); finishErr != nil {
				log.WithError(finishErr).Error("Failed to finalize job after retry exhaustion")
			}
			break
		}
		delay := r.policy.Backoff(attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("Transient import failure, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	// Shop reads must see the imported catalog, whatever the outcome.
	r.store.InvalidateProductCaches(ctx)
	log.Info("Import job finished")
}

// parseFile opens and normalizes the spooled price list. A non-empty
// failure reason means the job cannot proceed at all.
func (r *Runner) parseFile(job *models.ImportJob, log *logrus.Entry) ([]importer.RowResult, string) {
	f, err := os.Open(job.FilePath)
	if err != nil {
		log.WithError(err).Error("Failed to open spooled import file")
		return nil, models.FailReasonUnreadableFile
	}
	defer f.Close()

	raws, err := importer.ParseSheet(f, job.Filename)
	if err != nil {
		log.WithError(err).Error("Failed to parse import file")
		if errors.Is(err, importer.ErrSchemaMismatch) {
			return nil, models.FailReasonSchemaMismatch
		}
		return nil, models.FailReasonUnreadableFile
	}

	return importer.NormalizeAll(raws), ""
}

// sweepStale requeues jobs whose worker died mid-run and puts them back
// on the queue. Re-execution is safe; the executor is idempotent.
func (r *Runner) sweepStale(ctx context.Context) {
	ids, err := r.tracker.RequeueStale(ctx, r.staleAfter)
	if err != nil {
		r.log.WithError(err).Error("Stale job sweep failed")
		return
	}
	for _, id := range ids {
		if err := r.queue.Enqueue(id); err != nil {
			r.log.WithError(err).WithField("job_id", id).Error("Failed to re-enqueue stale job")
		}
	}
}
