package importer

import (
	"context"
	"fmt"
	"strings"

	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize bounds transaction size and memory per batch.
const DefaultBatchSize = 100

// Tracker is the slice of the job tracker the executor needs: incremental
// counter updates, the cancellation flag, and terminal finalization.
type Tracker interface {
	Start(ctx context.Context, jobID uuid.UUID, rowsTotal int) error
	RecordBatch(ctx context.Context, jobID uuid.UUID, delta models.ImportCounters, errs []models.ImportRowError) error
	IsCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error)
	Finish(ctx context.Context, jobID uuid.UUID, status models.ImportJobStatus, reason string) error
}

// TransientError marks a job-level failure worth retrying as a whole
// (store unavailable, connection trouble). Per-row errors are never
// transient; they are reported and the job continues.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// isRetryableStoreError reports whether a store error looks like connection
// trouble rather than a data problem with the row itself.
func isRetryableStoreError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"deadlock",
		"too many connections",
		"the database system is starting up",
		"the database system is shutting down",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Executor applies normalized rows against the catalog store in fixed,
// deterministic batches, one transaction per batch, accumulating per-row
// outcomes onto the job through the tracker.
type Executor struct {
	store     Store
	tracker   Tracker
	resolver  *CategoryResolver
	batchSize int
	log       *logrus.Entry
}

// NewExecutor builds an executor. batchSize <= 0 falls back to
// DefaultBatchSize.
func NewExecutor(store Store, tracker Tracker, resolver *CategoryResolver, batchSize int, logger *logrus.Logger) *Executor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Executor{
		store:     store,
		tracker:   tracker,
		resolver:  resolver,
		batchSize: batchSize,
		log:       logger.WithField("component", "import-executor"),
	}
}

// Execute drives a job to a terminal status. Rows are processed in file
// order; within one file, a later row with a duplicate external_key
// overwrites the earlier row's pending change (last-wins). The returned
// error is non-nil only for transient, whole-job failures — the caller
// retries those; everything else ends in a terminal status here.
func (e *Executor) Execute(ctx context.Context, jobID uuid.UUID, rows []RowResult) error {
	if err := e.tracker.Start(ctx, jobID, len(rows)); err != nil {
		return &TransientError{Err: fmt.Errorf("start job: %w", err)}
	}

	var totals models.ImportCounters

	for start := 0; start < len(rows); start += e.batchSize {
		cancelled, err := e.tracker.IsCancelRequested(ctx, jobID)
		if err != nil {
			return &TransientError{Err: fmt.Errorf("cancellation check: %w", err)}
		}
		if cancelled {
			e.log.WithField("job_id", jobID).Info("job cancelled, stopping at batch boundary")
			return e.finish(ctx, jobID, models.ImportStatusFailed, models.FailReasonCancelled)
		}

		end := start + e.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		counters, rowErrs, err := e.applyBatch(ctx, batch)
		if err != nil {
			if isRetryableStoreError(err) {
				return &TransientError{Err: err}
			}
			// The batch rolled back on a non-transient failure: re-attempt
			// every row on its own so one bad row does not sink its
			// siblings.
			e.log.WithFields(logrus.Fields{
				"job_id": jobID,
				"batch":  start / e.batchSize,
			}).WithError(err).Warn("batch rolled back, retrying rows individually")

			counters, rowErrs, err = e.applyRowsIndividually(ctx, batch)
			if err != nil {
				return &TransientError{Err: err}
			}
		}

		totals.Add(counters)
		if err := e.tracker.RecordBatch(ctx, jobID, counters, rowErrs); err != nil {
			return &TransientError{Err: fmt.Errorf("record batch: %w", err)}
		}
	}

	return e.finish(ctx, jobID, terminalStatus(totals, len(rows)), "")
}

func (e *Executor) finish(ctx context.Context, jobID uuid.UUID, status models.ImportJobStatus, reason string) error {
	if err := e.tracker.Finish(ctx, jobID, status, reason); err != nil {
		return &TransientError{Err: fmt.Errorf("finish job: %w", err)}
	}
	return nil
}

// terminalStatus derives the final job status from accumulated counters.
func terminalStatus(totals models.ImportCounters, rowsTotal int) models.ImportJobStatus {
	switch {
	case totals.Failed == 0:
		return models.ImportStatusSucceeded
	case totals.Failed < rowsTotal:
		return models.ImportStatusPartialFailure
	default:
		return models.ImportStatusFailed
	}
}

// applyBatch applies one batch atomically. A returned error means the whole
// batch rolled back and nothing was counted.
func (e *Executor) applyBatch(ctx context.Context, batch []RowResult) (models.ImportCounters, []models.ImportRowError, error) {
	var counters models.ImportCounters
	var rowErrs []models.ImportRowError

	err := e.store.InTransaction(ctx, func(tx Store) error {
		for _, result := range batch {
			outcome, rowErr, err := e.applyRow(ctx, tx, result)
			if err != nil {
				return err
			}
			counters.Add(outcome)
			if rowErr != nil {
				rowErrs = append(rowErrs, *rowErr)
			}
		}
		return nil
	})
	if err != nil {
		return models.ImportCounters{}, nil, err
	}
	return counters, rowErrs, nil
}

// applyRowsIndividually is the fallback after a batch rollback: each row in
// its own transaction, write failures becoming per-row errors instead of
// batch poison.
func (e *Executor) applyRowsIndividually(ctx context.Context, batch []RowResult) (models.ImportCounters, []models.ImportRowError, error) {
	var counters models.ImportCounters
	var rowErrs []models.ImportRowError

	for _, result := range batch {
		var outcome models.ImportCounters
		var rowErr *models.ImportRowError

		err := e.store.InTransaction(ctx, func(tx Store) error {
			var err error
			outcome, rowErr, err = e.applyRow(ctx, tx, result)
			return err
		})
		if err != nil {
			if isRetryableStoreError(err) {
				return models.ImportCounters{}, nil, err
			}
			counters.Failed++
			rowErrs = append(rowErrs, models.ImportRowError{
				Row:     rowIndex(result),
				Reason:  models.RowErrWriteFailed,
				Excerpt: truncate(err.Error(), 200),
			})
			continue
		}

		counters.Add(outcome)
		if rowErr != nil {
			rowErrs = append(rowErrs, *rowErr)
		}
	}
	return counters, rowErrs, nil
}

// applyRow processes a single row result inside tx. It returns the counter
// delta and an optional row error; a non-nil error aborts the enclosing
// transaction.
func (e *Executor) applyRow(ctx context.Context, tx Store, result RowResult) (models.ImportCounters, *models.ImportRowError, error) {
	if result.Err != nil {
		return models.ImportCounters{Failed: 1}, &models.ImportRowError{
			Row:     result.Err.Index,
			Reason:  result.Err.Reason,
			Excerpt: result.Err.Excerpt,
		}, nil
	}
	row := result.Row

	categoryID, err := e.resolver.Resolve(ctx, row)
	if err != nil {
		return models.ImportCounters{}, nil, err
	}

	var manufacturerID *uuid.UUID
	if row.Manufacturer != "" {
		manufacturer, err := tx.GetOrCreateManufacturer(ctx, row.Manufacturer)
		if err != nil {
			return models.ImportCounters{}, nil, fmt.Errorf("resolve manufacturer %q: %w", row.Manufacturer, err)
		}
		manufacturerID = &manufacturer.ID
	}

	match, err := Match(ctx, tx, row, categoryID, manufacturerID)
	if err != nil {
		return models.ImportCounters{}, nil, err
	}

	switch match.Kind {
	case MatchNew:
		if err := tx.CreateProduct(ctx, BuildProduct(row, categoryID, manufacturerID)); err != nil {
			return models.ImportCounters{}, nil, fmt.Errorf("create product %q: %w", row.ExternalKey, err)
		}
		return models.ImportCounters{Created: 1}, nil, nil

	case MatchUpdate:
		if err := tx.UpdateProduct(ctx, match.Existing.ID, match.Changes); err != nil {
			return models.ImportCounters{}, nil, fmt.Errorf("update product %q: %w", row.ExternalKey, err)
		}
		return models.ImportCounters{Updated: 1}, nil, nil

	case MatchNoChange:
		return models.ImportCounters{Skipped: 1}, nil, nil

	case MatchAmbiguous:
		return models.ImportCounters{Failed: 1}, &models.ImportRowError{
			Row:     row.Index,
			Reason:  models.RowErrAmbiguousKey,
			Excerpt: match.Reason,
		}, nil
	}

	return models.ImportCounters{}, nil, fmt.Errorf("unhandled match kind %d", match.Kind)
}

func rowIndex(result RowResult) int {
	if result.Row != nil {
		return result.Row.Index
	}
	if result.Err != nil {
		return result.Err.Index
	}
	return 0
}
