package jobs

import (
	"testing"

	"catalog-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionFromQueued(t *testing.T) {
	assert.True(t, CanTransition(models.ImportStatusQueued, models.ImportStatusRunning))
	assert.True(t, CanTransition(models.ImportStatusQueued, models.ImportStatusFailed))
	assert.True(t, CanTransition(models.ImportStatusQueued, models.ImportStatusSucceeded))
	assert.False(t, CanTransition(models.ImportStatusQueued, models.ImportStatusQueued))
}

func TestCanTransitionFromRunning(t *testing.T) {
	assert.True(t, CanTransition(models.ImportStatusRunning, models.ImportStatusSucceeded))
	assert.True(t, CanTransition(models.ImportStatusRunning, models.ImportStatusPartialFailure))
	assert.True(t, CanTransition(models.ImportStatusRunning, models.ImportStatusFailed))

	// Retried attempts stay in running; the recovery sweep may requeue.
	assert.True(t, CanTransition(models.ImportStatusRunning, models.ImportStatusRunning))
	assert.True(t, CanTransition(models.ImportStatusRunning, models.ImportStatusQueued))
}

func TestTerminalStatusesAreFinal(t *testing.T) {
	terminals := []models.ImportJobStatus{
		models.ImportStatusSucceeded,
		models.ImportStatusPartialFailure,
		models.ImportStatusFailed,
	}
	all := append([]models.ImportJobStatus{
		models.ImportStatusQueued,
		models.ImportStatusRunning,
	}, terminals...)

	for _, from := range terminals {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestImportCountersAdd(t *testing.T) {
	total := models.ImportCounters{}
	total.Add(models.ImportCounters{Created: 3, Updated: 1})
	total.Add(models.ImportCounters{Skipped: 2, Failed: 1})

	assert.Equal(t, 3, total.Created)
	assert.Equal(t, 1, total.Updated)
	assert.Equal(t, 2, total.Skipped)
	assert.Equal(t, 1, total.Failed)
	assert.Equal(t, 7, total.Created+total.Updated+total.Skipped+total.Failed)
}
