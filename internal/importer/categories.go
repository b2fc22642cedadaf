package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CategoryClassifier predicts a category id from product text. Shared,
// read-only, safe for concurrent use. Available reports whether a model was
// loaded; when false every prediction falls back to the uncategorized
// bucket and the job records a degraded-mode warning.
type CategoryClassifier interface {
	Classify(text string) (uuid.UUID, float64)
	Available() bool
}

// CategoryResolver turns a row's category hint into a category id, invoking
// the classifier only when the hint is absent or does not resolve to a known
// category. Name lookups are cached for the lifetime of the resolver (one
// import job).
type CategoryResolver struct {
	lookup     CategoryLookup
	classifier CategoryClassifier

	uncategorizedID uuid.UUID

	mu    sync.RWMutex
	cache map[string]uuid.UUID

	log *logrus.Entry
}

// NewCategoryResolver builds a resolver bound to one import run.
func NewCategoryResolver(lookup CategoryLookup, classifier CategoryClassifier, uncategorizedID uuid.UUID, logger *logrus.Logger) *CategoryResolver {
	return &CategoryResolver{
		lookup:          lookup,
		classifier:      classifier,
		uncategorizedID: uncategorizedID,
		cache:           make(map[string]uuid.UUID),
		log:             logger.WithField("component", "category-resolver"),
	}
}

// Resolve returns the category id for a row. The only error path is a store
// failure during hint lookup; classification itself cannot fail, it degrades
// to the uncategorized bucket.
func (r *CategoryResolver) Resolve(ctx context.Context, row *NormalizedRow) (uuid.UUID, error) {
	if row.CategoryHint != "" {
		id, found, err := r.resolveHint(ctx, row.CategoryHint)
		if err != nil {
			return uuid.Nil, err
		}
		if found {
			return id, nil
		}
		// Hint named a category we do not know; fall through to the
		// classifier like a missing hint.
	}
	return r.classify(row), nil
}

func (r *CategoryResolver) resolveHint(ctx context.Context, hint string) (uuid.UUID, bool, error) {
	cacheKey := strings.ToLower(hint)

	r.mu.RLock()
	if id, ok := r.cache[cacheKey]; ok {
		r.mu.RUnlock()
		return id, true, nil
	}
	r.mu.RUnlock()

	category, err := r.lookup.GetCategoryByName(ctx, hint)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("category lookup %q: %w", hint, err)
	}
	if category == nil {
		return uuid.Nil, false, nil
	}

	r.mu.Lock()
	r.cache[cacheKey] = category.ID
	r.mu.Unlock()
	return category.ID, true, nil
}

func (r *CategoryResolver) classify(row *NormalizedRow) uuid.UUID {
	if r.classifier == nil || !r.classifier.Available() {
		return r.uncategorizedID
	}

	text := strings.TrimSpace(row.Name + " " + row.Description)
	id, confidence := r.classifier.Classify(text)

	// Low-confidence predictions are logged for manual triage, never
	// silently discarded.
	r.log.WithFields(logrus.Fields{
		"row":        row.Index,
		"category":   id,
		"confidence": confidence,
	}).Debug("classified row")

	return id
}
