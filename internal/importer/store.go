package importer

import (
	"context"
	"errors"

	"catalog-service/internal/models"
	"github.com/google/uuid"
)

// ErrAmbiguousKey is returned by FindByExternalKey when more than one live
// product carries the same external key. That is an upstream data integrity
// violation; such rows are surfaced, never auto-resolved.
var ErrAmbiguousKey = errors.New("external key matches more than one product")

// Store is the catalog store contract consumed by the import pipeline.
// Implemented by the repository layer; write access to the catalog goes
// through InTransaction exclusively.
type Store interface {
	// InTransaction runs fn against a transaction-bound Store. An error
	// from fn rolls the transaction back.
	InTransaction(ctx context.Context, fn func(tx Store) error) error

	// FindByExternalKey resolves a live product by its supplier key.
	// Returns (nil, nil) when no product matches and ErrAmbiguousKey when
	// several do.
	FindByExternalKey(ctx context.Context, key string) (*models.Product, error)

	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error

	// GetOrCreateManufacturer resolves a manufacturer by name, creating it
	// on first sight.
	GetOrCreateManufacturer(ctx context.Context, name string) (*models.Manufacturer, error)
}

// CategoryLookup resolves category names to known categories. Consumed by
// the category resolver; reads only.
type CategoryLookup interface {
	GetCategoryByName(ctx context.Context, name string) (*models.Category, error)
}
