package importer

import (
	"context"
	"errors"
	"fmt"

	"catalog-service/internal/models"
	"github.com/google/uuid"
)

// MatchKind classifies a normalized row against the existing catalog.
type MatchKind int

const (
	// MatchNew: no live product carries the row's external key.
	MatchNew MatchKind = iota
	// MatchUpdate: an existing product matches and has field-level diffs.
	MatchUpdate
	// MatchNoChange: an existing product matches and is identical; the row
	// is skipped, no write is wasted.
	MatchNoChange
	// MatchAmbiguous: the external key collides with more than one live
	// product. Never auto-applied.
	MatchAmbiguous
)

// MatchResult is the matcher's per-row verdict. Changes is populated only
// for MatchUpdate and holds the column->value payload of fields that differ.
type MatchResult struct {
	Kind     MatchKind
	Existing *models.Product
	Changes  map[string]interface{}
	Reason   string
}

// Match resolves a normalized row to an existing product by external key,
// or flags it as new. categoryID and manufacturerID are the row's already
// resolved references; they participate in the field diff.
//
// A non-nil error means the lookup itself failed (store trouble) and is
// distinct from MatchAmbiguous, which is a data verdict.
func Match(ctx context.Context, store Store, row *NormalizedRow, categoryID uuid.UUID, manufacturerID *uuid.UUID) (MatchResult, error) {
	existing, err := store.FindByExternalKey(ctx, row.ExternalKey)
	if errors.Is(err, ErrAmbiguousKey) {
		return MatchResult{
			Kind:   MatchAmbiguous,
			Reason: fmt.Sprintf("external_key %q matches more than one product", row.ExternalKey),
		}, nil
	}
	if err != nil {
		return MatchResult{}, fmt.Errorf("lookup by external_key %q: %w", row.ExternalKey, err)
	}
	if existing == nil {
		return MatchResult{Kind: MatchNew}, nil
	}

	changes := diffFields(existing, row, categoryID, manufacturerID)
	if len(changes) == 0 {
		return MatchResult{Kind: MatchNoChange, Existing: existing}, nil
	}
	return MatchResult{Kind: MatchUpdate, Existing: existing, Changes: changes}, nil
}

// BuildProduct assembles the candidate product for a MatchNew row.
func BuildProduct(row *NormalizedRow, categoryID uuid.UUID, manufacturerID *uuid.UUID) *models.Product {
	return &models.Product{
		ExternalKey:    row.ExternalKey,
		Name:           row.Name,
		Price:          row.Price,
		Description:    optionalString(row.Description),
		CategoryID:     categoryID,
		ManufacturerID: manufacturerID,
		Images:         imagesJSON(row.Images),
		InStock:        true,
	}
}

func diffFields(existing *models.Product, row *NormalizedRow, categoryID uuid.UUID, manufacturerID *uuid.UUID) map[string]interface{} {
	changes := make(map[string]interface{})

	if existing.Name != row.Name {
		changes["name"] = row.Name
	}
	if existing.Price != row.Price {
		changes["price"] = row.Price
	}
	if derefString(existing.Description) != row.Description {
		changes["description"] = optionalString(row.Description)
	}
	if existing.CategoryID != categoryID {
		changes["category_id"] = categoryID
	}
	if !uuidPtrEqual(existing.ManufacturerID, manufacturerID) {
		changes["manufacturer_id"] = manufacturerID
	}
	if !imagesEqual(existing.Images, row.Images) {
		changes["images"] = imagesJSON(row.Images)
	}

	return changes
}

func imagesJSON(images []string) *models.JSONArray {
	if len(images) == 0 {
		return nil
	}
	arr := make(models.JSONArray, 0, len(images))
	for _, img := range images {
		arr = append(arr, img)
	}
	return &arr
}

func imagesEqual(existing *models.JSONArray, images []string) bool {
	var current []string
	if existing != nil {
		for _, v := range *existing {
			if s, ok := v.(string); ok {
				current = append(current, s)
			}
		}
	}
	if len(current) != len(images) {
		return false
	}
	for i := range current {
		if current[i] != images[i] {
			return false
		}
	}
	return true
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
