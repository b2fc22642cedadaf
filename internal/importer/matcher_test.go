package importer

import (
	"context"
	"errors"
	"testing"

	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore answers FindByExternalKey from fixed fields; writes are not
// exercised by the matcher.
type stubStore struct {
	product *models.Product
	err     error
}

func (s *stubStore) InTransaction(_ context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *stubStore) FindByExternalKey(_ context.Context, _ string) (*models.Product, error) {
	return s.product, s.err
}

func (s *stubStore) CreateProduct(_ context.Context, _ *models.Product) error { return nil }

func (s *stubStore) UpdateProduct(_ context.Context, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}

func (s *stubStore) GetOrCreateManufacturer(_ context.Context, name string) (*models.Manufacturer, error) {
	return &models.Manufacturer{ID: uuid.New(), Name: name}, nil
}

func matchRow() *NormalizedRow {
	return &NormalizedRow{
		Index:       2,
		ExternalKey: "DK-1",
		Name:        "Oak Door",
		Price:       "199.90",
	}
}

func TestMatchNew(t *testing.T) {
	result, err := Match(context.Background(), &stubStore{}, matchRow(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, MatchNew, result.Kind)
	assert.Nil(t, result.Existing)
}

func TestMatchUpdateDiffsChangedFieldsOnly(t *testing.T) {
	categoryID := uuid.New()
	existing := &models.Product{
		ID:          uuid.New(),
		ExternalKey: "DK-1",
		Name:        "Oak Door",
		Price:       "149.00",
		CategoryID:  categoryID,
	}

	result, err := Match(context.Background(), &stubStore{product: existing}, matchRow(), categoryID, nil)
	require.NoError(t, err)
	assert.Equal(t, MatchUpdate, result.Kind)
	require.NotNil(t, result.Existing)
	assert.Equal(t, existing.ID, result.Existing.ID)

	// Only the price differs; name and category must not be re-written.
	assert.Equal(t, map[string]interface{}{"price": "199.90"}, result.Changes)
}

func TestMatchNoChangeForIdenticalRow(t *testing.T) {
	categoryID := uuid.New()
	existing := &models.Product{
		ID:          uuid.New(),
		ExternalKey: "DK-1",
		Name:        "Oak Door",
		Price:       "199.90",
		CategoryID:  categoryID,
	}

	result, err := Match(context.Background(), &stubStore{product: existing}, matchRow(), categoryID, nil)
	require.NoError(t, err)
	assert.Equal(t, MatchNoChange, result.Kind)
	assert.Empty(t, result.Changes)
}

func TestMatchUpdateDetectsManufacturerAndImages(t *testing.T) {
	categoryID := uuid.New()
	manufacturerID := uuid.New()
	existing := &models.Product{
		ID:          uuid.New(),
		ExternalKey: "DK-1",
		Name:        "Oak Door",
		Price:       "199.90",
		CategoryID:  categoryID,
	}

	row := matchRow()
	row.Images = []string{"http://a/1.jpg"}

	result, err := Match(context.Background(), &stubStore{product: existing}, row, categoryID, &manufacturerID)
	require.NoError(t, err)
	assert.Equal(t, MatchUpdate, result.Kind)
	assert.Contains(t, result.Changes, "manufacturer_id")
	assert.Contains(t, result.Changes, "images")
	assert.NotContains(t, result.Changes, "price")
}

func TestMatchAmbiguousKeyIsVerdictNotError(t *testing.T) {
	result, err := Match(context.Background(), &stubStore{err: ErrAmbiguousKey}, matchRow(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, MatchAmbiguous, result.Kind)
	assert.Contains(t, result.Reason, "DK-1")
}

func TestMatchPropagatesLookupError(t *testing.T) {
	storeErr := errors.New("connection refused")
	_, err := Match(context.Background(), &stubStore{err: storeErr}, matchRow(), uuid.New(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
}

func TestBuildProduct(t *testing.T) {
	categoryID := uuid.New()
	row := matchRow()
	row.Description = "Solid oak"
	row.Images = []string{"http://a/1.jpg"}

	product := BuildProduct(row, categoryID, nil)
	assert.Equal(t, "DK-1", product.ExternalKey)
	assert.Equal(t, "Oak Door", product.Name)
	assert.Equal(t, "199.90", product.Price)
	assert.Equal(t, categoryID, product.CategoryID)
	require.NotNil(t, product.Description)
	assert.Equal(t, "Solid oak", *product.Description)
	assert.True(t, product.InStock)
	require.NotNil(t, product.Images)
	assert.Len(t, *product.Images, 1)
}
