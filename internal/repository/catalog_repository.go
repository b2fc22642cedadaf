package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalog-service/internal/importer"
	"catalog-service/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Cache TTL constants
const (
	ProductCacheTTL     = 5 * time.Minute  // Single product cache
	ProductListCacheTTL = 2 * time.Minute  // Product list cache (shorter due to frequent changes)
	CategoryCacheTTL    = 30 * time.Minute // Categories rarely change
)

// CatalogRepository is the single persistence layer for products,
// categories and manufacturers. It backs both the HTTP handlers and the
// import pipeline (it implements importer.Store and importer.CategoryLookup).
// Redis is optional; a nil client disables caching.
type CatalogRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewCatalogRepository(db *gorm.DB, redisClient *redis.Client) *CatalogRepository {
	return &CatalogRepository{db: db, redis: redisClient}
}

var _ importer.Store = (*CatalogRepository)(nil)
var _ importer.CategoryLookup = (*CatalogRepository)(nil)

// InTransaction runs fn against a transaction-bound repository. The clone
// shares the redis client so cache writes are deliberately skipped inside
// transactions; callers flush caches after commit.
func (r *CatalogRepository) InTransaction(ctx context.Context, fn func(tx importer.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CatalogRepository{db: tx})
	})
}

// Product operations

// FindByExternalKey resolves a live product by its supplier key. Import
// matching depends on the (nil, nil) not-found contract and on surfacing
// duplicate keys instead of picking one arbitrarily.
func (r *CatalogRepository) FindByExternalKey(ctx context.Context, key string) (*models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("external_key = ?", key).
		Limit(2).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	switch len(products) {
	case 0:
		return nil, nil
	case 1:
		return &products[0], nil
	default:
		return nil, importer.ErrAmbiguousKey
	}
}

// CreateProduct creates a new product
func (r *CatalogRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	product.CreatedAt = time.Now()
	product.UpdatedAt = time.Now()

	// Ensure product has an ID before generating slug (for uniqueness)
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}

	// Generate slug from name if not provided or empty
	if product.Slug == nil || *product.Slug == "" {
		baseSlug := generateSlug(product.Name)
		// Ensure slug uniqueness by appending first 8 chars of product ID
		uniqueSlug := fmt.Sprintf("%s-%s", baseSlug, product.ID.String()[:8])
		product.Slug = &uniqueSlug
	}

	err := r.db.WithContext(ctx).Create(product).Error
	if err == nil {
		r.invalidateProductListCaches(ctx)
	}
	return err
}

// UpdateProduct applies a partial field update to a product.
func (r *CatalogRepository) UpdateProduct(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	err := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(fields).Error

	if err == nil {
		r.invalidateProductCaches(ctx, id)
	}
	return err
}

// GetProductByID retrieves a product by ID with caching
func (r *CatalogRepository) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	cacheKey := fmt.Sprintf("products:item:%s", id.String())

	if r.redis != nil {
		val, err := r.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var product models.Product
			if err := json.Unmarshal([]byte(val), &product); err == nil {
				return &product, nil
			}
		}
	}

	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(product); err == nil {
			r.redis.Set(ctx, cacheKey, data, ProductCacheTTL)
		}
	}

	return &product, nil
}

// GetProducts retrieves products with optional category filter and pagination
func (r *CatalogRepository) GetProducts(ctx context.Context, categoryID *uuid.UUID, page, limit int) ([]models.Product, int64, error) {
	cacheKey := fmt.Sprintf("products:list:%v:%d:%d", categoryID, page, limit)

	type listResult struct {
		Products []models.Product `json:"products"`
		Total    int64            `json:"total"`
	}

	if r.redis != nil {
		val, err := r.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached listResult
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached.Products, cached.Total, nil
			}
		}
	}

	var products []models.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Product{})
	if categoryID != nil {
		query = query.Where("category_id = ?", *categoryID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&products).Error; err != nil {
		return nil, 0, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(listResult{Products: products, Total: total}); err == nil {
			r.redis.Set(ctx, cacheKey, data, ProductListCacheTTL)
		}
	}

	return products, total, nil
}

// DeleteProduct soft deletes a product
func (r *CatalogRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", id).Error
	if err == nil {
		r.invalidateProductCaches(ctx, id)
	}
	return err
}

// Category operations

// CreateCategory creates a new category
func (r *CatalogRepository) CreateCategory(ctx context.Context, category *models.Category) error {
	category.CreatedAt = time.Now()
	category.UpdatedAt = time.Now()
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	if category.Slug == "" {
		category.Slug = generateSlug(category.Name)
	}

	err := r.db.WithContext(ctx).Create(category).Error
	if err == nil {
		r.deletePattern(ctx, "categories:*")
	}
	return err
}

// GetCategories retrieves categories with pagination
func (r *CatalogRepository) GetCategories(ctx context.Context, page, limit int) ([]models.Category, int64, error) {
	cacheKey := fmt.Sprintf("categories:list:%d:%d", page, limit)

	type listResult struct {
		Categories []models.Category `json:"categories"`
		Total      int64             `json:"total"`
	}

	if r.redis != nil {
		val, err := r.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached listResult
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached.Categories, cached.Total, nil
			}
		}
	}

	var categories []models.Category
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Category{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("position ASC, name ASC").Offset(offset).Limit(limit).Find(&categories).Error; err != nil {
		return nil, 0, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(listResult{Categories: categories, Total: total}); err == nil {
			r.redis.Set(ctx, cacheKey, data, CategoryCacheTTL)
		}
	}

	return categories, total, nil
}

// GetCategoryByID retrieves a category by ID
func (r *CatalogRepository) GetCategoryByID(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).First(&category, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// GetCategoryByName retrieves a category by name (case-insensitive).
// Returns (nil, nil) when no category matches; the category resolver
// treats an unknown name as a missing hint.
func (r *CatalogRepository) GetCategoryByName(ctx context.Context, name string) (*models.Category, error) {
	var category models.Category
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", name).
		First(&category).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// UpdateCategory updates a category
func (r *CatalogRepository) UpdateCategory(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	err := r.db.WithContext(ctx).Model(&models.Category{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err == nil {
		r.deletePattern(ctx, "categories:*")
	}
	return err
}

// DeleteCategory soft deletes a category
func (r *CatalogRepository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).Delete(&models.Category{}, "id = ?", id).Error
	if err == nil {
		r.deletePattern(ctx, "categories:*")
	}
	return err
}

// EnsureUncategorized finds or creates the fallback category that
// low-confidence classifications land in. Called once at worker startup.
func (r *CatalogRepository) EnsureUncategorized(ctx context.Context) (uuid.UUID, error) {
	var category models.Category
	err := r.db.WithContext(ctx).
		Where("slug = ?", models.UncategorizedSlug).
		First(&category).Error
	if err == nil {
		return category.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, fmt.Errorf("lookup uncategorized category: %w", err)
	}

	category = models.Category{
		ID:        uuid.New(),
		Name:      "Uncategorized",
		Slug:      models.UncategorizedSlug,
		Position:  999,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&category).Error; err != nil {
		// Concurrent worker startup may race on the unique slug.
		if strings.Contains(err.Error(), "duplicate") {
			var existing models.Category
			if findErr := r.db.WithContext(ctx).Where("slug = ?", models.UncategorizedSlug).First(&existing).Error; findErr == nil {
				return existing.ID, nil
			}
		}
		return uuid.Nil, fmt.Errorf("create uncategorized category: %w", err)
	}
	return category.ID, nil
}

// Manufacturer operations

// GetOrCreateManufacturer resolves a manufacturer by name (case-insensitive),
// creating it on first sight.
func (r *CatalogRepository) GetOrCreateManufacturer(ctx context.Context, name string) (*models.Manufacturer, error) {
	var manufacturer models.Manufacturer
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", name).
		First(&manufacturer).Error
	if err == nil {
		return &manufacturer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup manufacturer %q: %w", name, err)
	}

	manufacturer = models.Manufacturer{
		ID:        uuid.New(),
		Name:      name,
		Slug:      generateSlug(name),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&manufacturer).Error; err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			var existing models.Manufacturer
			if findErr := r.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&existing).Error; findErr == nil {
				return &existing, nil
			}
		}
		return nil, fmt.Errorf("create manufacturer %q: %w", name, err)
	}
	return &manufacturer, nil
}

// Cache invalidation

// InvalidateProductCaches drops every product cache entry. The worker calls
// this once after an import reaches a terminal state so shop reads see the
// imported catalog.
func (r *CatalogRepository) InvalidateProductCaches(ctx context.Context) {
	r.deletePattern(ctx, "products:*")
}

func (r *CatalogRepository) invalidateProductCaches(ctx context.Context, productID uuid.UUID) {
	if r.redis == nil {
		return
	}
	r.redis.Del(ctx, fmt.Sprintf("products:item:%s", productID.String()))
	r.invalidateProductListCaches(ctx)
}

func (r *CatalogRepository) invalidateProductListCaches(ctx context.Context) {
	r.deletePattern(ctx, "products:list:*")
}

// deletePattern removes cache keys by pattern using SCAN to avoid blocking
// redis the way KEYS would.
func (r *CatalogRepository) deletePattern(ctx context.Context, pattern string) {
	if r.redis == nil {
		return
	}

	iter := r.redis.Scan(ctx, 0, pattern, 100).Iterator()
	keys := make([]string, 0, 100)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			r.redis.Del(ctx, keys...)
			keys = keys[:0]
		}
	}
	if len(keys) > 0 {
		r.redis.Del(ctx, keys...)
	}
}

// generateSlug creates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
