package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSON type for PostgreSQL JSONB (object/map)
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSON)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// JSONArray type for PostgreSQL JSONB (array)
type JSONArray []interface{}

func (j JSONArray) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONArray, 0)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// UncategorizedSlug is the slug of the fallback category assigned when
// automatic classification confidence is insufficient. The category is
// ensured at worker startup and never deleted.
const UncategorizedSlug = "uncategorized"

// Product represents a catalog product. ExternalKey is the supplier-stable
// identifier used to match price-list rows to existing products across
// re-imports; it is unique among live products.
type Product struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ExternalKey    string          `json:"externalKey" gorm:"not null;index:idx_products_external_key"`
	Name           string          `json:"name" gorm:"not null"`
	Slug           *string         `json:"slug,omitempty" gorm:"index:idx_products_slug,unique"`
	Description    *string         `json:"description,omitempty"`
	Price          string          `json:"price" gorm:"not null"`
	CategoryID     uuid.UUID       `json:"categoryId" gorm:"type:uuid;not null;index"`
	ManufacturerID *uuid.UUID      `json:"manufacturerId,omitempty" gorm:"type:uuid;index"`
	Images         *JSONArray      `json:"images,omitempty" gorm:"type:jsonb"`
	InStock        bool            `json:"inStock" gorm:"not null;default:true"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	DeletedAt      *gorm.DeletedAt `json:"deletedAt,omitempty" gorm:"index"`
}

// Category represents a product category
type Category struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string          `json:"name" gorm:"not null"`
	Slug        string          `json:"slug" gorm:"not null;index:idx_categories_slug,unique"`
	Description *string         `json:"description,omitempty"`
	ParentID    *uuid.UUID      `json:"parentId,omitempty" gorm:"column:parent_id"`
	Position    int             `json:"position" gorm:"not null;default:1"`
	IsActive    *bool           `json:"isActive" gorm:"column:is_active;default:true"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	DeletedAt   *gorm.DeletedAt `json:"deletedAt,omitempty" gorm:"index"`
}

// Manufacturer represents a product manufacturer, resolved by name during
// import (auto-created when a price list names one we have not seen).
type Manufacturer struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string          `json:"name" gorm:"not null;index:idx_manufacturers_name,unique"`
	Slug      string          `json:"slug" gorm:"not null"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	DeletedAt *gorm.DeletedAt `json:"deletedAt,omitempty" gorm:"index"`
}

// CreateProductRequest represents a request to create a new product
type CreateProductRequest struct {
	ExternalKey    string   `json:"externalKey" binding:"required"`
	Name           string   `json:"name" binding:"required"`
	Slug           *string  `json:"slug,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Price          string   `json:"price" binding:"required"`
	CategoryID     string   `json:"categoryId" binding:"required"`
	ManufacturerID *string  `json:"manufacturerId,omitempty"`
	Images         []string `json:"images,omitempty"`
	InStock        *bool    `json:"inStock,omitempty"`
}

// UpdateProductRequest represents a request to update a product
type UpdateProductRequest struct {
	Name           *string  `json:"name,omitempty"`
	Slug           *string  `json:"slug,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Price          *string  `json:"price,omitempty"`
	CategoryID     *string  `json:"categoryId,omitempty"`
	ManufacturerID *string  `json:"manufacturerId,omitempty"`
	Images         []string `json:"images,omitempty"`
	InStock        *bool    `json:"inStock,omitempty"`
}

// CreateCategoryRequest represents a request to create a category
type CreateCategoryRequest struct {
	Name        string  `json:"name" binding:"required"`
	Slug        *string `json:"slug,omitempty"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

// UpdateCategoryRequest represents a request to update a category
type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty"`
	Slug        *string `json:"slug,omitempty"`
	Description *string `json:"description,omitempty"`
	ParentID    *string `json:"parentId,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

// Response types
type PaginationInfo struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"totalPages"`
	HasNext     bool  `json:"hasNext"`
	HasPrevious bool  `json:"hasPrevious"`
}

type ProductResponse struct {
	Success bool     `json:"success"`
	Data    *Product `json:"data"`
	Message *string  `json:"message,omitempty"`
}

type ProductListResponse struct {
	Success    bool            `json:"success"`
	Data       []Product       `json:"data"`
	Pagination *PaginationInfo `json:"pagination"`
}

type CategoryResponse struct {
	Success bool      `json:"success"`
	Data    *Category `json:"data"`
	Message *string   `json:"message,omitempty"`
}

type CategoryListResponse struct {
	Success    bool            `json:"success"`
	Data       []Category      `json:"data"`
	Pagination *PaginationInfo `json:"pagination"`
}

type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     Error  `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details *JSON  `json:"details,omitempty"`
}

type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message *string     `json:"message,omitempty"`
}

// TableName returns the table name for the Product model
func (Product) TableName() string {
	return "products"
}

// TableName returns the table name for the Category model
func (Category) TableName() string {
	return "categories"
}

// TableName returns the table name for the Manufacturer model
func (Manufacturer) TableName() string {
	return "manufacturers"
}
