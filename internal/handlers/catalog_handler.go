package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"catalog-service/internal/models"
	"catalog-service/internal/repository"
)

// Pager parses page/limit query parameters with configured bounds.
type Pager struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (p Pager) Parse(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(p.DefaultPageSize)))
	if limit < 1 {
		limit = p.DefaultPageSize
	}
	if limit > p.MaxPageSize {
		limit = p.MaxPageSize
	}
	return page, limit
}

func buildPagination(page, limit int, total int64) *models.PaginationInfo {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &models.PaginationInfo{
		Page:        page,
		Limit:       limit,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

type CatalogHandler struct {
	repo  *repository.CatalogRepository
	pager Pager
	log   *logrus.Entry
}

func NewCatalogHandler(repo *repository.CatalogRepository, pager Pager, logger *logrus.Logger) *CatalogHandler {
	return &CatalogHandler{
		repo:  repo,
		pager: pager,
		log:   logger.WithField("component", "catalog-handler"),
	}
}

// Product endpoints

// GetProducts lists products, optionally filtered by category.
// @Summary List products
// @Tags products
// @Produce json
// @Param categoryId query string false "Filter by category"
// @Success 200 {object} models.ProductListResponse
// @Router /products [get]
func (h *CatalogHandler) GetProducts(c *gin.Context) {
	page, limit := h.pager.Parse(c)

	var categoryID *uuid.UUID
	if raw := c.Query("categoryId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			h.badRequest(c, "INVALID_CATEGORY_ID", "categoryId must be a valid UUID")
			return
		}
		categoryID = &parsed
	}

	products, total, err := h.repo.GetProducts(c.Request.Context(), categoryID, page, limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to fetch products")
		h.internalError(c, "Failed to fetch products")
		return
	}

	c.JSON(http.StatusOK, models.ProductListResponse{
		Success:    true,
		Data:       products,
		Pagination: buildPagination(page, limit, total),
	})
}

// GetProduct returns a single product.
// @Summary Get a product
// @Tags products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} models.ProductResponse
// @Router /products/{id} [get]
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	product, err := h.repo.GetProductByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.notFound(c, "Product not found")
			return
		}
		h.log.WithError(err).Error("Failed to fetch product")
		h.internalError(c, "Failed to fetch product")
		return
	}

	c.JSON(http.StatusOK, models.ProductResponse{Success: true, Data: product})
}

// CreateProduct creates a new product
// @Summary Create a product
// @Tags products
// @Accept json
// @Produce json
// @Success 201 {object} models.ProductResponse
// @Router /products [post]
func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "VALIDATION_ERROR", err.Error())
		return
	}

	categoryID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		h.badRequest(c, "INVALID_CATEGORY_ID", "categoryId must be a valid UUID")
		return
	}

	product := &models.Product{
		ExternalKey: req.ExternalKey,
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		Price:       req.Price,
		CategoryID:  categoryID,
		InStock:     true,
	}
	if req.ManufacturerID != nil {
		manufacturerID, err := uuid.Parse(*req.ManufacturerID)
		if err != nil {
			h.badRequest(c, "INVALID_MANUFACTURER_ID", "manufacturerId must be a valid UUID")
			return
		}
		product.ManufacturerID = &manufacturerID
	}
	if req.InStock != nil {
		product.InStock = *req.InStock
	}
	if len(req.Images) > 0 {
		images := make(models.JSONArray, len(req.Images))
		for i, img := range req.Images {
			images[i] = img
		}
		product.Images = &images
	}

	if err := h.repo.CreateProduct(c.Request.Context(), product); err != nil {
		h.log.WithError(err).Error("Failed to create product")
		h.internalError(c, "Failed to create product")
		return
	}

	c.JSON(http.StatusCreated, models.ProductResponse{Success: true, Data: product})
}

// UpdateProduct applies a partial update to a product.
// @Summary Update a product
// @Tags products
// @Accept json
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} models.ProductResponse
// @Router /products/{id} [put]
func (h *CatalogHandler) UpdateProduct(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req models.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "VALIDATION_ERROR", err.Error())
		return
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Slug != nil {
		fields["slug"] = *req.Slug
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.Price != nil {
		fields["price"] = *req.Price
	}
	if req.CategoryID != nil {
		categoryID, err := uuid.Parse(*req.CategoryID)
		if err != nil {
			h.badRequest(c, "INVALID_CATEGORY_ID", "categoryId must be a valid UUID")
			return
		}
		fields["category_id"] = categoryID
	}
	if req.ManufacturerID != nil {
		manufacturerID, err := uuid.Parse(*req.ManufacturerID)
		if err != nil {
			h.badRequest(c, "INVALID_MANUFACTURER_ID", "manufacturerId must be a valid UUID")
			return
		}
		fields["manufacturer_id"] = manufacturerID
	}
	if req.InStock != nil {
		fields["in_stock"] = *req.InStock
	}
	if req.Images != nil {
		images := make(models.JSONArray, len(req.Images))
		for i, img := range req.Images {
			images[i] = img
		}
		fields["images"] = images
	}

	if len(fields) == 0 {
		h.badRequest(c, "EMPTY_UPDATE", "No fields to update")
		return
	}

	if err := h.repo.UpdateProduct(c.Request.Context(), id, fields); err != nil {
		h.log.WithError(err).Error("Failed to update product")
		h.internalError(c, "Failed to update product")
		return
	}

	product, err := h.repo.GetProductByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.notFound(c, "Product not found")
			return
		}
		h.log.WithError(err).Error("Failed to fetch updated product")
		h.internalError(c, "Failed to fetch updated product")
		return
	}

	c.JSON(http.StatusOK, models.ProductResponse{Success: true, Data: product})
}

// DeleteProduct soft deletes a product.
// @Summary Delete a product
// @Tags products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} models.SuccessResponse
// @Router /products/{id} [delete]
func (h *CatalogHandler) DeleteProduct(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.repo.DeleteProduct(c.Request.Context(), id); err != nil {
		h.log.WithError(err).Error("Failed to delete product")
		h.internalError(c, "Failed to delete product")
		return
	}

	message := "Product deleted"
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: &message})
}

// Category endpoints

// GetCategories lists categories.
// @Summary List categories
// @Tags categories
// @Produce json
// @Success 200 {object} models.CategoryListResponse
// @Router /categories [get]
func (h *CatalogHandler) GetCategories(c *gin.Context) {
	page, limit := h.pager.Parse(c)

	categories, total, err := h.repo.GetCategories(c.Request.Context(), page, limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to fetch categories")
		h.internalError(c, "Failed to fetch categories")
		return
	}

	c.JSON(http.StatusOK, models.CategoryListResponse{
		Success:    true,
		Data:       categories,
		Pagination: buildPagination(page, limit, total),
	})
}

// GetCategory returns a single category.
// @Summary Get a category
// @Tags categories
// @Produce json
// @Param id path string true "Category ID"
// @Success 200 {object} models.CategoryResponse
// @Router /categories/{id} [get]
func (h *CatalogHandler) GetCategory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	category, err := h.repo.GetCategoryByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.notFound(c, "Category not found")
			return
		}
		h.log.WithError(err).Error("Failed to fetch category")
		h.internalError(c, "Failed to fetch category")
		return
	}

	c.JSON(http.StatusOK, models.CategoryResponse{Success: true, Data: category})
}

// CreateCategory creates a new category.
// @Summary Create a category
// @Tags categories
// @Accept json
// @Produce json
// @Success 201 {object} models.CategoryResponse
// @Router /categories [post]
func (h *CatalogHandler) CreateCategory(c *gin.Context) {
	var req models.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "VALIDATION_ERROR", err.Error())
		return
	}

	category := &models.Category{
		Name:        req.Name,
		Description: req.Description,
		Position:    1,
	}
	if req.Slug != nil {
		category.Slug = *req.Slug
	}
	if req.Position != nil {
		category.Position = *req.Position
	}
	if req.ParentID != nil {
		parentID, err := uuid.Parse(*req.ParentID)
		if err != nil {
			h.badRequest(c, "INVALID_PARENT_ID", "parentId must be a valid UUID")
			return
		}
		category.ParentID = &parentID
	}

	if err := h.repo.CreateCategory(c.Request.Context(), category); err != nil {
		h.log.WithError(err).Error("Failed to create category")
		h.internalError(c, "Failed to create category")
		return
	}

	c.JSON(http.StatusCreated, models.CategoryResponse{Success: true, Data: category})
}

// UpdateCategory applies a partial update to a category.
// @Summary Update a category
// @Tags categories
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Success 200 {object} models.CategoryResponse
// @Router /categories/{id} [put]
func (h *CatalogHandler) UpdateCategory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req models.UpdateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "VALIDATION_ERROR", err.Error())
		return
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Slug != nil {
		fields["slug"] = *req.Slug
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.IsActive != nil {
		fields["is_active"] = *req.IsActive
	}
	if req.Position != nil {
		fields["position"] = *req.Position
	}
	if req.ParentID != nil {
		parentID, err := uuid.Parse(*req.ParentID)
		if err != nil {
			h.badRequest(c, "INVALID_PARENT_ID", "parentId must be a valid UUID")
			return
		}
		fields["parent_id"] = parentID
	}

	if len(fields) == 0 {
		h.badRequest(c, "EMPTY_UPDATE", "No fields to update")
		return
	}

	if err := h.repo.UpdateCategory(c.Request.Context(), id, fields); err != nil {
		h.log.WithError(err).Error("Failed to update category")
		h.internalError(c, "Failed to update category")
		return
	}

	category, err := h.repo.GetCategoryByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.notFound(c, "Category not found")
			return
		}
		h.log.WithError(err).Error("Failed to fetch updated category")
		h.internalError(c, "Failed to fetch updated category")
		return
	}

	c.JSON(http.StatusOK, models.CategoryResponse{Success: true, Data: category})
}

// DeleteCategory soft deletes a category.
// @Summary Delete a category
// @Tags categories
// @Produce json
// @Param id path string true "Category ID"
// @Success 200 {object} models.SuccessResponse
// @Router /categories/{id} [delete]
func (h *CatalogHandler) DeleteCategory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.repo.DeleteCategory(c.Request.Context(), id); err != nil {
		h.log.WithError(err).Error("Failed to delete category")
		h.internalError(c, "Failed to delete category")
		return
	}

	message := "Category deleted"
	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: &message})
}

// Helpers

func (h *CatalogHandler) pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "INVALID_ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *CatalogHandler) badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error:   models.Error{Code: code, Message: message},
	})
}

func (h *CatalogHandler) notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Success: false,
		Error:   models.Error{Code: "NOT_FOUND", Message: message},
	})
}

func (h *CatalogHandler) internalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Success: false,
		Error:   models.Error{Code: "INTERNAL_ERROR", Message: message},
	})
}
