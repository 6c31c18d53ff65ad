package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

type feeCatalogService interface {
	ListCategories(ctx context.Context) ([]models.FeeCategory, error)
	CreateCategory(ctx context.Context, req dto.FeeCategoryRequest) (*models.FeeCategory, error)
	UpdateCategory(ctx context.Context, id string, req dto.FeeCategoryRequest) (*models.FeeCategory, error)
	ListStructures(ctx context.Context, query dto.FeeStructureQuery) ([]models.FeeStructure, error)
	GetStructure(ctx context.Context, id string) (*models.FeeStructure, error)
	CreateStructure(ctx context.Context, req dto.FeeStructureRequest) (*models.FeeStructure, error)
	UpdateStructure(ctx context.Context, id string, req dto.FeeStructureRequest) (*models.FeeStructure, error)
	DeleteStructure(ctx context.Context, id string, force bool, actorID string) error
}

// FeeCatalogHandler exposes fee category and structure endpoints.
type FeeCatalogHandler struct {
	service feeCatalogService
}

// NewFeeCatalogHandler builds a new handler.
func NewFeeCatalogHandler(service feeCatalogService) *FeeCatalogHandler {
	return &FeeCatalogHandler{service: service}
}

// ListCategories godoc
// @Summary List fee categories
// @Tags Fee Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /fees/categories [get]
func (h *FeeCatalogHandler) ListCategories(c *gin.Context) {
	items, err := h.service.ListCategories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// CreateCategory godoc
// @Summary Create a fee category
// @Tags Fee Catalog
// @Accept json
// @Produce json
// @Param payload body dto.FeeCategoryRequest true "Category payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/categories [post]
func (h *FeeCatalogHandler) CreateCategory(c *gin.Context) {
	var req dto.FeeCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid category payload"))
		return
	}
	item, err := h.service.CreateCategory(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// UpdateCategory godoc
// @Summary Rename a fee category
// @Tags Fee Catalog
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param payload body dto.FeeCategoryRequest true "Category payload"
// @Success 200 {object} response.Envelope
// @Router /fees/categories/{id} [put]
func (h *FeeCatalogHandler) UpdateCategory(c *gin.Context) {
	var req dto.FeeCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid category payload"))
		return
	}
	item, err := h.service.UpdateCategory(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// ListStructures godoc
// @Summary List fee structures
// @Tags Fee Catalog
// @Produce json
// @Param academicYearId query string false "Academic year"
// @Param gradeId query string false "Grade"
// @Param categoryId query string false "Category"
// @Param semester query string false "sem1, sem2 or both"
// @Param mandatory query bool false "Mandatory flag"
// @Success 200 {object} response.Envelope
// @Router /fees/structures [get]
func (h *FeeCatalogHandler) ListStructures(c *gin.Context) {
	query := dto.FeeStructureQuery{
		AcademicYearID: c.Query("academicYearId"),
		GradeID:        c.Query("gradeId"),
		CategoryID:     c.Query("categoryId"),
		Semester:       models.Semester(c.Query("semester")),
	}
	if raw := c.Query("mandatory"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Field("mandatory", "must be true or false"))
			return
		}
		query.Mandatory = &val
	}
	items, err := h.service.ListStructures(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// GetStructure godoc
// @Summary Get a fee structure
// @Tags Fee Catalog
// @Produce json
// @Param id path string true "Structure ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/structures/{id} [get]
func (h *FeeCatalogHandler) GetStructure(c *gin.Context) {
	item, err := h.service.GetStructure(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// CreateStructure godoc
// @Summary Create a fee structure
// @Tags Fee Catalog
// @Accept json
// @Produce json
// @Param payload body dto.FeeStructureRequest true "Structure payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/structures [post]
func (h *FeeCatalogHandler) CreateStructure(c *gin.Context) {
	var req dto.FeeStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid structure payload"))
		return
	}
	item, err := h.service.CreateStructure(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// UpdateStructure godoc
// @Summary Update a fee structure
// @Tags Fee Catalog
// @Accept json
// @Produce json
// @Param id path string true "Structure ID"
// @Param payload body dto.FeeStructureRequest true "Structure payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/structures/{id} [put]
func (h *FeeCatalogHandler) UpdateStructure(c *gin.Context) {
	var req dto.FeeStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid structure payload"))
		return
	}
	item, err := h.service.UpdateStructure(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// DeleteStructure godoc
// @Summary Retire a fee structure
// @Description Soft deletes the structure. With force=true its live assignments are cancelled.
// @Tags Fee Catalog
// @Param id path string true "Structure ID"
// @Param force query bool false "Cancel live assignments"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /fees/structures/{id} [delete]
func (h *FeeCatalogHandler) DeleteStructure(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err := h.service.DeleteStructure(c.Request.Context(), c.Param("id"), force, claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
