package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

type feeCollectionService interface {
	BuildAndCollect(ctx context.Context, req dto.CollectFeeRequest, staffID string) (*models.CollectionResult, error)
	Verify(ctx context.Context, collectionID, adminID string) (*models.FeeCollection, error)
	Amend(ctx context.Context, collectionID string, req dto.AmendCollectionRequest, actorID string) (*models.FeeCollection, error)
	GetReceipt(ctx context.Context, collectionID string) (*models.ReceiptView, error)
	ReceiptPDF(ctx context.Context, collectionID string) ([]byte, string, error)
	History(ctx context.Context, collectionID string) ([]models.AuditLog, error)
	CheckReceiptCode(ctx context.Context, receiptNumber, code string) (*models.ReceiptCheck, error)
	ListCollections(ctx context.Context, query dto.CollectionQuery) ([]models.FeeCollection, *models.Pagination, error)
	ExportCollectionsCSV(ctx context.Context, query dto.CollectionQuery) ([]byte, error)
	ExportCollectionsPDF(ctx context.Context, query dto.CollectionQuery) ([]byte, error)
}

var errCollectionNotFound = appErrors.Clone(appErrors.ErrNotFound, "fee collection not found")

// FeeCollectionHandler exposes the collection desk endpoints.
type FeeCollectionHandler struct {
	service feeCollectionService
	now     func() time.Time
}

// NewFeeCollectionHandler builds a new handler.
func NewFeeCollectionHandler(service feeCollectionService) *FeeCollectionHandler {
	return &FeeCollectionHandler{service: service, now: time.Now}
}

// Collect godoc
// @Summary Post a fee collection
// @Description Validates the selection, recomputes the total server side and posts the collection atomically.
// @Tags Fee Collections
// @Accept json
// @Produce json
// @Param payload body dto.CollectFeeRequest true "Collection payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /fees/collections [post]
func (h *FeeCollectionHandler) Collect(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.CollectFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid collection payload"))
		return
	}
	result, err := h.service.BuildAndCollect(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Verify godoc
// @Summary Verify a collection
// @Description Marks the collection verified. Verified collections can no longer be amended.
// @Tags Fee Collections
// @Produce json
// @Param id path string true "Collection ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/collections/{id}/verify [post]
func (h *FeeCollectionHandler) Verify(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", errCollectionNotFound)
	if !ok {
		return
	}
	item, err := h.service.Verify(c.Request.Context(), id, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Amend godoc
// @Summary Amend remarks or reference of an unverified collection
// @Tags Fee Collections
// @Accept json
// @Produce json
// @Param id path string true "Collection ID"
// @Param payload body dto.AmendCollectionRequest true "Amend payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /fees/collections/{id} [patch]
func (h *FeeCollectionHandler) Amend(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", errCollectionNotFound)
	if !ok {
		return
	}
	var req dto.AmendCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid amend payload"))
		return
	}
	item, err := h.service.Amend(c.Request.Context(), id, req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// History godoc
// @Summary Audit trail of a collection
// @Tags Fee Collections
// @Produce json
// @Param id path string true "Collection ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/collections/{id}/history [get]
func (h *FeeCollectionHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id", errCollectionNotFound)
	if !ok {
		return
	}
	logs, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Receipt godoc
// @Summary Get a collection receipt
// @Tags Fee Collections
// @Produce json
// @Param id path string true "Collection ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/collections/{id}/receipt [get]
func (h *FeeCollectionHandler) Receipt(c *gin.Context) {
	id, ok := pathID(c, "id", appErrors.ErrReceiptNotFound)
	if !ok {
		return
	}
	view, err := h.service.GetReceipt(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// ReceiptPDF godoc
// @Summary Download a printable receipt
// @Tags Fee Collections
// @Produce application/pdf
// @Param id path string true "Collection ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /fees/collections/{id}/receipt.pdf [get]
func (h *FeeCollectionHandler) ReceiptPDF(c *gin.Context) {
	id, ok := pathID(c, "id", appErrors.ErrReceiptNotFound)
	if !ok {
		return
	}
	content, filename, err := h.service.ReceiptPDF(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Download(c, "application/pdf", filename, content)
}

// CheckReceipt godoc
// @Summary Check a printed receipt code
// @Description Public endpoint used to confirm a paper receipt against the ledger.
// @Tags Fee Collections
// @Produce json
// @Param receiptNumber path string true "Receipt number"
// @Param code query string true "Verification code printed on the receipt"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /fees/receipts/{receiptNumber}/check [get]
func (h *FeeCollectionHandler) CheckReceipt(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.Error(c, appErrors.Field("code", "is required"))
		return
	}
	check, err := h.service.CheckReceiptCode(c.Request.Context(), c.Param("receiptNumber"), code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, check, nil)
}

// List godoc
// @Summary List fee collections
// @Tags Fee Collections
// @Produce json
// @Param studentId query string false "Student"
// @Param staffId query string false "Collecting staff"
// @Param paymentMode query string false "Payment mode"
// @Param verified query bool false "Verification state"
// @Param semester query string false "Semester"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /fees/collections [get]
func (h *FeeCollectionHandler) List(c *gin.Context) {
	query, err := collectionQueryFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.service.ListCollections(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ExportCSV godoc
// @Summary Export fee collections as CSV
// @Tags Fee Collections
// @Produce text/csv
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {file} file
// @Router /fees/collections/export.csv [get]
func (h *FeeCollectionHandler) ExportCSV(c *gin.Context) {
	query, err := collectionQueryFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := h.service.ExportCollectionsCSV(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("fee-collections-%s.csv", h.now().UTC().Format("20060102"))
	response.Download(c, "text/csv; charset=utf-8", filename, content)
}

// ExportPDF godoc
// @Summary Print the fee collections register
// @Tags Fee Collections
// @Produce application/pdf
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {file} file
// @Router /fees/collections/export.pdf [get]
func (h *FeeCollectionHandler) ExportPDF(c *gin.Context) {
	query, err := collectionQueryFromRequest(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	content, err := h.service.ExportCollectionsPDF(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("fee-collections-%s.pdf", h.now().UTC().Format("20060102"))
	response.Download(c, "application/pdf", filename, content)
}

func collectionQueryFromRequest(c *gin.Context) (dto.CollectionQuery, error) {
	query := dto.CollectionQuery{
		StudentID:   c.Query("studentId"),
		StaffID:     c.Query("staffId"),
		PaymentMode: models.PaymentMode(c.Query("paymentMode")),
		Semester:    models.Semester(c.Query("semester")),
		From:        c.Query("from"),
		To:          c.Query("to"),
	}
	if raw := c.Query("verified"); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return query, appErrors.Field("verified", "must be true or false")
		}
		query.Verified = &val
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		query.PageSize = size
	}
	return query, nil
}
