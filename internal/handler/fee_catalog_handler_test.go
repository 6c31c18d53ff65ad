package handler

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type feeCatalogServiceMock struct {
	structureQuery dto.FeeStructureQuery
	createReq      dto.FeeStructureRequest
	createErr      error
	deleteForce    bool
	deleteActor    string
	deleteErr      error
}

func (m *feeCatalogServiceMock) ListCategories(ctx context.Context) ([]models.FeeCategory, error) {
	return []models.FeeCategory{{ID: "cat-tuition", Name: "Tuition"}}, nil
}

func (m *feeCatalogServiceMock) CreateCategory(ctx context.Context, req dto.FeeCategoryRequest) (*models.FeeCategory, error) {
	return &models.FeeCategory{ID: "cat-new", Name: req.Name}, nil
}

func (m *feeCatalogServiceMock) UpdateCategory(ctx context.Context, id string, req dto.FeeCategoryRequest) (*models.FeeCategory, error) {
	return &models.FeeCategory{ID: id, Name: req.Name}, nil
}

func (m *feeCatalogServiceMock) ListStructures(ctx context.Context, query dto.FeeStructureQuery) ([]models.FeeStructure, error) {
	m.structureQuery = query
	return nil, nil
}

func (m *feeCatalogServiceMock) GetStructure(ctx context.Context, id string) (*models.FeeStructure, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "fee structure not found")
}

func (m *feeCatalogServiceMock) CreateStructure(ctx context.Context, req dto.FeeStructureRequest) (*models.FeeStructure, error) {
	m.createReq = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.FeeStructure{ID: "fs-1", FeeCategoryID: req.FeeCategoryID, Amount: req.Amount}, nil
}

func (m *feeCatalogServiceMock) UpdateStructure(ctx context.Context, id string, req dto.FeeStructureRequest) (*models.FeeStructure, error) {
	return &models.FeeStructure{ID: id}, nil
}

func (m *feeCatalogServiceMock) DeleteStructure(ctx context.Context, id string, force bool, actorID string) error {
	m.deleteForce = force
	m.deleteActor = actorID
	return m.deleteErr
}

func TestFeeCatalogHandlerCreateStructure(t *testing.T) {
	svc := &feeCatalogServiceMock{}
	h := NewFeeCatalogHandler(svc)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	body := `{"fee_category_id":"cat-tuition","academic_year_id":"year-2024","semester":"sem1","amount":"5000","is_mandatory":true,"due_date":"2024-06-01"}`
	c, w := feeTestContext(http.MethodPost, "/fees/structures", bytes.NewBufferString(body), admin)
	h.CreateStructure(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, svc.createReq.IsMandatory)
	assert.Equal(t, models.SemesterOne, svc.createReq.Semester)
	assert.Equal(t, "5000", svc.createReq.Amount.String())

	svc.createErr = appErrors.Clone(appErrors.ErrConflict, "mandatory structure overlaps")
	c, w = feeTestContext(http.MethodPost, "/fees/structures", bytes.NewBufferString(body), admin)
	h.CreateStructure(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFeeCatalogHandlerListStructuresFilters(t *testing.T) {
	svc := &feeCatalogServiceMock{}
	h := NewFeeCatalogHandler(svc)

	c, w := feeTestContext(http.MethodGet, "/fees/structures?academicYearId=year-2024&gradeId=grade-5&semester=sem2&mandatory=true", nil, cashier)
	h.ListStructures(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "grade-5", svc.structureQuery.GradeID)
	assert.Equal(t, models.SemesterTwo, svc.structureQuery.Semester)
	require.NotNil(t, svc.structureQuery.Mandatory)
	assert.True(t, *svc.structureQuery.Mandatory)

	c, w = feeTestContext(http.MethodGet, "/fees/structures?mandatory=sometimes", nil, cashier)
	h.ListStructures(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = feeTestContext(http.MethodGet, "/fees/structures/fs-x", nil, cashier, gin.Param{Key: "id", Value: "fs-x"})
	h.GetStructure(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeeCatalogHandlerDeleteStructure(t *testing.T) {
	svc := &feeCatalogServiceMock{}
	h := NewFeeCatalogHandler(svc)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, w := feeTestContext(http.MethodDelete, "/fees/structures/fs-1?force=true", nil, admin, gin.Param{Key: "id", Value: "fs-1"})
	h.DeleteStructure(c)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, svc.deleteForce)
	assert.Equal(t, "admin-1", svc.deleteActor)

	svc.deleteErr = appErrors.Clone(appErrors.ErrConflict, "structure has live assignments")
	c, w = feeTestContext(http.MethodDelete, "/fees/structures/fs-1", nil, admin, gin.Param{Key: "id", Value: "fs-1"})
	h.DeleteStructure(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, svc.deleteForce)
}

func TestFeeCatalogHandlerCategories(t *testing.T) {
	h := NewFeeCatalogHandler(&feeCatalogServiceMock{})
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, w := feeTestContext(http.MethodGet, "/fees/categories", nil, cashier)
	h.ListCategories(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Tuition")

	c, w = feeTestContext(http.MethodPost, "/fees/categories", bytes.NewBufferString(`{"name":"Lab"}`), admin)
	h.CreateCategory(c)
	require.Equal(t, http.StatusCreated, w.Code)

	c, w = feeTestContext(http.MethodPut, "/fees/categories/cat-lab", bytes.NewBufferString(`{"name":`), admin, gin.Param{Key: "id", Value: "cat-lab"})
	h.UpdateCategory(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
