package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/dto"
	"github.com/noah-isme/sma-fee-api/internal/middleware"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

func feeTestContext(method, target string, body io.Reader, claims *models.JWTClaims, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	c.Params = params
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error.Code
}

var cashier = &models.JWTClaims{UserID: "staff-1", Role: models.RoleStaff}

const (
	collectionID        = "7f3e9a21-4c8b-4d2e-9f1a-6b5c3d2e1f00"
	missingCollectionID = "2b4d6f80-1a3c-4e5f-8a7b-9c0d1e2f3a4b"
)

type feeCollectionServiceMock struct {
	collectReq   dto.CollectFeeRequest
	collectStaff string
	collectResp  *models.CollectionResult
	collectErr   error
	verifyErr    error
	verifyCalls  int
	historyID    string
	amendReq     dto.AmendCollectionRequest
	receipt      *models.ReceiptView
	pdf          []byte
	checkCode    string
	listQuery    dto.CollectionQuery
	exportQuery  dto.CollectionQuery
}

func (m *feeCollectionServiceMock) BuildAndCollect(ctx context.Context, req dto.CollectFeeRequest, staffID string) (*models.CollectionResult, error) {
	m.collectReq = req
	m.collectStaff = staffID
	return m.collectResp, m.collectErr
}

func (m *feeCollectionServiceMock) Verify(ctx context.Context, collectionID, adminID string) (*models.FeeCollection, error) {
	m.verifyCalls++
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	now := time.Now()
	return &models.FeeCollection{ID: collectionID, IsVerified: true, VerifiedByAdminID: &adminID, VerifiedAt: &now}, nil
}

func (m *feeCollectionServiceMock) Amend(ctx context.Context, collectionID string, req dto.AmendCollectionRequest, actorID string) (*models.FeeCollection, error) {
	m.amendReq = req
	return &models.FeeCollection{ID: collectionID}, nil
}

func (m *feeCollectionServiceMock) GetReceipt(ctx context.Context, collectionID string) (*models.ReceiptView, error) {
	if m.receipt == nil {
		return nil, appErrors.Clone(appErrors.ErrReceiptNotFound, "")
	}
	return m.receipt, nil
}

func (m *feeCollectionServiceMock) ReceiptPDF(ctx context.Context, collectionID string) ([]byte, string, error) {
	return m.pdf, "SMA-2024-000001.pdf", nil
}

func (m *feeCollectionServiceMock) History(ctx context.Context, collectionID string) ([]models.AuditLog, error) {
	m.historyID = collectionID
	if collectionID == missingCollectionID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "fee collection not found")
	}
	return []models.AuditLog{{ID: "audit-2", Action: models.AuditActionFeeVerify}, {ID: "audit-1", Action: models.AuditActionFeeCollect}}, nil
}

func (m *feeCollectionServiceMock) CheckReceiptCode(ctx context.Context, receiptNumber, code string) (*models.ReceiptCheck, error) {
	m.checkCode = code
	return &models.ReceiptCheck{ReceiptNumber: receiptNumber, Valid: code == "abc"}, nil
}

func (m *feeCollectionServiceMock) ListCollections(ctx context.Context, query dto.CollectionQuery) ([]models.FeeCollection, *models.Pagination, error) {
	m.listQuery = query
	return []models.FeeCollection{{ID: "col-1"}}, &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: 1}, nil
}

func (m *feeCollectionServiceMock) ExportCollectionsCSV(ctx context.Context, query dto.CollectionQuery) ([]byte, error) {
	m.exportQuery = query
	return []byte("receipt_number\nSMA-2024-000001\n"), nil
}

func (m *feeCollectionServiceMock) ExportCollectionsPDF(ctx context.Context, query dto.CollectionQuery) ([]byte, error) {
	m.exportQuery = query
	return []byte("%PDF-1.3"), nil
}

func TestFeeCollectionHandlerCollect(t *testing.T) {
	svc := &feeCollectionServiceMock{collectResp: &models.CollectionResult{CollectionID: "col-1", ReceiptNumber: "SMA-2024-000001", Amount: decimal.RequireFromString("3000")}}
	h := NewFeeCollectionHandler(svc)

	body := `{"student_id":"stu-1","payment_mode":"cash","amount":"3000","pending":{"assignment_id":"asg-1"}}`
	c, w := feeTestContext(http.MethodPost, "/fees/collections", bytes.NewBufferString(body), cashier)
	h.Collect(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "staff-1", svc.collectStaff)
	require.NotNil(t, svc.collectReq.Pending)
	assert.Equal(t, "asg-1", svc.collectReq.Pending.AssignmentID)
	assert.True(t, svc.collectReq.Amount.Equal(decimal.RequireFromString("3000")))

	var env struct {
		Data models.CollectionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "SMA-2024-000001", env.Data.ReceiptNumber)
	assert.Equal(t, `"3000"`, string(mustJSON(t, env.Data.Amount)))
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestFeeCollectionHandlerCollectErrors(t *testing.T) {
	h := NewFeeCollectionHandler(&feeCollectionServiceMock{collectErr: appErrors.Clone(appErrors.ErrOverpayment, "")})

	c, w := feeTestContext(http.MethodPost, "/fees/collections", bytes.NewBufferString(`{"student_id":"stu-1","payment_mode":"cash","amount":"9999"}`), cashier)
	h.Collect(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, appErrors.ErrOverpayment.Code, errorCode(t, w))

	c, w = feeTestContext(http.MethodPost, "/fees/collections", bytes.NewBufferString(`{"student_id":`), cashier)
	h.Collect(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = feeTestContext(http.MethodPost, "/fees/collections", bytes.NewBufferString(`{}`), nil)
	h.Collect(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFeeCollectionHandlerVerifyAndAmend(t *testing.T) {
	svc := &feeCollectionServiceMock{}
	h := NewFeeCollectionHandler(svc)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, w := feeTestContext(http.MethodPost, "/fees/collections/"+collectionID+"/verify", nil, admin, gin.Param{Key: "id", Value: collectionID})
	h.Verify(c)
	require.Equal(t, http.StatusOK, w.Code)

	svc.verifyErr = appErrors.Clone(appErrors.ErrAlreadyVerified, "")
	c, w = feeTestContext(http.MethodPost, "/fees/collections/"+collectionID+"/verify", nil, admin, gin.Param{Key: "id", Value: collectionID})
	h.Verify(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrAlreadyVerified.Code, errorCode(t, w))

	c, w = feeTestContext(http.MethodPatch, "/fees/collections/"+collectionID, bytes.NewBufferString(`{"remarks":"dibayar oleh wali"}`), cashier, gin.Param{Key: "id", Value: collectionID})
	h.Amend(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.amendReq.Remarks)
	assert.Equal(t, "dibayar oleh wali", *svc.amendReq.Remarks)
	assert.Nil(t, svc.amendReq.ReferenceNumber)
}

func TestFeeCollectionHandlerRejectsMalformedCollectionIDs(t *testing.T) {
	svc := &feeCollectionServiceMock{receipt: &models.ReceiptView{ReceiptNumber: "SMA-2024-000001"}}
	h := NewFeeCollectionHandler(svc)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, w := feeTestContext(http.MethodPost, "/fees/collections/col-1/verify", nil, admin, gin.Param{Key: "id", Value: "col-1"})
	h.Verify(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(t, w))
	assert.Zero(t, svc.verifyCalls)

	c, w = feeTestContext(http.MethodPatch, "/fees/collections/1", bytes.NewBufferString(`{"remarks":"x"}`), cashier, gin.Param{Key: "id", Value: "1"})
	h.Amend(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	c, w = feeTestContext(http.MethodGet, "/fees/collections/bad/receipt", nil, cashier, gin.Param{Key: "id", Value: "x'--"})
	h.Receipt(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrReceiptNotFound.Code, errorCode(t, w))

	c, w = feeTestContext(http.MethodGet, "/fees/collections/abc/receipt.pdf", nil, cashier, gin.Param{Key: "id", Value: "abc"})
	h.ReceiptPDF(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeeCollectionHandlerHistory(t *testing.T) {
	svc := &feeCollectionServiceMock{}
	h := NewFeeCollectionHandler(svc)
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	c, w := feeTestContext(http.MethodGet, "/fees/collections/"+collectionID+"/history", nil, admin, gin.Param{Key: "id", Value: collectionID})
	h.History(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, collectionID, svc.historyID)
	var env struct {
		Data []models.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data, 2)
	assert.Equal(t, models.AuditActionFeeVerify, env.Data[0].Action)

	c, w = feeTestContext(http.MethodGet, "/fees/collections/"+missingCollectionID+"/history", nil, admin, gin.Param{Key: "id", Value: missingCollectionID})
	h.History(c)
	require.Equal(t, http.StatusNotFound, w.Code)

	svc.historyID = ""
	c, w = feeTestContext(http.MethodGet, "/fees/collections/col-1/history", nil, admin, gin.Param{Key: "id", Value: "col-1"})
	h.History(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, svc.historyID)
}

func TestFeeCollectionHandlerReceipts(t *testing.T) {
	svc := &feeCollectionServiceMock{pdf: []byte("%PDF-1.3")}
	h := NewFeeCollectionHandler(svc)

	c, w := feeTestContext(http.MethodGet, "/fees/collections/"+missingCollectionID+"/receipt", nil, cashier, gin.Param{Key: "id", Value: missingCollectionID})
	h.Receipt(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrReceiptNotFound.Code, errorCode(t, w))

	svc.receipt = &models.ReceiptView{CollectionID: "col-1", ReceiptNumber: "SMA-2024-000001"}
	c, w = feeTestContext(http.MethodGet, "/fees/collections/"+collectionID+"/receipt", nil, cashier, gin.Param{Key: "id", Value: collectionID})
	h.Receipt(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, w = feeTestContext(http.MethodGet, "/fees/collections/"+collectionID+"/receipt.pdf", nil, cashier, gin.Param{Key: "id", Value: collectionID})
	h.ReceiptPDF(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "SMA-2024-000001.pdf")

	c, w = feeTestContext(http.MethodGet, "/fees/receipts/SMA-2024-000001/check", nil, nil, gin.Param{Key: "receiptNumber", Value: "SMA-2024-000001"})
	h.CheckReceipt(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = feeTestContext(http.MethodGet, "/fees/receipts/SMA-2024-000001/check?code=abc", nil, nil, gin.Param{Key: "receiptNumber", Value: "SMA-2024-000001"})
	h.CheckReceipt(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", svc.checkCode)
}

func TestFeeCollectionHandlerListAndExport(t *testing.T) {
	svc := &feeCollectionServiceMock{}
	h := NewFeeCollectionHandler(svc)
	h.now = func() time.Time { return time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC) }

	c, w := feeTestContext(http.MethodGet, "/fees/collections?studentId=stu-1&verified=false&page=2&limit=50&from=2024-06-01", nil, cashier)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", svc.listQuery.StudentID)
	require.NotNil(t, svc.listQuery.Verified)
	assert.False(t, *svc.listQuery.Verified)
	assert.Equal(t, 2, svc.listQuery.Page)
	assert.Equal(t, 50, svc.listQuery.PageSize)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)

	c, w = feeTestContext(http.MethodGet, "/fees/collections?verified=maybe", nil, cashier)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = feeTestContext(http.MethodGet, "/fees/collections/export.csv?paymentMode=upi", nil, cashier)
	h.ExportCSV(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PaymentMode("upi"), svc.exportQuery.PaymentMode)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "fee-collections-20240630.csv")
	assert.Contains(t, w.Body.String(), "SMA-2024-000001")

	c, w = feeTestContext(http.MethodGet, "/fees/collections/export.pdf?from=2024-06-01&to=2024-06-30", nil, cashier)
	h.ExportPDF(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-06-30", svc.exportQuery.To)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "fee-collections-20240630.pdf")
}
