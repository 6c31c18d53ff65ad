package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	trequire "github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
)

type staticValidator map[string]*models.JWTClaims

func (v staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := v[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

func newGuardedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	validator := staticValidator{
		"cashier-token": {UserID: "staff-1", Role: models.RoleStaff},
		"admin-token":   {UserID: "admin-1", Role: models.RoleAdmin},
		"teacher-token": {UserID: "teacher-1", Role: models.RoleTeacher},
	}
	r := gin.New()
	secured := r.Group("", JWT(validator))
	secured.GET("/fees/collections", RequireFeeDesk(), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).UserID)
	})
	secured.POST("/fees/collections/:id/verify", RequireFeeVerifier(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	secured.GET("/metrics/snapshot", RequireRoles(models.RoleSuperAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndRoleGuards(t *testing.T) {
	r := newGuardedRouter()

	cases := []struct {
		name   string
		method string
		path   string
		auth   string
		status int
	}{
		{"missing header", http.MethodGet, "/fees/collections", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/fees/collections", "Basic cashier-token", http.StatusUnauthorized},
		{"empty bearer", http.MethodGet, "/fees/collections", "Bearer ", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/fees/collections", "Bearer forged", http.StatusUnauthorized},
		{"cashier reads ledger", http.MethodGet, "/fees/collections", "bearer cashier-token", http.StatusOK},
		{"teacher has no desk access", http.MethodGet, "/fees/collections", "Bearer teacher-token", http.StatusForbidden},
		{"cashier cannot verify", http.MethodPost, "/fees/collections/col-1/verify", "Bearer cashier-token", http.StatusForbidden},
		{"admin verifies", http.MethodPost, "/fees/collections/col-1/verify", "Bearer admin-token", http.StatusOK},
		{"admin is not superadmin", http.MethodGet, "/metrics/snapshot", "Bearer admin-token", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, tc.method, tc.path, tc.auth)
			assert.Equal(t, tc.status, w.Code)
		})
	}

	w := serve(r, http.MethodGet, "/fees/collections", "Bearer cashier-token")
	assert.Equal(t, "staff-1", w.Body.String())
}

func TestRoleGuardWithoutJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/fees/collections", RequireFeeDesk(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/fees/collections", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type observedRequest struct {
	method string
	path   string
	status int
}

type requestRecorder struct {
	seen []observedRequest
}

func (r *requestRecorder) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.seen = append(r.seen, observedRequest{method: method, path: path, status: status})
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &requestRecorder{}
	r := gin.New()
	r.Use(Metrics(recorder))
	r.GET("/fees/collections/:id/receipt", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/fees/collections/col-1/receipt", "")
	serve(r, http.MethodGet, "/wp-admin/setup.php", "")

	trequire.Len(t, recorder.seen, 2)
	assert.Equal(t, observedRequest{http.MethodGet, "/fees/collections/:id/receipt", http.StatusOK}, recorder.seen[0])
	assert.Equal(t, observedRequest{http.MethodGet, unmatchedRoute, http.StatusNotFound}, recorder.seen[1])
}

func TestCurrentUserIgnoresForeignValues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, CurrentUser(c))
	c.Set(ContextUserKey, errors.New("not claims"))
	assert.Nil(t, CurrentUser(c))
}
