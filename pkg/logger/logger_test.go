package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-fee-api/pkg/middleware/requestid"
)

func TestGinMiddlewareLevelsAndFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(requestid.Middleware(), GinMiddleware(zap.New(core)))
	r.POST("/fees/collections", func(c *gin.Context) {
		SetActor(c, "staff-1")
		c.Status(http.StatusUnprocessableEntity)
	})
	r.GET("/fees/collections/:id/receipt", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/fees/collections", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fees/collections/col-1/receipt", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	rejected := entries[0]
	assert.Equal(t, zapcore.WarnLevel, rejected.Level)
	fields := rejected.ContextMap()
	assert.Equal(t, "staff-1", fields["user_id"])
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, int64(http.StatusUnprocessableEntity), fields["status"])

	read := entries[1]
	assert.Equal(t, zapcore.InfoLevel, read.Level)
	assert.Equal(t, "/fees/collections/:id/receipt", read.ContextMap()["route"])
	assert.NotContains(t, read.ContextMap(), "user_id")
}
