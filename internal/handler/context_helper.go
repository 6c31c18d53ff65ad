package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/sma-fee-api/internal/middleware"
	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// requireClaims returns the caller's claims or writes a 401 and reports false.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := middleware.CurrentUser(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// pathID returns the named path parameter when it is a well-formed id. Anything else cannot name a
// stored record, so missing is written as the response and false is reported.
func pathID(c *gin.Context, name string, missing *appErrors.Error) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		response.Error(c, missing)
		return "", false
	}
	return id, true
}
