package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// RequireRoles admits callers whose role is one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return require(func(role models.UserRole) bool {
		_, ok := allowed[role]
		return ok
	})
}

// RequireFeeDesk admits roles that may read the ledger and post collections.
func RequireFeeDesk() gin.HandlerFunc {
	return require(models.UserRole.CanCollectFees)
}

// RequireFeeVerifier admits roles that may verify collections and manage the fee catalog.
func RequireFeeVerifier() gin.HandlerFunc {
	return require(models.UserRole.CanVerifyFees)
}

func require(allow func(models.UserRole) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentUser(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !allow(claims.Role) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
