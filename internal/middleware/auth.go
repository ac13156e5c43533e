package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/pkg/apperr"
	"github.com/iridiumtao/NYU-Marketplace/pkg/auth"
)

// AuthMiddleware validates JWT tokens and injects the verified user ID
// into the request context. The chat core trusts only this identifier;
// everything else about identity is the identity service's problem.
func AuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, apperr.Unauthorized("Authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, apperr.Unauthorized("Invalid authorization format. Use: Bearer <token>"))
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, apperr.Unauthorized("Invalid or expired token"))
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
		Error:   string(apperr.CodeOf(err)),
		Message: apperr.MessageOf(err),
	})
}
