package middleware

import (
	"errors"
	"net/http"
	"strings"

	"rillcast/internal/core/services"
	apperrors "rillcast/pkg/errors"
	"rillcast/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	operatorKey = "operator"
	claimsKey   = "claims"
)

// OperatorAuth requires a bearer token whose role is at least required. With
// auth disabled it passes every request through.
func OperatorAuth(authService services.AuthService, enabled bool, required services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, services.ErrExpiredToken) {
				msg = "token expired"
			}
			abortWithError(c, apperrors.NewUnauthorizedError(msg))
			return
		}

		if err := authService.Authorize(claims, required); err != nil {
			abortWithError(c, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "insufficient role", http.StatusForbidden))
			return
		}

		c.Set(operatorKey, claims.Operator)
		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(logger.WithOperator(c.Request.Context(), claims.Operator))
		c.Next()
	}
}

// Operator returns the authenticated operator, if any.
func Operator(c *gin.Context) string {
	return c.GetString(operatorKey)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	// Browsers cannot set headers on a websocket upgrade.
	if t := c.Query("access_token"); t != "" {
		return t, true
	}
	return "", false
}
