package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/posnetek/backend/internal/auth"
	"github.com/posnetek/backend/pkg/response"
)

// ContextUserID is the key for user ID (uuid.UUID) in gin context.
const ContextUserID = "user_id"

// TokenValidator validates a bearer token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates the provider access token and sets the user in context.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, response.CodeUnauthorized)
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, response.CodeUnauthorized)
			c.Abort()
			return
		}
		claims, err := validator.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, response.CodeUnauthorized)
			c.Abort()
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			response.Unauthorized(c, response.CodeUnauthorized)
			c.Abort()
			return
		}
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID returns the authenticated user set by JWT, or false when absent.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}
