package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidflow/internal/logger"
)

// OwnerHeader carries the already-authenticated user identity.
const OwnerHeader = "X-User-ID"

const ownerKey = "owner_id"

// RequireOwner rejects requests without an owner header with 401 and tags the request logger with the owner.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(OwnerHeader)
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing " + OwnerHeader + " header"})
			return
		}
		c.Set(ownerKey, owner)
		ctx := logger.SetOwner(c.Request.Context(), owner)
		c.Request = c.Request.WithContext(ctx)
		c.Set("logger", logger.FromContext(ctx))
		c.Next()
	}
}

// OwnerID returns the owner set by RequireOwner, falling back to the raw header.
func OwnerID(c *gin.Context) string {
	if v, ok := c.Get(ownerKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.GetHeader(OwnerHeader)
}
