package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Role and user identity arrive from the fronting gateway as trusted headers.
// This service does not authenticate; it only enforces the role split between
// the client, kitchen, courier and admin surfaces.
const (
	HeaderRole   = "X-Role"
	HeaderUserID = "X-User-Id"

	RoleAdmin   = "admin"
	RoleKitchen = "kitchen"
	RoleCourier = "courier"
)

func roleOf(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderRole))
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetHeader(HeaderRole))
		if role == RoleAdmin {
			c.Next()
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrUnauthorized)
	}
}
