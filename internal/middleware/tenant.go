package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TenantMiddleware ensures data isolation by school. System admins have no
// school of their own and pick one with ?school_id=.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolIDStr := c.GetString("school_id")
		if c.GetString("user_role") == "system_admin" {
			schoolIDStr = c.Query("school_id")
			if schoolIDStr == "" {
				c.Next()
				return
			}
		}

		if schoolIDStr == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied: No school assigned"})
			return
		}
		schoolID, err := uuid.Parse(schoolIDStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid school ID"})
			return
		}

		c.Set("tenant_school_id", schoolID)
		c.Next()
	}
}

// TenantSchoolID returns the school resolved by TenantMiddleware.
func TenantSchoolID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("tenant_school_id")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
