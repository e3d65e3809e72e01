package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/school-system/exams/internal/services"
)

// TokenVerifier is satisfied by services.AuthService.
type TokenVerifier interface {
	VerifyToken(token string) (*services.Claims, error)
}

func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims, err := verifier.VerifyToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		if claims.SchoolID != nil {
			c.Set("school_id", claims.SchoolID.String())
		}
		c.Set("user_role", claims.Role)
		c.Set("user_name", claims.Name)
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("user_role")
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

func RequireAdmin() gin.HandlerFunc {
	return RequireRole("system_admin", "school_admin", "admin")
}

// RequireStaff admits every role that may enter marks.
func RequireStaff() gin.HandlerFunc {
	return RequireRole("system_admin", "school_admin", "admin", "class_teacher", "teacher", "subject_teacher")
}

// RequireVerifier admits roles that can verify submitted marks.
func RequireVerifier() gin.HandlerFunc {
	return RequireRole("system_admin", "school_admin", "admin", "class_teacher")
}
