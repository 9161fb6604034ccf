package middleware

import (
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging

	"nano_storage/internal/utils" // Service token utilities
)

// ServiceTokenMiddleware validates service tokens and requires scope
func ServiceTokenMiddleware(secret, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization") // Get Authorization header
		// Check if the Authorization header is present and properly formatted
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			// If not, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")    // Extract the token string and parse it
		claims, err := utils.ParseServiceToken(tokenStr, secret) // Parse the service token
		if err != nil {
			// If parsing fails, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		// Check the token grants this route's scope
		if !claims.HasScope(scope) {
			logrus.WithFields(logrus.Fields{"subject": claims.Subject, "scope": scope}).Warn("Service token missing scope")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": utils.ErrScope.Error()})
			return
		}
		c.Set("service", claims.Subject) // Store calling service in context
		c.Next()                         // Proceed to the next handler
	}
}
