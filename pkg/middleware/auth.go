package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderAdminToken carries the operator token for admin routes.
const HeaderAdminToken = "X-Admin-Token"

// AdminTokenMiddleware guards operator routes. An empty expected token
// disables the routes entirely.
func AdminTokenMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedToken == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, errorBody("Not found"))
			return
		}

		token := c.GetHeader(HeaderAdminToken)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("No admin token"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("Invalid admin token"))
			return
		}

		c.Next()
	}
}

func errorBody(msg string) gin.H {
	return gin.H{
		"success":   false,
		"error":     msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}
