package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Envelope wraps every successful response.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
	CacheHit  bool   `json:"cache_hit"`
	Stale     bool   `json:"stale,omitempty"`
}

// ErrorEnvelope wraps every handler error.
type ErrorEnvelope struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func respond(c *gin.Context, status int, data any, cacheHit, stale bool) {
	c.JSON(status, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: timestamp(),
		CacheHit:  cacheHit,
		Stale:     stale,
	})
}

func fail(c *gin.Context, status int, msg string, details map[string]any) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Success:   false,
		Error:     msg,
		Timestamp: timestamp(),
		Details:   details,
	})
}
