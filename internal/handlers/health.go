package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/JillVernus/chat-relay/internal/database"
)

// HealthCheck returns basic liveness plus store reachability
func HealthCheck(db database.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "healthy"})
	}
}
