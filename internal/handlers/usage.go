package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JillVernus/chat-relay/internal/emitter"
	"github.com/JillVernus/chat-relay/internal/meter"
)

// Usage reports a user's current per-window usage and limits
func Usage(m *meter.Meter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		snapshot, err := m.Usage(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to read usage"})
			return
		}
		c.JSON(200, gin.H{
			"userId":  userID,
			"windows": snapshot,
		})
	}
}

// Completions lists a user's recent completion records
func Completions(e *emitter.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		records, err := e.Recent(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to read completion records"})
			return
		}
		if records == nil {
			records = []emitter.CompletionRecord{}
		}
		c.JSON(200, gin.H{
			"userId":  userID,
			"records": records,
		})
	}
}
