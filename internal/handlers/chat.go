// Package handlers exposes the relay over HTTP.
package handlers

import (
	"context"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/JillVernus/chat-relay/internal/config"
	"github.com/JillVernus/chat-relay/internal/model"
	"github.com/JillVernus/chat-relay/internal/relay"
)

// Chat accepts a conversation turn and runs it through the relay. The
// response is 202 with the request identity; the actual stream arrives on
// the caller's subscription channel.
func Chat(r *relay.Relay, envCfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(400, gin.H{"error": "Failed to read request body"})
			return
		}

		userID := strings.TrimSpace(gjson.GetBytes(body, "userId").String())
		content := gjson.GetBytes(body, "content").String()
		if userID == "" || content == "" {
			c.JSON(400, gin.H{"error": "userId and content are required"})
			return
		}

		modelID := gjson.GetBytes(body, "modelId").String()
		if modelID == "" {
			modelID = envCfg.DefaultModelID
		}

		var history []model.Message
		gjson.GetBytes(body, "history").ForEach(func(_, turn gjson.Result) bool {
			history = append(history, model.Message{
				Role:    turn.Get("role").String(),
				Content: turn.Get("content").String(),
			})
			return true
		})

		req := relay.ChatRequest{
			RequestID:      uuid.NewString(),
			UserID:         userID,
			ConversationID: gjson.GetBytes(body, "conversationId").String(),
			ModelID:        modelID,
			History:        history,
			Content:        content,
		}
		if req.ConversationID == "" {
			req.ConversationID = uuid.NewString()
		}

		ctx, cancel := context.WithTimeout(context.Background(), envCfg.RequestTimeout)
		go func() {
			defer cancel()
			r.Handle(ctx, req)
		}()

		log.Printf("📨 Chat request %s accepted for %s (model %s)", req.RequestID, userID, modelID)
		c.JSON(202, gin.H{
			"requestId":      req.RequestID,
			"conversationId": req.ConversationID,
			"channel":        relay.ChannelFor(userID),
		})
	}
}
