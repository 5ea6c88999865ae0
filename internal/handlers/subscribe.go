package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/JillVernus/chat-relay/internal/pubsub"
	"github.com/JillVernus/chat-relay/internal/relay"
)

// Subscribe bridges a user's event channel onto an SSE response. Channel
// authorization happens in middleware before this runs.
func Subscribe(b *pubsub.Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userID")
		channel := relay.ChannelFor(userID)

		subID, events := b.Subscribe(channel)
		if subID == "" {
			c.JSON(503, gin.H{"error": "Channel at capacity"})
			return
		}
		defer b.Unsubscribe(channel, subID)

		// Probe before committing the response: once the 200 and the SSE
		// headers are written no JSON error can follow.
		flusher, ok := c.Writer.(interface{ Flush() })
		if !ok {
			c.JSON(500, gin.H{"error": "Streaming unsupported"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(200)

		clientGone := c.Request.Context().Done()
		for {
			select {
			case <-clientGone:
				return
			case msg, open := <-events:
				if !open {
					return
				}
				fmt.Fprintf(c.Writer, "data: %s\n\n", msg.Payload)
				flusher.Flush()
			}
		}
	}
}
