package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/tidwall/sjson"

	"github.com/JillVernus/chat-relay/internal/meter"
	"github.com/JillVernus/chat-relay/internal/pubsub"
)

// EventType enumerates the events a subscriber can receive
type EventType string

const (
	EventDelta       EventType = "delta"
	EventUsageUpdate EventType = "usageUpdate"
	EventError       EventType = "error"
	EventComplete    EventType = "complete"
)

// StreamEvent is the payload published to the user's channel
type StreamEvent struct {
	Type         EventType           `json:"type"`
	Delta        string              `json:"delta,omitempty"`
	Usage        []meter.WindowUsage `json:"usage,omitempty"`
	ErrorKind    string              `json:"errorKind,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	CacheHit     bool                `json:"cacheHit,omitempty"`
	InputTokens  int64               `json:"inputTokens,omitempty"`
	OutputTokens int64               `json:"outputTokens,omitempty"`
}

// ChannelFor returns the pubsub channel carrying a user's stream events
func ChannelFor(userID string) string {
	return "chat/" + userID
}

// publisher enriches events with request identity before fan-out. Every
// payload carries conversationId and requestId so subscribers can multiplex
// concurrent conversations on one channel.
type publisher struct {
	broadcaster    *pubsub.Broadcaster
	channel        string
	conversationID string
	requestID      string
}

func (p *publisher) publish(ev StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("⚠️ [Relay] Failed to encode %s event: %v", ev.Type, err)
		return
	}
	payload, _ = sjson.SetBytes(payload, "conversationId", p.conversationID)
	payload, _ = sjson.SetBytes(payload, "requestId", p.requestID)
	payload, _ = sjson.SetBytes(payload, "timestamp", time.Now().UnixMilli())

	p.broadcaster.Publish(p.channel, payload)
}
