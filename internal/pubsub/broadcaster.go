// Package pubsub fans out stream events to subscribers of named channels.
package pubsub

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

const (
	maxSubscribersPerChannel = 100
	subscriberBuffer         = 100
)

// Message is one event delivered on a channel, already encoded as JSON
type Message struct {
	Channel string
	Payload []byte
}

// Broadcaster routes messages to everyone subscribed to the same channel
// name. Delivery is non-blocking: a subscriber that stops draining its
// buffer loses events instead of stalling the publisher.
type Broadcaster struct {
	mu       sync.RWMutex
	channels map[string]map[string]chan Message
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		channels: make(map[string]map[string]chan Message),
	}
}

// Subscribe attaches to a named channel. Returns ("", nil) when the channel
// is at capacity.
func (b *Broadcaster) Subscribe(channel string) (string, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	if subs == nil {
		subs = make(map[string]chan Message)
		b.channels[channel] = subs
	}
	if len(subs) >= maxSubscribersPerChannel {
		log.Printf("⚠️ Channel %s at capacity (%d subscribers)", channel, maxSubscribersPerChannel)
		return "", nil
	}

	subID := "sub_" + uuid.NewString()
	ch := make(chan Message, subscriberBuffer)
	subs[subID] = ch

	log.Printf("📡 Subscriber %s joined channel %s (total: %d)", subID, channel, len(subs))
	return subID, ch
}

// Unsubscribe detaches a subscriber and closes its channel
func (b *Broadcaster) Unsubscribe(channel, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	if subs == nil {
		return
	}
	if ch, ok := subs[subID]; ok {
		close(ch)
		delete(subs, subID)
		log.Printf("📡 Subscriber %s left channel %s (total: %d)", subID, channel, len(subs))
	}
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
}

// Publish delivers a payload to every subscriber of the channel. Events
// published by one goroutine arrive at each subscriber in publish order.
func (b *Broadcaster) Publish(channel string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.channels[channel] {
		select {
		case ch <- Message{Channel: channel, Payload: payload}:
		default:
			log.Printf("⚠️ Subscriber %s on %s is full, dropping event", subID, channel)
		}
	}
}

// SubscriberCount returns how many subscribers a channel currently has
func (b *Broadcaster) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}
