// Package model defines the upstream conversation client contract and an
// HTTP SSE implementation.
package model

import "context"

// Message is one turn of conversation history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting reported by the upstream at stream end
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Request describes one generation call
type Request struct {
	ModelID  string    `json:"modelId"`
	Messages []Message `json:"messages"`
	// SafetyFilterID selects an upstream content safety configuration.
	// Empty means the upstream default.
	SafetyFilterID string `json:"safetyFilterId,omitempty"`
}

// Chunk is one unit received from a stream: a text fragment, or the final
// usage summary when Usage is non-nil
type Chunk struct {
	Text  string
	Usage *Usage
}

// Stream yields chunks until io.EOF. Context cancellation on the parent
// request aborts the stream mid-flight.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client opens generation streams against an upstream model
type Client interface {
	Converse(ctx context.Context, req Request) (Stream, error)
}
