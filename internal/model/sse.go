package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPClient talks to an Anthropic-style streaming messages endpoint
type HTTPClient struct {
	endpoint       string
	apiKey         string
	safetyFilterID string
	httpClient     *http.Client
}

// NewHTTPClient creates an SSE model client
func NewHTTPClient(endpoint, apiKey, safetyFilterID string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint:       endpoint,
		apiKey:         apiKey,
		safetyFilterID: safetyFilterID,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

type sseRequestBody struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Stream         bool      `json:"stream"`
	MaxTokens      int       `json:"max_tokens"`
	SafetyFilterID string    `json:"safety_filter_id,omitempty"`
}

// Converse opens a streaming generation. The returned stream ends with a
// usage chunk followed by io.EOF.
func (c *HTTPClient) Converse(ctx context.Context, req Request) (Stream, error) {
	filterID := req.SafetyFilterID
	if filterID == "" {
		filterID = c.safetyFilterID
	}

	body, err := json.Marshal(sseRequestBody{
		Model:          req.ModelID,
		Messages:       req.Messages,
		Stream:         true,
		MaxTokens:      4096,
		SafetyFilterID: filterID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	return &sseStream{body: resp.Body, scanner: scanner}, nil
}

// sseStream decodes the upstream event stream line by line
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	usage   Usage
	done    bool
}

// Recv returns the next text fragment. The message_stop event yields the
// accumulated usage as the final chunk, then io.EOF.
func (s *sseStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		switch gjson.Get(payload, "type").String() {
		case "message_start":
			if v := gjson.Get(payload, "message.usage.input_tokens"); v.Exists() {
				s.usage.InputTokens = v.Int()
			}
		case "content_block_delta":
			if text := gjson.Get(payload, "delta.text").String(); text != "" {
				return Chunk{Text: text}, nil
			}
		case "message_delta":
			if v := gjson.Get(payload, "usage.output_tokens"); v.Exists() {
				s.usage.OutputTokens = v.Int()
			}
			if v := gjson.Get(payload, "usage.input_tokens"); v.Exists() {
				s.usage.InputTokens = v.Int()
			}
		case "message_stop":
			s.done = true
			u := s.usage
			return Chunk{Usage: &u}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Chunk{}, fmt.Errorf("upstream stream broken: %w", err)
	}

	// Stream ended without message_stop; surface what we have.
	s.done = true
	u := s.usage
	return Chunk{Usage: &u}, nil
}

// Close releases the underlying response body
func (s *sseStream) Close() error {
	return s.body.Close()
}
